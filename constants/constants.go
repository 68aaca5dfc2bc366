package constants

const (
	ConfigFilePath string = "config/config.yaml"
	ParamsFilePath string = "params.yaml"

	ConfigFileEnv string = "CTSCAN_CONFIG"
	ParamsFileEnv string = "CTSCAN_PARAMS"

	DefaultModelName string = "default"
	DefaultAddr      string = ":18080"

	DefaultMultiClassMax int = 5
	TrainEpochs          int = 10
	DefaultBatchSize     int = 16

	MaxMultipartMemory int64 = 8 << 20
)
