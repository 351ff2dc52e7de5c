package config

const (
	defaultDataDir               = "~/.local/share/quantpipe"
	defaultLogDir                = "~/.local/share/quantpipe/logs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultWorkerPoolSize        = 8
	defaultProcessorTimeout      = 120
	defaultCheckpointInterval    = 25
	defaultMaxTransientRetries   = 3
	defaultMaxComputationRetries = 1
	defaultBackoffInitialMS      = 500
	defaultBackoffMaxMS          = 60000
	defaultMinBarCount           = 250
	defaultMinValidationQuality  = 0.90
	defaultMaxValidationIssues   = 0
	defaultMaxMissingIndicators  = 0
	defaultMinSignalQuality      = 0.80
	defaultMinScoringQuality     = 0.80
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Workflow: Workflow{
			WorkerPoolSize:        defaultWorkerPoolSize,
			ProcessorTimeout:      defaultProcessorTimeout,
			CheckpointInterval:    defaultCheckpointInterval,
			MaxTransientRetries:   defaultMaxTransientRetries,
			MaxComputationRetries: defaultMaxComputationRetries,
			BackoffInitialMS:      defaultBackoffInitialMS,
			BackoffMaxMS:          defaultBackoffMaxMS,
		},
		Gates: Gates{
			MinBarCount:          defaultMinBarCount,
			MinValidationQuality: defaultMinValidationQuality,
			MaxValidationIssues:  defaultMaxValidationIssues,
			MaxMissingIndicators: defaultMaxMissingIndicators,
			MinSignalQuality:     defaultMinSignalQuality,
			MinScoringQuality:    defaultMinScoringQuality,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
