package config

const (
	defaultDataDir              = "~/.local/share/facet/data"
	defaultStagingDir           = "~/.local/share/facet/staging"
	defaultLogDir               = "~/.local/share/facet/logs"
	defaultTimeoutLow           = 1800
	defaultTimeoutMedium        = 3600
	defaultTimeoutHigh          = 10800
	defaultCancelGrace          = 10
	defaultOutputTailLines      = 40
	defaultMaxGlobal            = 2
	defaultMaxPerOwner          = 1
	defaultStorageRetries       = 3
	defaultRetentionWindowHours = 168
	defaultSweepIntervalMinutes = 30
	defaultQueuePollInterval    = 5
	defaultErrorRetryInterval   = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Pipeline: Pipeline{
			TimeoutLow:      defaultTimeoutLow,
			TimeoutMedium:   defaultTimeoutMedium,
			TimeoutHigh:     defaultTimeoutHigh,
			CancelGrace:     defaultCancelGrace,
			OutputTailLines: defaultOutputTailLines,
		},
		Concurrency: Concurrency{
			MaxGlobal:   defaultMaxGlobal,
			MaxPerOwner: defaultMaxPerOwner,
		},
		Storage: Storage{
			MirrorKinds:   []string{"model"},
			RetryAttempts: defaultStorageRetries,
		},
		Retention: Retention{
			WindowHours:          defaultRetentionWindowHours,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
