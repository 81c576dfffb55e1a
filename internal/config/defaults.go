package config

const (
	defaultStateDir              = "~/.local/share/decklens"
	defaultLogDir                = "~/.local/share/decklens/logs"
	defaultCatalogFile           = "~/.local/share/decklens/catalog.json"
	defaultStorageBackend        = "sqlite"
	defaultSQLiteFile            = "decklens.db"
	defaultRedisPrefix           = "decklens"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultMetricsNamespace      = "decklens"
	defaultPipelineVersion       = "v1"
	defaultResolveWorkers        = 8
	defaultFallbackTimeout       = 30
	defaultPrimaryEngine         = "tesseract"
	defaultFallbackEngine        = "tesseract-lstm"
	defaultEngineTimeout         = 20
	defaultBreakerWindow         = 900
	defaultBreakerBuckets        = 15
	defaultBreakerRateCeiling    = 0.15
	defaultBreakerMinWindowJobs  = 20
	defaultBreakerAdjustStep     = 0.05
	defaultBreakerMaxAdjust      = 0.20
	defaultBreakerFailures       = 5
	defaultBreakerCooldown       = 60
	defaultBreakerBackoff        = 2.0
	defaultBreakerMaxCooldown    = 900
	defaultLockTTL               = 300
	defaultExecTimeout           = 120
	defaultJoinTimeout           = 60
	defaultHeartbeatInterval     = 30
	defaultPollIntervalMS        = 250
	defaultAcceptanceThreshold   = 0.90
	defaultAmbiguityMargin       = 0.02
	defaultTopK                  = 5
	defaultMaxCandidates         = 64
	defaultExactTTLDays          = 30
	defaultFuzzyTTLDays          = 7
	defaultRemoteTTLDays         = 30
	defaultRemoteTimeout         = 5
	defaultRemoteMaxRetries      = 3
	defaultRemoteBackoffMS       = 250
	defaultRemoteMaxBackoffMS    = 4000
	defaultCatalogBaseURL        = "https://api.scryfall.com"
	defaultCatalogUserAgent      = "decklens/dev"
	defaultCatalogMinIntervalMS  = 100
	defaultRateLimitWindow       = 1
	defaultRateLimit             = 10
	defaultImagesTTLHours        = 1
	defaultJobsTTLHours          = 24
	defaultResolutionTTLDays     = 30
	defaultLocksTTLHours         = 1
	defaultSweepInterval         = 600
	defaultScanPageSize          = 500
)

// DefaultBands returns the resolution-aware confidence bands. Lower resolution
// classes accept a lower mean confidence but require more recognized lines.
func DefaultBands() map[string]Band {
	return map[string]Band{
		"sd":    {EarlyStop: 0.80, Fallback: 0.50, MinLines: 14},
		"720p":  {EarlyStop: 0.85, Fallback: 0.58, MinLines: 12},
		"1080p": {EarlyStop: 0.88, Fallback: 0.62, MinLines: 10},
		"1440p": {EarlyStop: 0.90, Fallback: 0.65, MinLines: 8},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			CatalogFile: defaultCatalogFile,
		},
		Storage: Storage{
			Backend:     defaultStorageBackend,
			RedisPrefix: defaultRedisPrefix,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Metrics: Metrics{
			Namespace: defaultMetricsNamespace,
		},
		Pipeline: Pipeline{
			Version:         defaultPipelineVersion,
			ResolveWorkers:  defaultResolveWorkers,
			FallbackTimeout: defaultFallbackTimeout,
		},
		Recognizer: Recognizer{
			Primary: Engine{
				Name:    defaultPrimaryEngine,
				Command: "tesseract",
				Args:    []string{"{input}", "stdout", "--psm", "6", "tsv"},
				Timeout: defaultEngineTimeout,
			},
			Fallback: Engine{
				Name:    defaultFallbackEngine,
				Command: "tesseract",
				Args:    []string{"{input}", "stdout", "--oem", "1", "--psm", "4", "tsv"},
				Timeout: defaultFallbackTimeout,
			},
		},
		Confidence: Confidence{
			Bands: DefaultBands(),
		},
		Breaker: Breaker{
			WindowSeconds:      defaultBreakerWindow,
			Buckets:            defaultBreakerBuckets,
			RateCeiling:        defaultBreakerRateCeiling,
			MinWindowJobs:      defaultBreakerMinWindowJobs,
			AdjustmentStep:     defaultBreakerAdjustStep,
			MaxAdjustment:      defaultBreakerMaxAdjust,
			FailureThreshold:   defaultBreakerFailures,
			CooldownSeconds:    defaultBreakerCooldown,
			BackoffMultiplier:  defaultBreakerBackoff,
			MaxCooldownSeconds: defaultBreakerMaxCooldown,
		},
		Idempotency: Idempotency{
			LockTTL:           defaultLockTTL,
			ExecTimeout:       defaultExecTimeout,
			JoinTimeout:       defaultJoinTimeout,
			HeartbeatInterval: defaultHeartbeatInterval,
			PollIntervalMS:    defaultPollIntervalMS,
		},
		Resolution: Resolution{
			AcceptanceThreshold: defaultAcceptanceThreshold,
			AmbiguityMargin:     defaultAmbiguityMargin,
			TopK:                defaultTopK,
			MaxCandidates:       defaultMaxCandidates,
			ExactTTLDays:        defaultExactTTLDays,
			FuzzyTTLDays:        defaultFuzzyTTLDays,
			RemoteTTLDays:       defaultRemoteTTLDays,
			RemoteTimeout:       defaultRemoteTimeout,
			RemoteMaxRetries:    defaultRemoteMaxRetries,
			RemoteBackoffMS:     defaultRemoteBackoffMS,
			RemoteMaxBackoffMS:  defaultRemoteMaxBackoffMS,
		},
		Catalog: Catalog{
			Enabled:       true,
			BaseURL:       defaultCatalogBaseURL,
			UserAgent:     defaultCatalogUserAgent,
			MinIntervalMS: defaultCatalogMinIntervalMS,
		},
		RateLimit: RateLimit{
			WindowSeconds: defaultRateLimitWindow,
			Limit:         defaultRateLimit,
		},
		Retention: Retention{
			ImagesTTLHours:    defaultImagesTTLHours,
			JobsTTLHours:      defaultJobsTTLHours,
			ResolutionTTLDays: defaultResolutionTTLDays,
			LocksTTLHours:     defaultLocksTTLHours,
			SweepInterval:     defaultSweepInterval,
			ScanPageSize:      defaultScanPageSize,
			StoreRawImages:    true,
		},
	}
}
