package config

import (
	"fmt"
	"net/url"
	"strings"

	"decklens/internal/services"
)

// BandOrder lists resolution classes from lowest to highest.
var BandOrder = []string{"sd", "720p", "1080p", "1440p"}

// Validate ensures the configuration is usable. Every failure wraps
// services.ErrConfiguration.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateStorage,
		c.validateLogging,
		c.validatePipeline,
		c.validateRecognizer,
		c.validateConfidence,
		c.validateBreaker,
		c.validateIdempotency,
		c.validateResolution,
		c.validateCatalog,
		c.validateRateLimit,
		c.validateRetention,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", services.ErrConfiguration, fmt.Sprintf(format, args...))
}

func inUnitRange(v float64) bool { return v >= 0 && v <= 1 }

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "memory", "sqlite":
	case "redis":
		if c.Storage.RedisURL == "" {
			return invalid("storage.redis_url is required when storage.backend is redis (or set DECKLENS_REDIS_URL)")
		}
	default:
		return invalid("storage.backend must be memory, sqlite, or redis (got %q)", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return invalid("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return invalid("logging.retention_days must be >= 0")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.ResolveWorkers <= 0 {
		return invalid("pipeline.resolve_workers must be positive")
	}
	if c.Pipeline.FallbackTimeout <= 0 {
		return invalid("pipeline.fallback_timeout must be positive")
	}
	return nil
}

func (c *Config) validateRecognizer() error {
	if c.Recognizer.Primary.Command == "" {
		return invalid("recognizer.primary.command must be set")
	}
	for label, engine := range map[string]Engine{"primary": c.Recognizer.Primary, "fallback": c.Recognizer.Fallback} {
		if engine.Command != "" && engine.Timeout <= 0 {
			return invalid("recognizer.%s.timeout must be positive", label)
		}
	}
	return nil
}

func (c *Config) validateConfidence() error {
	var prev *Band
	var prevName string
	for _, name := range BandOrder {
		band, ok := c.Confidence.Bands[name]
		if !ok {
			return invalid("confidence.bands.%s is missing", name)
		}
		if !inUnitRange(band.EarlyStop) || !inUnitRange(band.Fallback) {
			return invalid("confidence.bands.%s thresholds must be between 0 and 1", name)
		}
		if band.Fallback > band.EarlyStop {
			return invalid("confidence.bands.%s.fallback must not exceed early_stop", name)
		}
		if band.MinLines < 0 {
			return invalid("confidence.bands.%s.min_lines must be >= 0", name)
		}
		if prev != nil {
			if band.Fallback < prev.Fallback || band.EarlyStop < prev.EarlyStop {
				return invalid("confidence.bands.%s thresholds must not be lower than %s", name, prevName)
			}
			if band.MinLines > prev.MinLines {
				return invalid("confidence.bands.%s.min_lines must not exceed %s", name, prevName)
			}
		}
		b := band
		prev, prevName = &b, name
	}
	for name := range c.Confidence.Bands {
		if !knownClass(name) {
			return invalid("confidence.bands.%s is not a known resolution class", name)
		}
	}
	return nil
}

func knownClass(name string) bool {
	for _, known := range BandOrder {
		if known == name {
			return true
		}
	}
	return false
}

func (c *Config) validateBreaker() error {
	b := c.Breaker
	if b.WindowSeconds <= 0 || b.Buckets <= 0 {
		return invalid("breaker.window_seconds and breaker.buckets must be positive")
	}
	if b.Buckets > b.WindowSeconds {
		return invalid("breaker.buckets must not exceed breaker.window_seconds")
	}
	if b.RateCeiling <= 0 || b.RateCeiling > 1 {
		return invalid("breaker.rate_ceiling must be in (0, 1]")
	}
	if b.MinWindowJobs < 0 {
		return invalid("breaker.min_window_jobs must be >= 0")
	}
	if !inUnitRange(b.AdjustmentStep) || !inUnitRange(b.MaxAdjustment) {
		return invalid("breaker.adjustment_step and breaker.max_adjustment must be between 0 and 1")
	}
	if b.AdjustmentStep > b.MaxAdjustment {
		return invalid("breaker.adjustment_step must not exceed breaker.max_adjustment")
	}
	if b.FailureThreshold <= 0 {
		return invalid("breaker.failure_threshold must be positive")
	}
	if b.CooldownSeconds <= 0 {
		return invalid("breaker.cooldown_seconds must be positive")
	}
	if b.BackoffMultiplier < 1 {
		return invalid("breaker.backoff_multiplier must be >= 1")
	}
	if b.MaxCooldownSeconds < b.CooldownSeconds {
		return invalid("breaker.max_cooldown_seconds must be >= breaker.cooldown_seconds")
	}
	return nil
}

func (c *Config) validateIdempotency() error {
	i := c.Idempotency
	if i.LockTTL <= 0 || i.ExecTimeout <= 0 || i.JoinTimeout <= 0 {
		return invalid("idempotency.lock_ttl, exec_timeout, and join_timeout must be positive")
	}
	if i.LockTTL <= i.ExecTimeout {
		return invalid("idempotency.lock_ttl (%ds) must exceed idempotency.exec_timeout (%ds)", i.LockTTL, i.ExecTimeout)
	}
	if i.HeartbeatInterval <= 0 || i.HeartbeatInterval >= i.LockTTL {
		return invalid("idempotency.heartbeat_interval must be positive and shorter than idempotency.lock_ttl")
	}
	if i.PollIntervalMS <= 0 {
		return invalid("idempotency.poll_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateResolution() error {
	r := c.Resolution
	if !inUnitRange(r.AcceptanceThreshold) || r.AcceptanceThreshold == 0 {
		return invalid("resolution.acceptance_threshold must be in (0, 1]")
	}
	if !inUnitRange(r.AmbiguityMargin) {
		return invalid("resolution.ambiguity_margin must be between 0 and 1")
	}
	if r.TopK <= 0 || r.MaxCandidates < r.TopK {
		return invalid("resolution.top_k must be positive and not exceed resolution.max_candidates")
	}
	if r.ExactTTLDays <= 0 || r.FuzzyTTLDays <= 0 || r.RemoteTTLDays <= 0 {
		return invalid("resolution tier TTLs must be positive")
	}
	if r.RemoteTimeout <= 0 {
		return invalid("resolution.remote_timeout must be positive")
	}
	if r.RemoteMaxRetries < 0 {
		return invalid("resolution.remote_max_retries must be >= 0")
	}
	if r.RemoteBackoffMS <= 0 || r.RemoteMaxBackoffMS < r.RemoteBackoffMS {
		return invalid("resolution.remote_backoff_ms must be positive and not exceed remote_max_backoff_ms")
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if !c.Catalog.Enabled {
		return nil
	}
	parsed, err := url.Parse(c.Catalog.BaseURL)
	if err != nil || parsed.Host == "" || !strings.HasPrefix(parsed.Scheme, "http") {
		return invalid("catalog.base_url must be an absolute http(s) URL (got %q)", c.Catalog.BaseURL)
	}
	if c.Catalog.MinIntervalMS < 0 {
		return invalid("catalog.min_interval_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.WindowSeconds <= 0 || c.RateLimit.Limit <= 0 {
		return invalid("rate_limit.window_seconds and rate_limit.limit must be positive")
	}
	return nil
}

func (c *Config) validateRetention() error {
	r := c.Retention
	if r.ImagesTTLHours <= 0 || r.JobsTTLHours <= 0 || r.ResolutionTTLDays <= 0 || r.LocksTTLHours <= 0 {
		return invalid("retention TTLs must be positive")
	}
	if r.LocksTTL() < c.Idempotency.LockTTLDuration() {
		return invalid("retention.locks_ttl_hours must cover idempotency.lock_ttl")
	}
	if r.ResolutionTTL() < c.Resolution.ExactTTL() {
		return invalid("retention.resolution_ttl_days must cover resolution.exact_ttl_days")
	}
	if r.SweepInterval <= 0 || r.ScanPageSize <= 0 {
		return invalid("retention.sweep_interval and retention.scan_page_size must be positive")
	}
	return nil
}
