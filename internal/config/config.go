package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state directory and reference data locations.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	CatalogFile string `toml:"catalog_file"`
	AliasFile   string `toml:"alias_file"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Backend     string `toml:"backend"` // memory, sqlite, redis
	SQLitePath  string `toml:"sqlite_path"`
	RedisURL    string `toml:"redis_url"`
	RedisPrefix string `toml:"redis_prefix"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics contains configuration for the Prometheus collectors.
type Metrics struct {
	Namespace string `toml:"namespace"`
}

// Pipeline contains orchestration settings shared by every job.
type Pipeline struct {
	Version         string `toml:"version"`
	ResolveWorkers  int    `toml:"resolve_workers"`
	FallbackTimeout int    `toml:"fallback_timeout"`
}

// Engine describes one external recognition command.
type Engine struct {
	Name    string   `toml:"name"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Timeout int      `toml:"timeout"`
}

// Recognizer contains the primary and fallback recognition engines.
type Recognizer struct {
	Primary  Engine `toml:"primary"`
	Fallback Engine `toml:"fallback"`
}

// Band holds the thresholds for one resolution class.
type Band struct {
	EarlyStop float64 `toml:"early_stop"`
	Fallback  float64 `toml:"fallback"`
	MinLines  int     `toml:"min_lines"`
}

// Confidence maps resolution classes (sd, 720p, 1080p, 1440p) to bands.
type Confidence struct {
	Bands map[string]Band `toml:"bands"`
}

// Breaker contains fallback circuit breaker settings.
type Breaker struct {
	WindowSeconds      int     `toml:"window_seconds"`
	Buckets            int     `toml:"buckets"`
	RateCeiling        float64 `toml:"rate_ceiling"`
	MinWindowJobs      int     `toml:"min_window_jobs"`
	AdjustmentStep     float64 `toml:"adjustment_step"`
	MaxAdjustment      float64 `toml:"max_adjustment"`
	FailureThreshold   int     `toml:"failure_threshold"`
	CooldownSeconds    int     `toml:"cooldown_seconds"`
	BackoffMultiplier  float64 `toml:"backoff_multiplier"`
	MaxCooldownSeconds int     `toml:"max_cooldown_seconds"`
}

// Idempotency contains lock and wait settings for duplicate submissions.
type Idempotency struct {
	LockTTL           int `toml:"lock_ttl"`
	ExecTimeout       int `toml:"exec_timeout"`
	JoinTimeout       int `toml:"join_timeout"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	PollIntervalMS    int `toml:"poll_interval_ms"`
}

// Resolution contains settings for the tiered name resolution cache.
type Resolution struct {
	AcceptanceThreshold float64 `toml:"acceptance_threshold"`
	AmbiguityMargin     float64 `toml:"ambiguity_margin"`
	TopK                int     `toml:"top_k"`
	MaxCandidates       int     `toml:"max_candidates"`
	ExactTTLDays        int     `toml:"exact_ttl_days"`
	FuzzyTTLDays        int     `toml:"fuzzy_ttl_days"`
	RemoteTTLDays       int     `toml:"remote_ttl_days"`
	RemoteTimeout       int     `toml:"remote_timeout"`
	RemoteMaxRetries    int     `toml:"remote_max_retries"`
	RemoteBackoffMS     int     `toml:"remote_backoff_ms"`
	RemoteMaxBackoffMS  int     `toml:"remote_max_backoff_ms"`
}

// Catalog contains remote catalog API settings.
type Catalog struct {
	Enabled       bool   `toml:"enabled"`
	BaseURL       string `toml:"base_url"`
	UserAgent     string `toml:"user_agent"`
	MinIntervalMS int    `toml:"min_interval_ms"`
}

// RateLimit contains the sliding window applied to remote catalog calls.
type RateLimit struct {
	WindowSeconds int `toml:"window_seconds"`
	Limit         int `toml:"limit"`
}

// Retention contains per-class TTLs and the sweep cadence.
type Retention struct {
	ImagesTTLHours    int  `toml:"images_ttl_hours"`
	JobsTTLHours      int  `toml:"jobs_ttl_hours"`
	ResolutionTTLDays int  `toml:"resolution_ttl_days"`
	LocksTTLHours     int  `toml:"locks_ttl_hours"`
	SweepInterval     int  `toml:"sweep_interval"`
	ScanPageSize      int  `toml:"scan_page_size"`
	StoreRawImages    bool `toml:"store_raw_images"`
}

// Config encapsulates all configuration values for decklens.
//
// Configuration sections by subsystem:
//   - Paths: state directory and reference data files
//   - Storage: memory, sqlite, or redis persistence
//   - Logging / Metrics: observability
//   - Pipeline / Recognizer: orchestration and recognition engines
//   - Confidence / Breaker: fallback decision policy
//   - Idempotency: duplicate submission locking
//   - Resolution / Catalog / RateLimit: name resolution tiers
//   - Retention: class TTLs for the sweep
type Config struct {
	Paths       Paths       `toml:"paths"`
	Storage     Storage     `toml:"storage"`
	Logging     Logging     `toml:"logging"`
	Metrics     Metrics     `toml:"metrics"`
	Pipeline    Pipeline    `toml:"pipeline"`
	Recognizer  Recognizer  `toml:"recognizer"`
	Confidence  Confidence  `toml:"confidence"`
	Breaker     Breaker     `toml:"breaker"`
	Idempotency Idempotency `toml:"idempotency"`
	Resolution  Resolution  `toml:"resolution"`
	Catalog     Catalog     `toml:"catalog"`
	RateLimit   RateLimit   `toml:"rate_limit"`
	Retention   Retention   `toml:"retention"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/decklens/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("decklens.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RetentionLockPath is the file lock guarding the background retention loop.
// LogFilePath returns the active log file, or "" when file logging is off.
func (c *Config) LogFilePath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "decklens.log")
}

func (c *Config) RetentionLockPath() string {
	return filepath.Join(c.Paths.StateDir, "retention.lock")
}

func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

func millis(v int) time.Duration { return time.Duration(v) * time.Millisecond }

const day = 24 * time.Hour

// FallbackTimeoutDuration bounds one secondary recognizer run.
func (p Pipeline) FallbackTimeoutDuration() time.Duration { return seconds(p.FallbackTimeout) }

// TimeoutDuration bounds one invocation of the engine.
func (e Engine) TimeoutDuration() time.Duration { return seconds(e.Timeout) }

// Window returns the sliding window length.
func (b Breaker) Window() time.Duration { return seconds(b.WindowSeconds) }

// Cooldown returns the initial open-state cool-down.
func (b Breaker) Cooldown() time.Duration { return seconds(b.CooldownSeconds) }

// MaxCooldown returns the cap applied to backed-off cool-downs.
func (b Breaker) MaxCooldown() time.Duration { return seconds(b.MaxCooldownSeconds) }

func (i Idempotency) LockTTLDuration() time.Duration { return seconds(i.LockTTL) }

func (i Idempotency) ExecTimeoutDuration() time.Duration { return seconds(i.ExecTimeout) }

func (i Idempotency) JoinTimeoutDuration() time.Duration { return seconds(i.JoinTimeout) }

func (i Idempotency) HeartbeatIntervalDuration() time.Duration {
	return seconds(i.HeartbeatInterval)
}

func (i Idempotency) PollInterval() time.Duration { return millis(i.PollIntervalMS) }

func (r Resolution) ExactTTL() time.Duration { return time.Duration(r.ExactTTLDays) * day }

func (r Resolution) FuzzyTTL() time.Duration { return time.Duration(r.FuzzyTTLDays) * day }

func (r Resolution) RemoteTTL() time.Duration { return time.Duration(r.RemoteTTLDays) * day }

func (r Resolution) RemoteTimeoutDuration() time.Duration { return seconds(r.RemoteTimeout) }

func (r Resolution) RemoteBackoff() time.Duration { return millis(r.RemoteBackoffMS) }

func (r Resolution) RemoteMaxBackoff() time.Duration { return millis(r.RemoteMaxBackoffMS) }

func (c Catalog) MinInterval() time.Duration { return millis(c.MinIntervalMS) }

func (r RateLimit) Window() time.Duration { return seconds(r.WindowSeconds) }

func (r Retention) ImagesTTL() time.Duration { return time.Duration(r.ImagesTTLHours) * time.Hour }

func (r Retention) JobsTTL() time.Duration { return time.Duration(r.JobsTTLHours) * time.Hour }

func (r Retention) ResolutionTTL() time.Duration { return time.Duration(r.ResolutionTTLDays) * day }

func (r Retention) LocksTTL() time.Duration { return time.Duration(r.LocksTTLHours) * time.Hour }

func (l Logging) Retention() time.Duration { return time.Duration(l.RetentionDays) * day }

func (r Retention) Interval() time.Duration { return seconds(r.SweepInterval) }

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
