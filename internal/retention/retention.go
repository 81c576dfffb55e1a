package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"decklens/internal/config"
	"decklens/internal/logging"
	"decklens/internal/metrics"
	"decklens/internal/services"
	"decklens/internal/storage"
)

// Policy maps each storage class to the age after which its records expire.
// A zero or missing TTL keeps the class forever unless records carry their
// own expiry.
type Policy map[storage.Class]time.Duration

// PolicyFrom builds the class TTLs from configuration.
func PolicyFrom(cfg config.Retention) Policy {
	return Policy{
		storage.ClassImages:     cfg.ImagesTTL(),
		storage.ClassJobs:       cfg.JobsTTL(),
		storage.ClassResolution: cfg.ResolutionTTL(),
		storage.ClassLocks:      cfg.LocksTTL(),
	}
}

// ClassReport counts the outcome of sweeping one class.
type ClassReport struct {
	Class       storage.Class `json:"class"`
	Scanned     int           `json:"scanned"`
	Deleted     int           `json:"deleted"`
	WouldDelete int           `json:"would_delete"`
	Raced       int           `json:"raced"`
}

// Report summarizes one sweep.
type Report struct {
	DryRun   bool          `json:"dry_run"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Classes  []ClassReport `json:"classes"`
	Logs     *LogReport    `json:"logs,omitempty"`
}

// Deleted returns the total number of records and log files removed.
func (r Report) Deleted() int {
	total := 0
	for _, c := range r.Classes {
		total += c.Deleted
	}
	if r.Logs != nil {
		total += r.Logs.Deleted
	}
	return total
}

// Scheduler sweeps a storage backend.
type Scheduler struct {
	backend  storage.Backend
	policy   Policy
	logs     LogFiles
	pageSize int
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithPageSize bounds each scan page.
func WithPageSize(n int) Option {
	return func(s *Scheduler) { s.pageSize = n }
}

// WithClock overrides the time source used by Run.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics records deletions per class.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New builds a scheduler.
func New(backend storage.Backend, policy Policy, opts ...Option) *Scheduler {
	s := &Scheduler{backend: backend, policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "retention")
	return s
}

// Expired reports whether rec is past its own expiry or older than ttl.
func Expired(rec storage.Record, ttl time.Duration, now time.Time) bool {
	if rec.Expired(now) {
		return true
	}
	if ttl <= 0 {
		return false
	}
	last := rec.UpdatedAt
	if last.IsZero() {
		last = rec.CreatedAt
	}
	return !now.Before(last.Add(ttl))
}

// Sweep removes every expired record as of now, then prunes old log files
// when WithLogFiles is set. In dry-run mode nothing is deleted and
// WouldDelete is reported instead.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time, dryRun bool) (Report, error) {
	ctx = services.WithStage(ctx, "retention")
	logger := logging.WithContext(ctx, s.logger)
	started := time.Now()
	report := Report{DryRun: dryRun, At: now}

	for _, class := range storage.Classes {
		cr, err := s.sweepClass(ctx, class, now, dryRun)
		report.Classes = append(report.Classes, cr)
		if err != nil {
			report.Duration = time.Since(started)
			return report, fmt.Errorf("sweep %s: %w", class, err)
		}
		if !dryRun {
			s.metrics.RetentionDeleted(string(class), cr.Deleted)
		}
	}
	if s.logs.enabled() {
		report.Logs = s.sweepLogs(now, dryRun)
		if !dryRun {
			s.metrics.RetentionDeleted("logs", report.Logs.Deleted)
		}
	}
	report.Duration = time.Since(started)

	logger.Info("retention sweep finished",
		logging.Bool("dry_run", dryRun),
		logging.Int("deleted", report.Deleted()),
		logging.Duration("duration", report.Duration),
		logging.String(logging.FieldEventType, "retention_sweep"),
	)
	return report, nil
}

func (s *Scheduler) sweepClass(ctx context.Context, class storage.Class, now time.Time, dryRun bool) (ClassReport, error) {
	cr := ClassReport{Class: class}
	ttl := s.policy[class]
	bucket := s.backend.Bucket(class)
	err := bucket.Scan(ctx, storage.ScanOptions{PageSize: s.pageSize}, func(rec storage.Record) error {
		cr.Scanned++
		if !Expired(rec, ttl, now) {
			return nil
		}
		if dryRun {
			cr.WouldDelete++
			return nil
		}
		deleted, err := bucket.CompareAndDelete(ctx, rec.Key, rec.Version)
		if err != nil {
			return err
		}
		if deleted {
			cr.Deleted++
		} else {
			cr.Raced++
		}
		return nil
	})
	return cr, err
}

// Run sweeps immediately and then every interval until ctx is done. Sweep
// failures are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return services.Wrap(services.ErrConfiguration, "retention", "run", "sweep interval must be positive", nil)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx, s.now(), false); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.WarnWithContext(s.logger, "retention sweep failed", "retention_sweep_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check storage backend connectivity"),
				logging.String(logging.FieldImpact, "expired records remain until the next sweep"),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
