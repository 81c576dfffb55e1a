package retention

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"decklens/internal/config"
	"decklens/internal/logging"
)

// LogFiles selects the log files a sweep may prune. The active file is never
// removed.
type LogFiles struct {
	Dir     string
	Pattern string
	Active  string
	MaxAge  time.Duration
}

// LogFilesFrom builds the log pruning target from configuration. A missing log
// directory or a zero retention_days disables pruning.
func LogFilesFrom(cfg *config.Config) LogFiles {
	return LogFiles{
		Dir:     cfg.Paths.LogDir,
		Pattern: "*.log",
		Active:  cfg.LogFilePath(),
		MaxAge:  cfg.Logging.Retention(),
	}
}

func (l LogFiles) enabled() bool {
	return strings.TrimSpace(l.Dir) != "" && l.MaxAge > 0
}

// LogReport counts the outcome of pruning the log directory.
type LogReport struct {
	Dir         string `json:"dir"`
	Scanned     int    `json:"scanned"`
	Deleted     int    `json:"deleted"`
	WouldDelete int    `json:"would_delete"`
	Failed      int    `json:"failed"`
}

// WithLogFiles adds log pruning to every sweep.
func WithLogFiles(files LogFiles) Option {
	return func(s *Scheduler) { s.logs = files }
}

// sweepLogs removes log files last written before now minus MaxAge. A
// missing directory is an empty sweep; removal failures are counted and
// logged but never fail the sweep.
func (s *Scheduler) sweepLogs(now time.Time, dryRun bool) *LogReport {
	files := s.logs
	report := &LogReport{Dir: files.Dir}
	entries, err := os.ReadDir(files.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("log directory unreadable", logging.String("dir", files.Dir), logging.Error(err))
		}
		return report
	}

	active := absPath(files.Active)
	cutoff := now.Add(-files.MaxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if files.Pattern != "" {
			if matched, err := filepath.Match(files.Pattern, entry.Name()); err != nil || !matched {
				continue
			}
		}
		path := absPath(filepath.Join(files.Dir, entry.Name()))
		if path == active {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		report.Scanned++
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if dryRun {
			report.WouldDelete++
			continue
		}
		if err := os.Remove(path); err != nil {
			report.Failed++
			logging.WarnWithContext(s.logger, "log file not pruned", "log_retention_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check file permissions and paths.log_dir ownership"),
				logging.String(logging.FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		report.Deleted++
		s.logger.Debug("log file pruned", logging.String("path", path))
	}
	return report
}

func absPath(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
