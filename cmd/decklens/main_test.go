package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/gofrs/flock"

	"decklens/internal/api"
	"decklens/internal/resolve"
	"decklens/internal/retention"
	"decklens/internal/services"
	"decklens/internal/testsupport"
)

func TestScanRendersCardTable(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"scan", env.imagePath, "--class", "1080p"}, env.configPath)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	requireContains(t, out, "[OK] completed")
	requireContains(t, out, "Lightning Bolt")
	requireContains(t, out, "Fire // Ice")
	requireContains(t, out, "main=35 sideboard=3 unresolved=1")
	requireContains(t, out, "Xyzzy")
}

func TestScanJSONThenJobStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"--json", "scan", env.imagePath, "--class", "1080p"}, env.configPath)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var first api.JobView
	if err := json.Unmarshal([]byte(out), &first); err != nil {
		t.Fatalf("decode scan output: %v\n%s", err, out)
	}
	if first.State != "completed" || first.Result == nil {
		t.Fatalf("unexpected job: %+v", first)
	}
	if got := first.Result.CardCount(""); got != 38 {
		t.Fatalf("expected 38 resolved cards, got %d", got)
	}

	out, _, err = runCLI(t, []string{"--json", "scan", env.imagePath, "--class", "1080p"}, env.configPath)
	if err != nil {
		t.Fatalf("repeat scan: %v", err)
	}
	var second api.JobView
	if err := json.Unmarshal([]byte(out), &second); err != nil {
		t.Fatalf("decode repeat output: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected repeat scan to reuse job %s, got %s", first.ID, second.ID)
	}

	out, _, err = runCLI(t, []string{"--json", "job", "status", first.ID}, env.configPath)
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	var status api.JobView
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.ID != first.ID || status.State != "completed" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestJobStatusUnknown(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"job", "status", "missing"}, env.configPath)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if exitCode(err) != 4 {
		t.Fatalf("expected exit code 4, got %d", exitCode(err))
	}
}

func TestScanMissingImage(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"scan", env.imagePath + ".missing"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	requireContains(t, err.Error(), "read image")
}

func TestResolveCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"resolve", "Lightnin Bolt", "Xyzzy"}, env.configPath)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	requireContains(t, out, "Lightning Bolt")
	requireContains(t, out, "Xyzzy")

	out, _, err = runCLI(t, []string{"--json", "resolve", "counterspell"}, env.configPath)
	if err != nil {
		t.Fatalf("resolve json: %v", err)
	}
	var results []resolve.Resolution
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode resolve output: %v", err)
	}
	if len(results) != 1 || !results[0].Resolved() || results[0].Name != "Counterspell" {
		t.Fatalf("unexpected resolution: %+v", results)
	}
}

func TestRetentionSweepDryRun(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"scan", env.imagePath}, env.configPath); err != nil {
		t.Fatalf("scan: %v", err)
	}

	out, _, err := runCLI(t, []string{"retention", "sweep", "--dry-run"}, env.configPath)
	if err != nil {
		t.Fatalf("retention sweep: %v", err)
	}
	requireContains(t, out, "dry run")
	requireContains(t, out, "Would delete")

	out, _, err = runCLI(t, []string{"--json", "retention", "sweep"}, env.configPath)
	if err != nil {
		t.Fatalf("retention sweep json: %v", err)
	}
	var report retention.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.DryRun || report.Deleted() != 0 {
		t.Fatalf("fresh records must survive a sweep: %+v", report)
	}
}

func TestRetentionRunRefusesSecondInstance(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := env.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	held := flock.New(env.cfg.RetentionLockPath())
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("hold lock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { _ = held.Unlock() })

	_, _, err = runCLI(t, []string{"retention", "run"}, env.configPath)
	if err == nil {
		t.Fatal("expected lock contention error")
	}
	requireContains(t, err.Error(), "another retention loop")
}

func TestBreakerCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"breaker"}, env.configPath)
	if err != nil {
		t.Fatalf("breaker: %v", err)
	}
	requireContains(t, out, "No fallback engine configured")

	withFallback := setupCLITestEnv(t, testsupport.WithStubRecognizer(
		testsupport.TSV(93, deckText...),
		testsupport.TSV(95, deckText...),
	))
	out, _, err = runCLI(t, []string{"breaker"}, withFallback.configPath)
	if err != nil {
		t.Fatalf("breaker with fallback: %v", err)
	}
	requireContains(t, out, "[OK] closed")
}

func TestInvalidConfigExitCode(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Storage.Backend = "carrier-pigeon"
	writeTestConfig(t, env.configPath, env.cfg)

	_, _, err := runCLI(t, []string{"breaker"}, env.configPath)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if code := exitCode(err); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestExitCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{services.Wrap(services.ErrStillProcessing, "idempotency", "wait", "", nil), 3},
		{services.Wrap(services.ErrRateLimited, "resolve", "remote", "", nil), 5},
		{fmt.Errorf("wrapped: %w", errors.New("plain")), 1},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
