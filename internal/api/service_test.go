package api_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"decklens/internal/api"
	"decklens/internal/recognize"
	"decklens/internal/services"
	"decklens/internal/testsupport"
)

var deckNames = []string{"Lightning Bolt", "Counterspell", "Brainstorm", "Ponder", "Island", "Duress", "Fire // Ice"}

var deckText = []string{
	"Deck",
	"4 Lightning Bolt",
	"4 Counterspell",
	"4 Brainstorm",
	"4 Ponder",
	"20 Island",
	"1 Fire",
	"1 Fyre // Ice",
	"2 Lightnin Bolt",
	"1 Xyzzy",
	"Sideboard",
	"3 Duress",
	"2 Counterspell",
}

func newService(t *testing.T, opts ...api.Option) *api.Service {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithCatalog(deckNames...),
		testsupport.WithStubRecognizer(testsupport.TSV(93, deckText...), ""),
	)
	svc, err := api.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func lines(confidence float64, n int) []recognize.Line {
	out := make([]recognize.Line, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, recognize.Line{Text: deckText[1+i%5], Confidence: confidence})
	}
	return out
}

func TestScanEndToEnd(t *testing.T) {
	svc := newService(t)

	view, err := svc.Scan(context.Background(), api.ScanRequest{Image: []byte("deck photo"), Class: "1080p"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if view.State != "completed" || view.Result == nil {
		t.Fatalf("unexpected job view: %+v", view)
	}
	result := view.Result
	if result.Recognition.Engine == "" || result.Recognition.LineCount != len(deckText) {
		t.Fatalf("unexpected recognition summary: %+v", result.Recognition)
	}
	if !result.Partial || len(result.Unresolved) != 1 || result.Unresolved[0].Token != "Xyzzy" {
		t.Fatalf("expected Xyzzy unresolved, got %+v", result.Unresolved)
	}
	counts := map[string]int{}
	for _, c := range result.Cards {
		counts[c.Section+"/"+c.Name] = c.Quantity
	}
	if counts["main/Fire // Ice"] != 2 {
		t.Fatalf("expected Fire and Fyre // Ice merged, got %v", counts)
	}
	if counts["main/Lightning Bolt"] != 6 {
		t.Fatalf("expected fuzzy Lightnin Bolt merged into Lightning Bolt, got %v", counts)
	}
	if counts["sideboard/Counterspell"] != 2 || counts["main/Counterspell"] != 4 {
		t.Fatalf("expected per-section counts, got %v", counts)
	}
	if view.CreatedAt == "" || view.FinishedAt == "" {
		t.Fatalf("expected formatted timestamps: %+v", view)
	}

	status, err := svc.JobStatus(context.Background(), view.ID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if status.State != "completed" || status.Result == nil {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestConcurrentScansShareOneRun(t *testing.T) {
	var runs atomic.Int32
	primary := recognize.Func{Engine: "primary", Fn: func(context.Context, recognize.Variant) (recognize.Recognition, error) {
		runs.Add(1)
		return recognize.Recognition{Lines: lines(0.9, 12), MeanConfidence: 0.9}, nil
	}}
	svc := newService(t, api.WithRecognizers(primary, nil))

	const callers = 5
	views := make([]api.JobView, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			views[i], errs[i] = svc.Scan(context.Background(), api.ScanRequest{Image: []byte("image A"), Class: "1080p"})
		}(i)
	}
	wg.Wait()

	if got := runs.Load(); got != 1 {
		t.Fatalf("expected one pipeline run, got %d", got)
	}
	for i := range views {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if views[i].ID != views[0].ID {
			t.Fatalf("caller %d got job %s, want %s", i, views[i].ID, views[0].ID)
		}
		if views[i].Result == nil || views[i].Result.Recognition.UsedFallback {
			t.Fatalf("caller %d: expected primary-only result: %+v", i, views[i].Result)
		}
	}
}

func TestScanOverridesChangeTheJob(t *testing.T) {
	var runs atomic.Int32
	primary := recognize.Func{Engine: "primary", Fn: func(context.Context, recognize.Variant) (recognize.Recognition, error) {
		runs.Add(1)
		return recognize.Recognition{Lines: lines(0.9, 12), MeanConfidence: 0.9}, nil
	}}
	svc := newService(t, api.WithRecognizers(primary, nil))
	ctx := context.Background()

	base, err := svc.Scan(ctx, api.ScanRequest{Image: []byte("image C"), Class: "1080p"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	again, err := svc.Scan(ctx, api.ScanRequest{Image: []byte("image C"), Class: "1080p"})
	if err != nil {
		t.Fatalf("Scan again: %v", err)
	}
	if again.ID != base.ID {
		t.Fatalf("identical request got job %s, want %s", again.ID, base.ID)
	}

	cases := map[string]api.ScanRequest{
		"class":         {Image: []byte("image C"), Class: "sd"},
		"size":          {Image: []byte("image C"), Width: 1920, Height: 1080},
		"variant":       {Image: []byte("image C"), Class: "1080p", Variants: []api.Variant{{Name: "binarized", Data: []byte("bw")}}},
		"variant bytes": {Image: []byte("image C"), Class: "1080p", Variants: []api.Variant{{Name: "binarized", Data: []byte("bw2")}}},
	}
	seen := map[string]string{base.ID: "base"}
	for name, req := range cases {
		view, err := svc.Scan(ctx, req)
		if err != nil {
			t.Fatalf("%s: Scan: %v", name, err)
		}
		if prev, ok := seen[view.ID]; ok {
			t.Fatalf("%s reused the job of %s", name, prev)
		}
		seen[view.ID] = name
	}
	if got := runs.Load(); got != int32(1+len(cases)) {
		t.Fatalf("expected %d pipeline runs, got %d", 1+len(cases), got)
	}
}

func TestScanUsesFallbackForLowConfidence(t *testing.T) {
	primary := recognize.Func{Engine: "primary", Fn: func(context.Context, recognize.Variant) (recognize.Recognition, error) {
		return recognize.Recognition{Lines: lines(0.5, 9), MeanConfidence: 0.5}, nil
	}}
	fallback := recognize.Func{Engine: "secondary", Fn: func(context.Context, recognize.Variant) (recognize.Recognition, error) {
		return recognize.Recognition{Lines: lines(0.9, 12), MeanConfidence: 0.9}, nil
	}}
	svc := newService(t, api.WithRecognizers(primary, fallback))

	view, err := svc.Scan(context.Background(), api.ScanRequest{Image: []byte("image B"), Class: "1080p"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !view.Result.Recognition.UsedFallback || view.Result.Recognition.Engine != "secondary" {
		t.Fatalf("expected fallback result: %+v", view.Result.Recognition)
	}

	snaps := svc.BreakerState()
	if len(snaps) != 1 || snaps[0].Engine != "secondary" {
		t.Fatalf("unexpected breaker snapshots: %+v", snaps)
	}
	if snaps[0].Jobs != 1 || snaps[0].Fallbacks != 1 {
		t.Fatalf("expected one job and one fallback recorded: %+v", snaps[0])
	}
}

func TestScanFailureIsRecorded(t *testing.T) {
	primary := recognize.Func{Engine: "primary", Fn: func(context.Context, recognize.Variant) (recognize.Recognition, error) {
		return recognize.Recognition{}, errors.New("engine crashed")
	}}
	svc := newService(t, api.WithRecognizers(primary, nil))

	view, err := svc.Scan(context.Background(), api.ScanRequest{Image: []byte("broken"), Class: "sd"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if view.State != "failed" || view.Code != services.CodeAllVariantsFailed {
		t.Fatalf("expected all_variants_failed, got %+v", view)
	}
}

func TestSubmitValidatesInput(t *testing.T) {
	svc := newService(t)
	if _, _, err := svc.SubmitJob(context.Background(), api.ScanRequest{}); err == nil {
		t.Fatal("expected error for empty image")
	}
	_, _, err := svc.SubmitJob(context.Background(), api.ScanRequest{Image: []byte("x"), Class: "8mm"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown class, got %v", err)
	}
}

func TestJobStatusUnknown(t *testing.T) {
	svc := newService(t)
	if _, err := svc.JobStatus(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveToken(t *testing.T) {
	svc := newService(t)
	res, err := svc.ResolveToken(context.Background(), "  LIGHTNING bolt ")
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if !res.Resolved() || res.Name != "Lightning Bolt" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if _, err := svc.ResolveToken(context.Background(), "Xyz"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for Xyz, got %v", err)
	}
}

func TestSweepRetentionDryRun(t *testing.T) {
	svc := newService(t)
	if _, err := svc.Scan(context.Background(), api.ScanRequest{Image: []byte("deck photo"), Class: "1080p"}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	report, err := svc.SweepRetention(context.Background(), true)
	if err != nil {
		t.Fatalf("SweepRetention: %v", err)
	}
	if !report.DryRun || len(report.Classes) != 4 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Deleted() != 0 {
		t.Fatalf("dry run deleted records: %+v", report)
	}
}
