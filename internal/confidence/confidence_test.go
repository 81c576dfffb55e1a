package confidence_test

import (
	"errors"
	"testing"

	"decklens/internal/confidence"
	"decklens/internal/config"
	"decklens/internal/services"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          confidence.Class
	}{
		{"phone portrait 1080", 1080, 2400, confidence.Class1080p},
		{"landscape 720", 1280, 720, confidence.Class720p},
		{"small", 640, 480, confidence.ClassSD},
		{"4k", 3840, 2160, confidence.Class1440p},
		{"1440 exact", 2560, 1440, confidence.Class1440p},
		{"unknown height", 1920, 0, confidence.Class1440p},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := confidence.Classify(tt.width, tt.height); got != tt.want {
				t.Fatalf("Classify(%d,%d) = %s, want %s", tt.width, tt.height, got, tt.want)
			}
		})
	}
}

func TestParseClass(t *testing.T) {
	for input, want := range map[string]confidence.Class{"1080p": confidence.Class1080p, " SD ": confidence.ClassSD, "4K": confidence.Class1440p, "720": confidence.Class720p} {
		got, ok := confidence.ParseClass(input)
		if !ok || got != want {
			t.Fatalf("ParseClass(%q) = %s %v, want %s", input, got, ok, want)
		}
	}
	if _, ok := confidence.ParseClass("8mm"); ok {
		t.Fatal("expected unknown class to fail")
	}
}

func TestEvaluateScenarios(t *testing.T) {
	policy := confidence.DefaultPolicy()

	a := policy.Evaluate(confidence.Input{MeanConfidence: 0.9, LineCount: 12, Class: confidence.Class1080p}, 0)
	if a.NeedsFallback {
		t.Fatalf("expected no fallback for 0.9/12 lines at 1080p: %+v", a)
	}
	if !a.Accept {
		t.Fatalf("expected early-stop accept at 0.9 (threshold 0.88): %+v", a)
	}

	b := policy.Evaluate(confidence.Input{MeanConfidence: 0.5, LineCount: 9, Class: confidence.Class1080p}, 0)
	if !b.NeedsFallback {
		t.Fatalf("expected fallback for 0.5/9 lines at 1080p: %+v", b)
	}
	if b.Reason != "low confidence and too few lines" {
		t.Fatalf("unexpected reason: %q", b.Reason)
	}

	lines := policy.Evaluate(confidence.Input{MeanConfidence: 0.95, LineCount: 9, Class: confidence.Class1080p}, 0)
	if !lines.NeedsFallback || !lines.Accept {
		t.Fatalf("expected accept with line-count fallback: %+v", lines)
	}
}

func TestEvaluateResolutionAware(t *testing.T) {
	policy := confidence.DefaultPolicy()
	in := confidence.Input{MeanConfidence: 0.6, LineCount: 12}

	in.Class = confidence.Class720p
	if policy.Evaluate(in, 0).NeedsFallback {
		t.Fatal("0.6 clears the 720p fallback threshold of 0.58")
	}
	in.Class = confidence.Class1080p
	if !policy.Evaluate(in, 0).NeedsFallback {
		t.Fatal("0.6 is below the 1080p fallback threshold of 0.62")
	}
}

func TestEvaluateMonotonic(t *testing.T) {
	policy := confidence.DefaultPolicy()
	for _, class := range []confidence.Class{confidence.ClassSD, confidence.Class720p, confidence.Class1080p, confidence.Class1440p} {
		prevAccept := false
		prevFallback := true
		for step := 0; step <= 100; step++ {
			c := float64(step) / 100
			d := policy.Evaluate(confidence.Input{MeanConfidence: c, LineCount: 20, Class: class}, 0)
			if prevAccept && !d.Accept {
				t.Fatalf("%s: accept regressed at %.2f", class, c)
			}
			if !prevFallback && d.NeedsFallback {
				t.Fatalf("%s: fallback reappeared at %.2f", class, c)
			}
			prevAccept, prevFallback = d.Accept, d.NeedsFallback
		}
		prevFallback = true
		for lines := 0; lines <= 30; lines++ {
			d := policy.Evaluate(confidence.Input{MeanConfidence: 0.95, LineCount: lines, Class: class}, 0)
			if !prevFallback && d.NeedsFallback {
				t.Fatalf("%s: fallback reappeared at %d lines", class, lines)
			}
			prevFallback = d.NeedsFallback
		}
	}
}

func TestAdjustmentMakesFallbackHarder(t *testing.T) {
	policy := confidence.DefaultPolicy()
	in := confidence.Input{MeanConfidence: 0.58, LineCount: 12, Class: confidence.Class1080p}
	if !policy.Evaluate(in, 0).NeedsFallback {
		t.Fatal("expected fallback without adjustment")
	}
	d := policy.Evaluate(in, 0.05)
	if d.NeedsFallback {
		t.Fatalf("expected adjustment to suppress fallback: %+v", d)
	}
	if d.EffectiveFallback >= d.Band.Fallback {
		t.Fatalf("expected effective threshold below band threshold: %+v", d)
	}
	if policy.Evaluate(in, -1).EffectiveFallback != 0.62 {
		t.Fatal("negative adjustments must be ignored")
	}
}

func TestNewPolicyRequiresAllBands(t *testing.T) {
	bands := config.DefaultBands()
	delete(bands, "720p")
	_, err := confidence.NewPolicy(bands)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
