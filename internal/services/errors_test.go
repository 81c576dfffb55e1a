package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"decklens/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "resolve", "remote", "lookup failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"resolve", "remote", "lookup failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected default detail, got %q", err.Error())
	}
}

func TestCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"recognition", services.Wrap(services.ErrRecognition, "pipeline", "recognize", "no variant succeeded", nil), services.CodeAllVariantsFailed},
		{"timeout marker", services.Wrap(services.ErrTimeout, "pipeline", "run", "", nil), services.CodeTimeout},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), services.CodeTimeout},
		{"stale lock", services.Wrap(services.ErrStaleLock, "idempotency", "heartbeat", "", nil), services.CodeLockUnavailable},
		{"configuration", services.Wrap(services.ErrConfiguration, "config", "load", "", nil), services.CodeConfiguration},
		{"canceled", context.Canceled, services.CodeCanceled},
		{"other", errors.New("boom"), services.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Code(tt.err); got != tt.want {
				t.Fatalf("Code(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestRateLimitedError(t *testing.T) {
	err := fmt.Errorf("catalog: %w", &services.RateLimitedError{Key: "catalog", RetryAfter: 3 * time.Second})
	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited match, got %v", err)
	}
	after, ok := services.RetryAfter(err)
	if !ok || after != 3*time.Second {
		t.Fatalf("unexpected retry-after: %v %v", after, ok)
	}
	if _, ok := services.RetryAfter(errors.New("other")); ok {
		t.Fatal("expected no retry-after for unrelated error")
	}
}
