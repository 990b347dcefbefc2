package retry

import (
	"testing"
	"time"

	"git.home.luguber.info/inful/buildctl/internal/config"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Mode != config.RetryBackoffFixed {
		t.Fatalf("expected fixed mode, got %s", p.Mode)
	}
	if p.Initial != time.Second || p.Max != 30*time.Second || p.MaxRetries != 10 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy must validate: %v", err)
	}
}

func TestNewPolicyFallbacks(t *testing.T) {
	p := NewPolicy("bogus", 0, 0, -1)
	if p != DefaultPolicy() {
		t.Fatalf("invalid inputs must fall back to defaults, got %+v", p)
	}

	p = NewPolicy(config.RetryBackoffLinear, 2*time.Second, time.Second, 3)
	if p.Initial != time.Second {
		t.Fatalf("initial must be capped at max, got %v", p.Initial)
	}
	if p.MaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", p.MaxRetries)
	}
}

func TestDelayModes(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		retry  int
		want   time.Duration
	}{
		{"zeroth attempt has no delay", DefaultPolicy(), 0, 0},
		{"fixed stays constant", NewPolicy(config.RetryBackoffFixed, time.Second, 30*time.Second, 5), 4, time.Second},
		{"linear grows", NewPolicy(config.RetryBackoffLinear, time.Second, 30*time.Second, 5), 3, 3 * time.Second},
		{"linear caps", NewPolicy(config.RetryBackoffLinear, time.Second, 2*time.Second, 5), 10, 2 * time.Second},
		{"exponential doubles", NewPolicy(config.RetryBackoffExponential, time.Second, 30*time.Second, 5), 3, 4 * time.Second},
		{"exponential caps", NewPolicy(config.RetryBackoffExponential, time.Second, 8*time.Second, 5), 10, 8 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.Delay(tc.retry); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	rc := config.RetryConfig{Backoff: "Exponential", InitialSeconds: 2, MaxSeconds: 60}
	p := FromConfig(rc, 7)
	if p.Mode != config.RetryBackoffExponential {
		t.Fatalf("expected exponential mode, got %s", p.Mode)
	}
	if p.Initial != 2*time.Second || p.Max != 60*time.Second || p.MaxRetries != 7 {
		t.Fatalf("unexpected policy: %+v", p)
	}
}
