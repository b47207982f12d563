package retry

import (
	"testing"
	"time"
)

func TestDefaultPolicyFailsFast(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxRetries != 0 {
		t.Fatalf("default policy must not retry, got MaxRetries=%d", p.MaxRetries)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}

func TestDelayModes(t *testing.T) {
	cases := []struct {
		name  string
		mode  BackoffMode
		retry int
		want  time.Duration
	}{
		{"fixed first", BackoffFixed, 1, time.Second},
		{"fixed third", BackoffFixed, 3, time.Second},
		{"linear first", BackoffLinear, 1, time.Second},
		{"linear third", BackoffLinear, 3, 3 * time.Second},
		{"exponential first", BackoffExponential, 1, time.Second},
		{"exponential third", BackoffExponential, 3, 4 * time.Second},
		{"zero attempt", BackoffLinear, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPolicy(tc.mode, time.Second, 30*time.Second, 5)
			if got := p.Delay(tc.retry); got != tc.want {
				t.Errorf("Delay(%d) = %v, want %v", tc.retry, got, tc.want)
			}
		})
	}
}

func TestDelayCappedAtMax(t *testing.T) {
	p := NewPolicy(BackoffExponential, time.Second, 4*time.Second, 10)
	if got := p.Delay(8); got != 4*time.Second {
		t.Errorf("Delay(8) = %v, want cap of 4s", got)
	}
}

func TestNewPolicyFallbacks(t *testing.T) {
	p := NewPolicy("bogus", 0, 0, -1)
	d := DefaultPolicy()
	if p.Mode != d.Mode || p.Initial != d.Initial || p.Max != d.Max || p.MaxRetries != d.MaxRetries {
		t.Errorf("invalid inputs should fall back to defaults, got %+v", p)
	}
}

func TestValidate(t *testing.T) {
	bad := Policy{Mode: BackoffFixed, Initial: 0, Max: time.Second, MaxRetries: 1}
	if err := bad.Validate(); err == nil {
		t.Error("zero initial should be invalid")
	}
	bad = Policy{Mode: BackoffFixed, Initial: time.Second, Max: time.Second, MaxRetries: -1}
	if err := bad.Validate(); err == nil {
		t.Error("negative retries should be invalid")
	}
}
