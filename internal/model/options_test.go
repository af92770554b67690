package model

import (
	"testing"
	"time"
)

func TestBackoffNext(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		made    int
		want    time.Duration
	}{
		{"exponential first", Backoff{Kind: BackoffExponential, Delay: 5 * time.Second}, 1, 5 * time.Second},
		{"exponential second", Backoff{Kind: BackoffExponential, Delay: 5 * time.Second}, 2, 10 * time.Second},
		{"exponential third", Backoff{Kind: BackoffExponential, Delay: 5 * time.Second}, 3, 20 * time.Second},
		{"exponential capped", Backoff{Kind: BackoffExponential, Delay: time.Millisecond}, 100, time.Millisecond << 16},
		{"fixed", Backoff{Kind: BackoffFixed, Delay: 3 * time.Second}, 4, 3 * time.Second},
		{"zero delay", Backoff{Kind: BackoffExponential}, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.backoff.Next(tt.made); got != tt.want {
				t.Fatalf("Next(%d) = %v, want %v", tt.made, got, tt.want)
			}
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	valid := Options{
		MaxAttempts: 3,
		Backoff:     Backoff{Kind: BackoffExponential, Delay: time.Second},
		Timeout:     time.Minute,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid options: %v", err)
	}

	broken := []func(o *Options){
		func(o *Options) { o.MaxAttempts = 0 },
		func(o *Options) { o.Timeout = 0 },
		func(o *Options) { o.Backoff.Kind = "linear" },
		func(o *Options) { o.Backoff.Delay = -time.Second },
		func(o *Options) { o.Retention.KeepFailed = -1 },
	}
	for i, mutate := range broken {
		o := valid
		mutate(&o)
		if err := o.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
