package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fixedBackoff waits the same short time before every retry.
type fixedBackoff time.Duration

func (f fixedBackoff) Next(int) time.Duration { return time.Duration(f) }

func TestExponentialBackoff_Next(t *testing.T) {
	b := &ExponentialBackoff{
		Base:   100 * time.Millisecond,
		Max:    1 * time.Second,
		Factor: 2.0,
		Jitter: 0.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second},
		{30, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := b.Next(tt.attempt); got != tt.expected {
			t.Errorf("Next(%d) = %v; want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestExponentialBackoff_JitterStaysInBounds(t *testing.T) {
	b := DefaultBackoff()
	b.Jitter = 0.1

	for i := 0; i < 100; i++ {
		got := b.Next(1)
		if got < 180*time.Millisecond || got > 220*time.Millisecond {
			t.Fatalf("Next(1) with jitter = %v; want within 10%% of 200ms", got)
		}
	}
}

func TestRetry(t *testing.T) {
	errTransient := errors.New("connection reset")
	errPermanent := errors.New("policy not found")

	tests := []struct {
		name      string
		failures  int
		permanent bool
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{"first call succeeds", 0, false, 3, 1, nil},
		{"succeeds after transient failures", 2, false, 3, 3, nil},
		{"gives up after attempts", 5, false, 3, 3, errTransient},
		{"permanent error stops at once", 5, true, 3, 1, errPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retry(context.Background(), fixedBackoff(time.Millisecond), tt.attempts, func() (bool, error) {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return true, errPermanent
					}
					return false, errTransient
				}
				return false, nil
			})

			if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
				t.Errorf("retry() error = %v; want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("retry() made %d calls; want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry(ctx, fixedBackoff(time.Hour), 3, func() (bool, error) {
		calls++
		cancel()
		return false, errors.New("unavailable")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("retry() error = %v; want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("retry() made %d calls after cancel; want 1", calls)
	}
}
