package breaker

import (
	"io"
	"log"
	"testing"
	"time"
)

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()

	now := time.Unix(1_700_000_000, 0)
	b := New(&Config{
		FailureThreshold: 5,
		BackoffFloor:     30 * time.Second,
		BackoffCap:       5 * time.Minute,
		Logger:           log.New(io.Discard, "", 0),
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("circuit opened after %d failures, threshold is 5", i+1)
		}
	}

	b.RecordFailure()
	if b.Allow() {
		t.Error("circuit should be open after 5 consecutive failures")
	}

	state, failures, resetAt := b.Status()
	if state != Open {
		t.Errorf("expected Open, got %s", state)
	}
	if failures != 5 {
		t.Errorf("expected 5 failures, got %d", failures)
	}
	if resetAt.IsZero() {
		t.Error("expected a reset time while open")
	}
}

func TestBreakerBackoffDoublesAndCaps(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	wantBackoffs := []time.Duration{
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		5 * time.Minute, // capped
		5 * time.Minute, // stays capped
	}

	for i, want := range wantBackoffs {
		_, _, resetAt := b.Status()
		if got := resetAt.Sub(*now); got != want {
			t.Fatalf("failure %d: expected backoff %s, got %s", i, want, got)
		}

		// Pass the window, take the half-open probe, fail it.
		*now = resetAt
		if !b.Allow() {
			t.Fatalf("failure %d: expected half-open probe after backoff elapsed", i)
		}
		if b.Allow() {
			t.Fatalf("failure %d: only one probe may be allowed", i)
		}
		b.RecordFailure()
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	_, _, resetAt := b.Status()
	*now = resetAt.Add(time.Second)

	if !b.Allow() {
		t.Fatal("expected half-open probe")
	}
	b.RecordSuccess()

	state, failures, _ := b.Status()
	if state != Closed || failures != 0 {
		t.Errorf("expected closed circuit with zero failures, got %s/%d", state, failures)
	}

	// Backoff returned to the floor: the next run of failures starts over.
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	_, _, resetAt = b.Status()
	if got := resetAt.Sub(*now); got != 30*time.Second {
		t.Errorf("expected backoff reset to floor, got %s", got)
	}
}

func TestBreakerSuppressedWhileOpen(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	*now = now.Add(10 * time.Second) // inside the 30s window
	if b.Allow() {
		t.Error("attempts must be suppressed before the reset time")
	}
}

func TestBreakerManualReset(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *Breaker, now *time.Time)
	}{
		{"from open", func(b *Breaker, now *time.Time) {
			for i := 0; i < 5; i++ {
				b.RecordFailure()
			}
		}},
		{"from half-open", func(b *Breaker, now *time.Time) {
			for i := 0; i < 5; i++ {
				b.RecordFailure()
			}
			_, _, resetAt := b.Status()
			*now = resetAt
			b.Allow()
		}},
		{"from closed with failures", func(b *Breaker, now *time.Time) {
			b.RecordFailure()
			b.RecordFailure()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, now := newTestBreaker(t)
			tt.setup(b, now)

			b.Reset()

			state, failures, resetAt := b.Status()
			if state != Closed {
				t.Errorf("expected Closed after reset, got %s", state)
			}
			if failures != 0 {
				t.Errorf("expected zero failures after reset, got %d", failures)
			}
			if !resetAt.IsZero() {
				t.Error("expected no pending retry time after reset")
			}
			if !b.Allow() {
				t.Error("expected attempts allowed after reset")
			}
		})
	}
}

func TestBreakerSuccessClearsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(t)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if !b.Allow() {
		t.Error("failure counter must reset on success; circuit opened early")
	}
}
