package lock

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mkrause/deskpad/internal/netfs"
)

// testConfig returns fast timings suitable for tests.
func testConfig() *Config {
	return &Config{
		Timeout:      500 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		StaleAfter:   30 * time.Second,
		Logger:       log.New(io.Discard, "", 0),
	}
}

func readInfo(t *testing.T, path string) Info {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("failed to parse lock file: %v", err)
	}
	return info
}

func TestAcquireCreatesLockFile(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "machine-a", testConfig())

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	info := readInfo(t, l.Path())
	if info.OwnerID != "machine-a" {
		t.Errorf("expected owner machine-a, got %s", info.OwnerID)
	}
	if info.ProcessID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), info.ProcessID)
	}
	if info.Nonce == "" {
		t.Error("expected a nonce")
	}
	if info.AcquiredAt == 0 {
		t.Error("expected an acquisition timestamp")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Error("expected lock file removed after release")
	}
}

func TestAcquireContendedTimesOut(t *testing.T) {
	dir := t.TempDir()

	holder := New(dir, "machine-a", testConfig())
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("holder Acquire failed: %v", err)
	}

	contender := New(dir, "machine-b", testConfig())
	err := contender.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected contender to time out")
	}

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}
	if timeoutErr.Owner != "machine-a" {
		t.Errorf("expected perceived owner machine-a, got %q", timeoutErr.Owner)
	}
}

func TestAcquireReentrantRefreshesTimestamp(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "machine-a", testConfig())

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	first := readInfo(t, l.Path())

	time.Sleep(5 * time.Millisecond)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("re-entrant Acquire failed: %v", err)
	}
	second := readInfo(t, l.Path())

	if second.AcquiredAt < first.AcquiredAt {
		t.Error("re-entry must not move the timestamp backward")
	}
	if second.Nonce != first.Nonce {
		t.Errorf("re-entry must keep the original nonce: %s != %s", second.Nonce, first.Nonce)
	}
}

func TestStaleLockReclaimed(t *testing.T) {
	tests := []struct {
		name        string
		age         time.Duration
		wantAcquire bool
	}{
		{"older than threshold", 31 * time.Second, true},
		{"younger than threshold", 5 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, FileName)

			stale := Info{
				OwnerID:    "crashed-machine",
				AcquiredAt: time.Now().Add(-tt.age).UnixMilli(),
				ProcessID:  99999,
				Nonce:      "old-nonce",
			}
			data, _ := json.Marshal(stale)
			if err := os.WriteFile(path, data, 0644); err != nil {
				t.Fatalf("failed to plant lock file: %v", err)
			}

			l := New(dir, "machine-b", testConfig())
			err := l.Acquire(context.Background())

			if tt.wantAcquire {
				if err != nil {
					t.Fatalf("expected stale lock reclaimed, got %v", err)
				}
				info := readInfo(t, path)
				if info.OwnerID != "machine-b" {
					t.Errorf("expected new owner machine-b, got %s", info.OwnerID)
				}
			} else {
				if err == nil {
					t.Fatal("expected acquisition to fail against a live lock")
				}
			}
		})
	}
}

func TestReleaseIdempotent(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "machine-a", testConfig())

	// Releasing a lock that was never acquired (no file) succeeds.
	if err := l.Release(); err != nil {
		t.Errorf("release of absent lock should succeed: %v", err)
	}

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release should succeed: %v", err)
	}
}

func TestReleaseRefusesForeignLock(t *testing.T) {
	dir := t.TempDir()

	owner := New(dir, "machine-a", testConfig())
	if err := owner.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	other := New(dir, "machine-b", testConfig())
	if err := other.Release(); err == nil {
		t.Error("expected release of another machine's lock to fail")
	}
	if _, err := os.Stat(owner.Path()); err != nil {
		t.Error("foreign release must not remove the lock file")
	}
}

func TestReleaseWarnsOnPidMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	// Same machine, different (dead) process: release succeeds with a
	// warning, since a lock can outlive its process across a crash/restart.
	info := Info{
		OwnerID:    "machine-a",
		AcquiredAt: time.Now().UnixMilli(),
		ProcessID:  99999,
		Nonce:      "n",
	}
	data, _ := json.Marshal(info)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to plant lock file: %v", err)
	}

	l := New(dir, "machine-a", testConfig())
	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected lock file removed")
	}
}

func TestAcquireCancelledByContext(t *testing.T) {
	dir := t.TempDir()

	holder := New(dir, "machine-a", testConfig())
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("holder Acquire failed: %v", err)
	}

	cfg := testConfig()
	cfg.Timeout = 10 * time.Second
	contender := New(dir, "machine-b", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := contender.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMutualExclusion(t *testing.T) {
	dir := t.TempDir()

	cfg := testConfig()
	cfg.Timeout = 5 * time.Second

	var (
		mu      sync.Mutex
		inside  int
		overlap bool
	)

	var wg sync.WaitGroup
	for _, owner := range []string{"machine-a", "machine-b"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			l := New(dir, owner, cfg)

			for i := 0; i < 20; i++ {
				if err := l.Acquire(context.Background()); err != nil {
					t.Errorf("%s: Acquire failed: %v", owner, err)
					return
				}

				mu.Lock()
				inside++
				if inside > 1 {
					overlap = true
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()

				if err := l.Release(); err != nil {
					t.Errorf("%s: Release failed: %v", owner, err)
					return
				}
			}
		}(owner)
	}
	wg.Wait()

	if overlap {
		t.Error("two owners observed the lock as held simultaneously")
	}
}

func TestReadInfo(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "machine-a", testConfig())

	info, err := l.ReadInfo()
	if err != nil {
		t.Fatalf("ReadInfo failed: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil info with no lock held, got %+v", info)
	}

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	info, err = l.ReadInfo()
	if err != nil {
		t.Fatalf("ReadInfo failed: %v", err)
	}
	if info == nil || info.OwnerID != "machine-a" {
		t.Errorf("expected info for machine-a, got %+v", info)
	}
}

func TestAcquireMissingFolderIsUnreachable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "unmounted")
	l := New(dir, "machine-a", testConfig())

	start := time.Now()
	err := l.Acquire(context.Background())
	if !errors.Is(err, netfs.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable for a missing shared folder, got %v", err)
	}
	// Unreachability aborts immediately rather than polling out the timeout.
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("expected immediate abort, took %s", elapsed)
	}
}
