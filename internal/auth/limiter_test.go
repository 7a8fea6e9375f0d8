package auth

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterLocksAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }

	for i := 1; i < maxLoginAttempts; i++ {
		remaining, err := l.Fail(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("Fail returned error: %v", err)
		}
		if remaining != maxLoginAttempts-i {
			t.Fatalf("attempt %d: remaining = %d", i, remaining)
		}
		if wait, _ := l.Check(ctx, "10.0.0.1"); wait != 0 {
			t.Fatalf("attempt %d: unexpected lock %v", i, wait)
		}
	}

	if remaining, _ := l.Fail(ctx, "10.0.0.1"); remaining != 0 {
		t.Fatalf("expected no remaining attempts, got %d", remaining)
	}
	wait, err := l.Check(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if wait != lockDuration {
		t.Fatalf("wait = %v, want %v", wait, lockDuration)
	}

	if wait, _ := l.Check(ctx, "10.0.0.2"); wait != 0 {
		t.Fatalf("other clients must not be locked: %v", wait)
	}

	now = now.Add(lockDuration + time.Second)
	if wait, _ := l.Check(ctx, "10.0.0.1"); wait != 0 {
		t.Fatalf("lock should expire, got %v", wait)
	}
}

func TestMemoryLimiterWindowResets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < maxLoginAttempts-1; i++ {
		_, _ = l.Fail(ctx, "ip")
	}
	now = now.Add(loginWindow + time.Minute)

	if remaining, _ := l.Fail(ctx, "ip"); remaining != maxLoginAttempts-1 {
		t.Fatalf("expected window to restart, remaining = %d", remaining)
	}
}

func TestMemoryLimiterReset(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter()
	for i := 0; i < maxLoginAttempts; i++ {
		_, _ = l.Fail(ctx, "ip")
	}
	if err := l.Reset(ctx, "ip"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if wait, _ := l.Check(ctx, "ip"); wait != 0 {
		t.Fatalf("expected lock to be cleared, got %v", wait)
	}
}

func TestMemoryLimiterStartsFreshWindowAfterLock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < maxLoginAttempts; i++ {
		_, _ = l.Fail(ctx, "ip")
	}
	// ロック (10分) は切れたがウィンドウ (15分) はまだ有効な時点
	now = now.Add(lockDuration + time.Minute)
	if wait, _ := l.Check(ctx, "ip"); wait != 0 {
		t.Fatalf("lock should have expired, got %v", wait)
	}

	remaining, err := l.Fail(ctx, "ip")
	if err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
	if remaining != maxLoginAttempts-1 {
		t.Fatalf("remaining = %d, want %d", remaining, maxLoginAttempts-1)
	}
	if wait, _ := l.Check(ctx, "ip"); wait != 0 {
		t.Fatalf("a single failure after the lock must not lock again, got %v", wait)
	}
}
