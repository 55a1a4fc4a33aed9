package hedge

import "testing"

func TestLocksMutualExclusion(t *testing.T) {
	locks := NewLocks()

	release, ok := locks.TryAcquire(1)
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}
	if _, ok := locks.TryAcquire(1); ok {
		t.Fatalf("expected second acquire on same uid to fail")
	}

	release()
	release2, ok := locks.TryAcquire(1)
	if !ok {
		t.Fatalf("expected acquire after release to succeed")
	}
	release2()
}

func TestLocksAreIndependentPerAccount(t *testing.T) {
	locks := NewLocks()

	release1, ok := locks.TryAcquire(1)
	if !ok {
		t.Fatalf("expected acquire for uid 1")
	}
	defer release1()

	release2, ok := locks.TryAcquire(2)
	if !ok {
		t.Fatalf("uid 2 must not be blocked by uid 1")
	}
	defer release2()
}
