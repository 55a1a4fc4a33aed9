package hedge

import "sync"

// Locks holds one exclusive, non-reentrant mutex per account. Entries
// are created lazily on first use and never removed; the table is
// bounded by the number of distinct accounts.
type Locks struct {
	table sync.Map // uid -> *sync.Mutex
}

func NewLocks() *Locks {
	return &Locks{}
}

// TryAcquire attempts to take the account's lock without blocking.
// A held lock means a workflow is already running; callers signal
// CodeTaskRunning and never queue. The returned release function is
// safe to defer and must run on every exit path.
func (l *Locks) TryAcquire(uid int64) (release func(), ok bool) {
	actual, _ := l.table.LoadOrStore(uid, &sync.Mutex{})
	mu := actual.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}
