package sync

import stdsync "sync"

// Gate reasons reported when a sync attempt may not proceed.
const (
	ReasonInProgress    = "in-progress"
	ReasonAlreadySynced = "already-synced"
)

// Gate is the process-wide re-entrancy guard: while one sync attempt is in
// flight for any user, nested invocations (e.g. triggered by a side effect
// of the first) are refused. It only serialises attempts within a single
// process; cross-process deduplication relies solely on the persisted
// recipient identifier check.
type Gate struct {
	mu       stdsync.Mutex
	inFlight bool
}

// TryAcquire marks a sync attempt as in flight. It reports false if another
// attempt already holds the gate. Callers must pair a successful acquire
// with a deferred Release covering every exit path.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight {
		return false
	}
	g.inFlight = true
	return true
}

// Release clears the in-flight flag unconditionally.
func (g *Gate) Release() {
	g.mu.Lock()
	g.inFlight = false
	g.mu.Unlock()
}

// InFlight reports whether an attempt currently holds the gate.
func (g *Gate) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}
