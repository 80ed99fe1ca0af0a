package sync

import "sync/atomic"

// Guard admits one sync pass at a time. A caller that loses the race does
// not wait: its request is dropped.
type Guard struct {
	running atomic.Bool
}

// TryAcquire marks a pass as running. It returns false if one already is.
func (g *Guard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release ends the running pass.
func (g *Guard) Release() {
	g.running.Store(false)
}

// Running reports whether a pass holds the guard.
func (g *Guard) Running() bool {
	return g.running.Load()
}
