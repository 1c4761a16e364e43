package jobs

import "sync/atomic"

// Slot admits at most one job at a time. There is no queue: a second
// acquire while the slot is held fails immediately.
type Slot struct {
	busy atomic.Bool
}

func (s *Slot) TryAcquire() bool { return s.busy.CompareAndSwap(false, true) }
func (s *Slot) Release()         { s.busy.Store(false) }
func (s *Slot) Busy() bool       { return s.busy.Load() }
