package pipeline

import (
	"sync/atomic"
)

// Status tracks pipeline health for one project.
type Status struct {
	queued    atomic.Int64
	inFlight  atomic.Int64
	transient atomic.Int64
	permanent atomic.Int64
	commitTS  atomic.Int64
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Queued          int   `json:"queued"`
	InFlight        int   `json:"in_flight"`
	LastCommitTS    int64 `json:"last_commit_ts"`
	TransientErrors int64 `json:"transient_errors"`
	PermanentErrors int64 `json:"permanent_errors"`
}

// Snapshot returns the current counter values.
func (s *Status) Snapshot() Snapshot {
	return Snapshot{
		Queued:          int(s.queued.Load()),
		InFlight:        int(s.inFlight.Load()),
		LastCommitTS:    s.commitTS.Load(),
		TransientErrors: s.transient.Load(),
		PermanentErrors: s.permanent.Load(),
	}
}

// CountTransient increments the transient error counter. Handed to the
// embedder client as its retry hook.
func (s *Status) CountTransient() {
	s.transient.Add(1)
}

// Idle reports whether no tasks are pending or in flight.
func (s *Status) Idle() bool {
	return s.queued.Load() == 0 && s.inFlight.Load() == 0
}
