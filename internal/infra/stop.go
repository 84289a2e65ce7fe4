package infra

import "sync/atomic"

// StopSignal owns a single stop flag for the whole pipeline. The pipeline
// holds the signal; every worker receives a read-only StopToken view of it.
type StopSignal struct {
	stop atomic.Bool
}

// NewStopSignal returns a StopSignal with the flag unset.
func NewStopSignal() *StopSignal {
	return &StopSignal{}
}

// RequestStop sets the stop flag. Idempotent.
func (s *StopSignal) RequestStop() {
	s.stop.Store(true)
}

// StopRequested reports whether a stop has been requested.
func (s *StopSignal) StopRequested() bool {
	return s.stop.Load()
}

// Token returns a read-only view of this signal's flag.
func (s *StopSignal) Token() StopToken {
	return StopToken{flag: &s.stop}
}

// StopToken is a read-only capability referencing a StopSignal's flag.
// The zero value never reports a stop, so tokens are safe to pass around
// before the owning signal exists.
type StopToken struct {
	flag *atomic.Bool
}

// StopRequested reports whether the referenced signal has been stopped.
func (t StopToken) StopRequested() bool {
	return t.flag != nil && t.flag.Load()
}
