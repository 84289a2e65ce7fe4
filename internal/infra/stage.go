package infra

import "sync/atomic"

// StageBody is the loop a stage runs on its worker thread. Bodies follow
// the uniform contract: while neither global nor local stop is requested,
// attempt one unit of work with a short bounded wait, and on success
// record the elapsed time in the stage's metrics.
type StageBody func(global StopToken, local *atomic.Bool)

// Stage wraps a named ThreadRunner with uniform start/stop behaviour.
// Concrete stages embed a *Stage and supply their run loop at
// construction time.
type Stage struct {
	name   string
	runner *ThreadRunner
	body   StageBody
}

// NewStage creates a stage with the given name and run body.
func NewStage(name string, body StageBody) *Stage {
	return &Stage{
		name:   name,
		runner: NewThreadRunner(name),
		body:   body,
	}
}

// Name returns the stage's stable name.
func (s *Stage) Name() string { return s.name }

// Start launches the stage's worker exactly once. A second Start is an
// invariant violation and returns the runner's error.
func (s *Stage) Start(global StopToken) error {
	if err := s.runner.Start(global, RunnerBody(s.body)); err != nil {
		return err
	}
	Opsf("%s started", s.name)
	return nil
}

// Stop requests a local stop and joins the worker. Safe to call on a
// stage that was never started.
func (s *Stage) Stop() {
	s.runner.RequestStop()
	s.runner.Join()
	Opsf("%s stopped", s.name)
}

// Stopping reports whether the stage should exit its loop.
func Stopping(global StopToken, local *atomic.Bool) bool {
	return global.StopRequested() || local.Load()
}
