package infra

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// RunnerBody is the work function a ThreadRunner executes. It must return
// promptly once either the global token or the local flag reports a stop.
type RunnerBody func(global StopToken, local *atomic.Bool)

// ThreadRunner owns one worker goroutine and its local stop flag. A runner
// is a stable resource anchor and must not be copied after first use. It
// has no teardown of its own: a runner dropped without RequestStop and
// Join leaves its worker goroutine running. The Stage wrapper pairs every
// Start with RequestStop and Join.
type ThreadRunner struct {
	name string

	mu      sync.Mutex
	started bool
	done    chan struct{}

	localStop  atomic.Bool
	globalStop StopToken
}

// NewThreadRunner returns an idle runner with the given name. The name is
// used for lifecycle logging only.
func NewThreadRunner(name string) *ThreadRunner {
	return &ThreadRunner{name: name}
}

// Name returns the runner's name.
func (r *ThreadRunner) Name() string { return r.name }

// Start spawns the worker goroutine running body. Starting a runner that has
// already been started (even if its worker has since exited) is an
// invariant violation and returns an error.
func (r *ThreadRunner) Start(global StopToken, body RunnerBody) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("thread runner %q already started", r.name)
	}
	r.started = true
	r.localStop.Store(false)
	r.globalStop = global
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		body(r.globalStop, &r.localStop)
	}()

	return nil
}

// RequestStop sets the local stop flag. It does not join and does not
// affect other runners.
func (r *ThreadRunner) RequestStop() {
	r.localStop.Store(true)
}

// StopRequested reports whether either the global or the local stop flag
// is set.
func (r *ThreadRunner) StopRequested() bool {
	return r.globalStop.StopRequested() || r.localStop.Load()
}

// Join blocks until the worker goroutine exits. Joining a runner that was
// never started is a no-op.
func (r *ThreadRunner) Join() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}
