package infra

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStopSignalMonotone(t *testing.T) {
	sig := NewStopSignal()
	tok := sig.Token()

	if sig.StopRequested() || tok.StopRequested() {
		t.Fatal("fresh signal must not report stop")
	}

	sig.RequestStop()
	sig.RequestStop() // idempotent

	for i := 0; i < 100; i++ {
		if !tok.StopRequested() {
			t.Fatal("stop observation must be monotone once requested")
		}
	}
}

func TestStopTokenZeroValue(t *testing.T) {
	var tok StopToken
	if tok.StopRequested() {
		t.Error("zero-value token must never report stop")
	}
}

func TestThreadRunnerLifecycle(t *testing.T) {
	sig := NewStopSignal()
	r := NewThreadRunner("worker")

	var ticks atomic.Int64
	err := r.Start(sig.Token(), func(global StopToken, local *atomic.Bool) {
		for !Stopping(global, local) {
			ticks.Add(1)
			time.Sleep(time.Millisecond)
		}
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := r.Start(sig.Token(), func(StopToken, *atomic.Bool) {}); err == nil {
		t.Error("double start must fail")
	}

	time.Sleep(10 * time.Millisecond)
	r.RequestStop()
	r.Join()
	r.Join() // idempotent

	if ticks.Load() == 0 {
		t.Error("worker body never ran")
	}
	if !r.StopRequested() {
		t.Error("StopRequested must reflect the local flag")
	}
}

func TestThreadRunnerGlobalStop(t *testing.T) {
	sig := NewStopSignal()
	r := NewThreadRunner("worker")

	exited := make(chan struct{})
	if err := r.Start(sig.Token(), func(global StopToken, local *atomic.Bool) {
		defer close(exited)
		for !Stopping(global, local) {
			time.Sleep(time.Millisecond)
		}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sig.RequestStop()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("worker did not observe global stop")
	}
	r.Join()
}

func TestThreadRunnerJoinWithoutStart(t *testing.T) {
	r := NewThreadRunner("idle")
	r.RequestStop()
	r.Join() // must not block or panic
}
