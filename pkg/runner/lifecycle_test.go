package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDrainer struct {
	calls atomic.Int32
	delay time.Duration
}

func (d *fakeDrainer) Drain() error {
	d.calls.Add(1)
	time.Sleep(d.delay)
	return nil
}

func TestLifecycleRunnerDrainsOnStop(t *testing.T) {
	d := &fakeDrainer{}
	var started, stopped atomic.Bool
	r := NewLifecycleRunner(d, Hooks{
		OnStart: func() { started.Store(true) },
		OnStop:  func() { stopped.Store(true) },
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running state")
		}
		time.Sleep(time.Millisecond)
	}
	if !started.Load() {
		t.Fatalf("OnStart hook not invoked")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if d.calls.Load() != 1 {
		t.Fatalf("expected one drain call, got %d", d.calls.Load())
	}
	if !stopped.Load() {
		t.Fatalf("OnStop hook not invoked")
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped state, got %v", r.State())
	}
}

func TestLifecycleRunnerDrainTimeout(t *testing.T) {
	d := &fakeDrainer{delay: 200 * time.Millisecond}
	r := NewLifecycleRunner(d, Hooks{}, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running state")
		}
		time.Sleep(time.Millisecond)
	}

	if err := r.Stop(); err == nil || err.Error() != "drain timeout" {
		t.Fatalf("expected drain timeout, got %v", err)
	}
	<-done
}

func TestLifecycleRunnerRejectsDoubleRun(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running state")
		}
		time.Sleep(time.Millisecond)
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("second run must fail")
	}
	cancel()
	<-done
}
