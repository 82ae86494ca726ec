package xfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/materials-commons/mcdrop/pkg/clog"
)

type PeriodicTaskOptionFN func(*PeriodicTask)

// PeriodicTask calls a function on a fixed interval between Start and Stop. Runs
// never overlap.
type PeriodicTask struct {
	name           string
	interval       time.Duration
	fn             func(ctx context.Context)
	runImmediately bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPeriodicTask(name string, interval time.Duration, fn func(ctx context.Context), optFNs ...PeriodicTaskOptionFN) *PeriodicTask {
	t := &PeriodicTask{
		name:     name,
		interval: interval,
		fn:       fn,
	}

	for _, optfn := range optFNs {
		optfn(t)
	}

	return t
}

// WithRunImmediately makes the task run once as soon as it starts instead of waiting
// for the first tick.
func WithRunImmediately() PeriodicTaskOptionFN {
	return func(t *PeriodicTask) {
		t.runImmediately = true
	}
}

// Start launches the task. The task stops when Stop is called or ctx is cancelled.
func (t *PeriodicTask) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return fmt.Errorf("periodic task %s is already running", t.name)
	}

	if t.interval <= 0 {
		return fmt.Errorf("periodic task %s has invalid interval %s", t.name, t.interval)
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.run(ctx, t.done)

	clog.Global().Infof("Started periodic task %s, interval %s", t.name, t.interval)
	return nil
}

// Stop cancels the task and waits for an in progress run to finish. Stopping a task
// that is not running is a no-op.
func (t *PeriodicTask) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	clog.Global().Infof("Stopped periodic task %s", t.name)
}

func (t *PeriodicTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *PeriodicTask) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	if t.runImmediately {
		t.fn(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fn(ctx)
		}
	}
}
