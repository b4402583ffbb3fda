package backend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/optics-suite/optics/pkg/errcode"
)

// DefaultBridgeTimeout is the wall-clock bound on one bridged call.
const DefaultBridgeTimeout = 120 * time.Second

type bridgeResult struct {
	value any
	err   error
}

type bridgeJob struct {
	name string
	ctx  context.Context
	fn   func(context.Context) (any, error)
	done chan bridgeResult // buffered so an abandoned result never blocks the worker
}

// AsyncBridge serializes calls into backends with asynchronous native
// interfaces through one persistent worker goroutine. Callers await the
// result with a wall-clock bound; a call that outlives its bound is
// abandoned and its eventual result discarded.
type AsyncBridge struct {
	jobs     chan bridgeJob
	stopCh   chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAsyncBridge starts the worker. timeout <= 0 selects
// DefaultBridgeTimeout.
func NewAsyncBridge(timeout time.Duration, logger *slog.Logger) *AsyncBridge {
	if timeout <= 0 {
		timeout = DefaultBridgeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &AsyncBridge{
		jobs:     make(chan bridgeJob),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
		timeout:  timeout,
		logger:   logger,
	}
	go b.runLoop()
	return b
}

// Do submits fn to the worker and awaits its result. Timeout or cancellation
// yields E0102; the in-flight call keeps the worker until it returns on its
// own, after which its result is dropped.
func (b *AsyncBridge) Do(ctx context.Context, name string, fn func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	job := bridgeJob{
		name: name,
		ctx:  ctx,
		fn:   fn,
		done: make(chan bridgeResult, 1),
	}

	select {
	case b.jobs <- job:
	case <-ctx.Done():
		return nil, b.timeoutErr(name, ctx.Err())
	case <-b.stopCh:
		return nil, errcode.Newf(errcode.DriverStartFailed, "async bridge stopped").WithDetails(name)
	}

	select {
	case res := <-job.done:
		return res.value, res.err
	case <-ctx.Done():
		b.logger.Warn("Abandoning async backend call", "call", name, "timeout", b.timeout)
		return nil, b.timeoutErr(name, ctx.Err())
	}
}

func (b *AsyncBridge) timeoutErr(name string, cause error) error {
	e := errcode.Newf(errcode.DriverStartFailed, "async call %q timed out after %s", name, b.timeout)
	e.Cause = cause
	return e
}

// Stop shuts the worker down. Idempotent; a job already running finishes
// first.
func (b *AsyncBridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		<-b.loopDone
	})
}

// runLoop is the sole executor: one job at a time, in submission order.
func (b *AsyncBridge) runLoop() {
	defer close(b.loopDone)
	for {
		select {
		case <-b.stopCh:
			return
		case job := <-b.jobs:
			value, err := job.fn(job.ctx)
			job.done <- bridgeResult{value, err}
		}
	}
}
