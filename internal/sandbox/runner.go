package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrUnknownEvent   = errors.New("no handler registered for event")
	ErrBudgetExceeded = errors.New("runner execution budget exceeded")
)

// Handler serves one named event. Returning an error rejects the invocation.
type Handler func(ctx context.Context, args map[string]any) (Response, error)

// Runner is one instance of an isolated, event-driven execution context.
//
// Its counters live only as long as the instance; a host may discard the
// instance between invocations and the replacement starts from zero.
type Runner struct {
	label     string
	budget    time.Duration
	now       func() time.Time
	startedAt time.Time

	mu       sync.RWMutex
	handlers map[string]Handler

	taskCount      atomic.Int64
	heartbeatCount atomic.Int64

	running   atomic.Bool
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRunner creates an empty instance. A budget of zero disables the time box.
func NewRunner(label string, budget time.Duration) *Runner {
	now := time.Now
	return &Runner{
		label:     label,
		budget:    budget,
		now:       now,
		startedAt: now(),
		handlers:  make(map[string]Handler),
		stop:      make(chan struct{}),
	}
}

func (r *Runner) Label() string { return r.label }

// TaskCount is the number of locationUpdate tasks this instance has started.
func (r *Runner) TaskCount() int64 { return r.taskCount.Load() }

// HeartbeatCount is the number of heartbeats this instance has recorded.
func (r *Runner) HeartbeatCount() int64 { return r.heartbeatCount.Load() }

// Running reports whether the background heartbeat is active.
func (r *Runner) Running() bool { return r.running.Load() }

// StartHeartbeat beats once now and then every interval until Close.
// It does nothing if the heartbeat is already running or interval is not positive.
func (r *Runner) StartHeartbeat(interval time.Duration) {
	if interval <= 0 || !r.running.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		r.beat()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-t.C:
				r.beat()
			}
		}
	}()
}

// Close stops the background heartbeat. Handlers keep working.
func (r *Runner) Close() {
	r.closeOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *Runner) beat() int64 {
	n := r.heartbeatCount.Add(1)
	log.Printf("runner %s: heartbeat #%d (uptime %s)", r.label, n, r.now().Sub(r.startedAt).Truncate(time.Second))
	return n
}

// Register installs h for event, replacing any earlier handler.
func (r *Runner) Register(event string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = h
}

// Invoke runs the handler for event within the execution budget.
// Handler errors and panics come back as *HandlerError; nothing is retried.
func (r *Runner) Invoke(ctx context.Context, event string, args map[string]any) (Response, error) {
	r.mu.RLock()
	h, ok := r.handlers[event]
	r.mu.RUnlock()
	if !ok {
		return Response{}, fmt.Errorf("%w: %q on %s", ErrUnknownEvent, event, r.label)
	}

	runCtx := ctx
	if r.budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.budget)
		defer cancel()
	}

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("runner %s: %s handler panicked: %v", r.label, event, rec)
				done <- result{err: &HandlerError{Message: fmt.Sprint(rec), TaskID: r.taskCount.Load()}}
			}
		}()
		resp, err := h(runCtx, args)
		if err != nil {
			var he *HandlerError
			if !errors.As(err, &he) {
				err = &HandlerError{Message: err.Error(), TaskID: r.taskCount.Load()}
			}
		}
		done <- result{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-runCtx.Done():
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("%w: %s after %s", ErrBudgetExceeded, event, r.budget)
	}
}

func (r *Runner) timestamp() int64 { return r.now().UnixMilli() }
