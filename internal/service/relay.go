package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grantgumina/kraken/internal/model"
)

var (
	ErrRelayQueueFull = errors.New("relay queue full")
	ErrRelayClosed    = errors.New("relay closed")
)

const (
	// DefaultRelayQueue is the number of lines waiting for submission before
	// new lines are dropped.
	DefaultRelayQueue = 1024
	// DefaultRelayGrace bounds the drain after the job was cancelled.
	DefaultRelayGrace = 5 * time.Second
)

// Relay forwards the lines of one job to the remote service. Write only
// enqueues; a single Run loop submits the lines in order. Failed submissions
// are logged and never retried.
type Relay struct {
	submitter model.LineSubmitter
	job       string
	queue     chan string
	grace     time.Duration

	mx     sync.RWMutex
	closed bool

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

type RelayStats struct {
	Sent    int64
	Failed  int64
	Dropped int64
}

func NewRelay(submitter model.LineSubmitter, job string, size int) *Relay {
	if size <= 0 {
		size = DefaultRelayQueue
	}
	return &Relay{
		submitter: submitter,
		job:       job,
		queue:     make(chan string, size),
		grace:     DefaultRelayGrace,
	}
}

// WithGrace sets how long queued lines are still submitted once the context
// of Run is cancelled. Non positive values keep the default.
func (r *Relay) WithGrace(d time.Duration) *Relay {
	if d > 0 {
		r.grace = d
	}
	return r
}

// Write enqueues line without blocking.
func (r *Relay) Write(_ context.Context, line string) error {
	r.mx.RLock()
	defer r.mx.RUnlock()
	if r.closed {
		return ErrRelayClosed
	}
	select {
	case r.queue <- line:
		return nil
	default:
		r.dropped.Add(1)
		return ErrRelayQueueFull
	}
}

// WriteWait enqueues line, waiting for room in the queue until ctx is done.
func (r *Relay) WriteWait(ctx context.Context, line string) error {
	r.mx.RLock()
	defer r.mx.RUnlock()
	if r.closed {
		return ErrRelayClosed
	}
	select {
	case r.queue <- line:
		return nil
	case <-ctx.Done():
		r.dropped.Add(1)
		return fmt.Errorf("%w: %w", ErrRelayQueueFull, context.Cause(ctx))
	}
}

// Close stops accepting lines. Run returns once the queued ones are sent.
func (r *Relay) Close() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	return nil
}

// Run submits queued lines until Close. Cancelling ctx does not stop the
// loop at once: queued lines are still submitted for the grace period, then
// the in-flight submission is aborted and the rest is dropped. Terminal
// markers are submitted even after the grace period, each bounded by it.
func (r *Relay) Run(ctx context.Context) error {
	submitCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	var expired atomic.Bool
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		timer := time.NewTimer(r.grace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			expired.Store(true)
			abort()
		}
	})
	defer func() {
		close(done)
		wg.Wait()
	}()

	for line := range r.queue {
		if !expired.Load() {
			r.submit(submitCtx, line)
			continue
		}
		if !IsMarker(line) {
			r.dropped.Add(1)
			continue
		}
		markerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.grace)
		r.submit(markerCtx, line)
		cancel()
	}
	stats := r.Stats()
	slog.DebugContext(ctx, "relay drained", "job", r.job, "sent", stats.Sent, "failed", stats.Failed, "dropped", stats.Dropped)
	if expired.Load() && stats.Dropped > 0 {
		slog.WarnContext(ctx, "relay grace period expired: lines dropped", "job", r.job, "dropped", stats.Dropped)
	}
	return nil
}

func (r *Relay) submit(ctx context.Context, line string) {
	if err := r.submitter.SubmitLine(ctx, r.job, line); err != nil {
		r.failed.Add(1)
		slog.WarnContext(ctx, "relaying line failed: dropping", "job", r.job, "error", err)
		return
	}
	r.sent.Add(1)
}

func (r *Relay) Stats() RelayStats {
	return RelayStats{
		Sent:    r.sent.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.dropped.Load(),
	}
}
