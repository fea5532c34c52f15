package spool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tickbridge-systems/tickbridge/internal/metrics"
)

// SendFunc reissues a spooled request and returns the response status code.
// A transport-level failure is reported as an error with code 0.
type SendFunc func(ctx context.Context, req Request) (int, error)

// ResultFunc is invoked after a successful replay, before the file is
// deleted, so the caller can record the delivery in the audit ledger.
type ResultFunc func(ctx context.Context, req Request, statusCode int)

// Replayer is the single background task that owns the spool directory.
// On a fixed interval it walks spooled requests in creation order, reissues
// each one, deletes the file on success and leaves it untouched on failure.
// There is no retry bound: a request stays spooled until it succeeds or an
// operator intervenes.
type Replayer struct {
	queue     *Queue
	send      SendFunc
	onSuccess ResultFunc
	interval  time.Duration
	timeout   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReplayer(queue *Queue, send SendFunc, onSuccess ResultFunc, interval, timeout time.Duration) *Replayer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Replayer{
		queue:     queue,
		send:      send,
		onSuccess: onSuccess,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start launches the replay loop.
func (r *Replayer) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.loop(ctx)

	slog.Info("spool replayer started",
		slog.String("dir", r.queue.Dir()),
		slog.Duration("interval", r.interval),
	)
}

// Stop signals the replayer and waits for the current iteration to finish.
func (r *Replayer) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	slog.Info("spool replayer stopped")
}

func (r *Replayer) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single replay pass over the spool directory.
// A failing or corrupt file never blocks the rest of the pass.
func (r *Replayer) RunOnce(ctx context.Context) {
	names, err := r.queue.List()
	if err != nil {
		slog.Warn("spool listing failed", slog.String("error", err.Error()))
		return
	}
	metrics.SpoolDepth.Set(float64(len(names)))

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		r.replayOne(ctx, name)
	}
}

func (r *Replayer) replayOne(ctx context.Context, name string) {
	req, err := r.queue.Read(name)
	if err != nil {
		// Corrupt or unreadable entry: skip, never fatal.
		metrics.ReplayedRequests.WithLabelValues("corrupt").Inc()
		slog.Warn("skipping unreadable spool entry",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	status, err := r.send(sendCtx, req)
	cancel()

	if err != nil || status < 200 || status >= 400 {
		metrics.ReplayedRequests.WithLabelValues("failed").Inc()
		if err != nil {
			slog.Warn("replay error", slog.String("file", name), slog.String("error", err.Error()))
		} else {
			slog.Warn("replay failed", slog.String("file", name), slog.Int("status", status))
		}
		return
	}

	if r.onSuccess != nil {
		r.onSuccess(ctx, req, status)
	}

	if err := r.queue.Delete(name); err != nil {
		slog.Warn("failed to delete replayed spool entry",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.ReplayedRequests.WithLabelValues("ok").Inc()
	slog.Info("replayed spool entry", slog.String("file", name), slog.Int("status", status))
}
