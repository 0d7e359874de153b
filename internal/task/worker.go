package task

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oakhurst/playnest-api/internal/events"
)

// WorkerLoop is the single logical worker driving the claim/execute cycle for
// this process. It wakes on a fixed interval and immediately on work signals,
// draining the queue until a claim finds nothing ready. Tasks are drained one
// at a time; concurrency safety across multiple processes is delegated to the
// store's row locking.
type WorkerLoop struct {
	orch     *Orchestrator
	work     *events.WorkSignal
	interval time.Duration

	// draining coalesces overlapping wake-ups: a tick or signal arriving
	// while a drain cycle runs is a no-op.
	draining atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewWorkerLoop creates a worker loop polling at the given interval.
// A non-positive interval falls back to 500ms.
func NewWorkerLoop(
	orch *Orchestrator,
	work *events.WorkSignal,
	interval time.Duration,
	logger *slog.Logger,
) *WorkerLoop {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerLoop{
		orch:     orch,
		work:     work,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With("component", "worker_loop"),
	}
}

// Start launches the loop goroutine.
func (w *WorkerLoop) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.Info("worker loop started", "poll_interval", w.interval)
}

// Stop cancels the loop and waits for the current drain cycle to finish.
func (w *WorkerLoop) Stop() {
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker loop stopped")
}

func (w *WorkerLoop) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.work.C():
			w.Drain(w.ctx)
		case <-ticker.C:
			w.Drain(w.ctx)
		}
	}
}

// Drain claims and executes tasks in a tight loop until none is ready.
// Infrastructure errors are logged and end the cycle; the loop itself keeps
// running and tries again on the next tick. Reentrant calls are no-ops.
func (w *WorkerLoop) Drain(ctx context.Context) {
	if !w.draining.CompareAndSwap(false, true) {
		return
	}
	defer w.draining.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.orch.RunNext(ctx)
		if err != nil {
			w.logger.Error("drain cycle aborted", "error", err)
			return
		}
		if !processed {
			return
		}
	}
}
