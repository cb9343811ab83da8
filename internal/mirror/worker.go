package mirror

import (
	"context"
	"log/slog"
	"sync"

	"customstream/internal/catalog"
)

// Worker drains mirror_jobs one at a time on a single goroutine.
// Trigger is a non-blocking queue-kick: it schedules a drain pass without
// blocking the caller, and is a no-op while another pass is already pending.
type Worker struct {
	store  *catalog.Store
	engine *Engine

	mu      sync.Mutex
	running bool
	kick    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker builds a Worker bound to ctx's lifetime.
func NewWorker(ctx context.Context, store *catalog.Store, engine *Engine) *Worker {
	workerCtx, cancel := context.WithCancel(ctx)
	return &Worker{
		store:  store,
		engine: engine,
		kick:   make(chan struct{}, 1),
		ctx:    workerCtx,
		cancel: cancel,
	}
}

// Start resets any jobs orphaned by a prior crash back to queued, then
// begins the background drain loop and runs one initial pass in case work
// survived the restart.
func (w *Worker) Start(ctx context.Context) error {
	reset, err := w.store.Jobs.ResetOrphanedRunning(ctx, w.store.Queryer())
	if err != nil {
		return Invariantf(err, "reset orphaned running jobs on startup")
	}
	if reset > 0 {
		slog.Info("mirror worker: reset orphaned running jobs to queued", "count", reset)
	}

	w.wg.Add(1)
	go w.loop()
	w.Trigger()
	return nil
}

// Stop cancels the worker's context, which also cancels the job in progress,
// and waits for the background loop to return.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Trigger schedules a drain pass. It never blocks: if a pass is already
// pending, the call is a no-op; if a pass is running, one more pass is
// queued to run after it.
func (w *Worker) Trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.kick:
			w.drain()
		}
	}
}

// drain claims the running flag under the worker mutex, then processes the
// oldest queued job repeatedly until none remain.
func (w *Worker) drain() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	for {
		if w.ctx.Err() != nil {
			return
		}
		processed, err := w.processNext()
		if err != nil {
			slog.Error("mirror worker: drain pass aborted", "error", err)
			return
		}
		if !processed {
			return
		}
	}
}

// processNext acquires, runs, and finalises exactly one job. It returns
// false when the queue is empty.
func (w *Worker) processNext() (bool, error) {
	ctx := w.ctx

	job, err := w.store.Jobs.NextQueued(ctx, w.store.Queryer())
	if err != nil {
		return false, Invariantf(err, "select next queued job")
	}
	if job == nil {
		return false, nil
	}

	if err := w.store.Jobs.MarkRunning(ctx, w.store.Queryer(), job.ID); err != nil {
		return false, Invariantf(err, "mark job %d running", job.ID)
	}

	imageID, mirrorErr := w.engine.MirrorProduct(ctx, job.IndexURL, job.ProductID)
	if mirrorErr != nil {
		slog.Warn("mirror worker: job failed", "job_id", job.ID, "product_id", job.ProductID, "error", mirrorErr)
		if err := w.store.Jobs.MarkFailed(ctx, w.store.Queryer(), job.ID, mirrorErr.Error()); err != nil {
			return false, Invariantf(err, "mark job %d failed", job.ID)
		}
		return true, nil
	}

	if err := w.store.Jobs.MarkCompleted(ctx, w.store.Queryer(), job.ID, imageID); err != nil {
		return false, Invariantf(err, "mark job %d completed", job.ID)
	}
	slog.Info("mirror worker: job completed", "job_id", job.ID, "product_id", job.ProductID, "image_id", imageID)
	return true, nil
}
