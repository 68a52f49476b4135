package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/forPelevin/hlfeed/internal/logger"
	"github.com/forPelevin/hlfeed/internal/types"
)

// Handler runs one job. A returned error schedules a retry.
type Handler func(ctx context.Context, args []string) error

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	// Heartbeat is how often a running job's lease is renewed. Zero
	// disables renewal.
	Heartbeat time.Duration
}

type Worker struct {
	q        Queue
	registry *Registry
	cfg      WorkerConfig
	log      *logger.Logger
	limiter  *rate.Limiter
}

func NewWorker(q Queue, registry *Registry, cfg WorkerConfig, baseLog *logger.Logger) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{
		q:        q,
		registry: registry,
		cfg:      cfg,
		log:      baseLog.With("component", "JobWorker"),
		limiter:  rate.NewLimiter(rate.Every(cfg.PollInterval), cfg.Concurrency),
	}
}

// Run consumes jobs with cfg.Concurrency loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.loop(gctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, workerID int) {
	for {
		handled, err := w.RunOnce(ctx)
		if err != nil {
			w.log.Warn("Claim failed", "worker_id", workerID, "error", err)
		}
		if handled {
			continue
		}
		// Idle or failing: throttle polling.
		if err := w.limiter.Wait(ctx); err != nil {
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was
// handled; handler failures are absorbed into the retry policy.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	job, err := w.q.Claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.handle(ctx, job)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, job *types.Job) {
	log := w.log.With("job_id", job.ID, "job_type", job.Name, "attempt", job.Attempts)

	h, ok := w.registry.Get(job.Name)
	if !ok {
		log.Warn("No handler registered for job_type")
		if err := w.q.Bury(ctx, job, &missingHandlerError{JobType: job.Name}); err != nil {
			log.Error("Bury failed", "error", err)
		}
		return
	}

	stop := w.heartbeat(ctx, job, log)
	runErr := run(ctx, h, job)
	stop()
	if runErr == nil {
		if err := w.q.Ack(ctx, job); err != nil {
			log.Error("Ack failed", "error", err)
		}
		return
	}

	if IsPanic(runErr) {
		log.Error("Handler panicked", "error", runErr)
	}
	if job.Attempts <= w.cfg.MaxRetries {
		log.Warn("Job failed, retrying", "error", runErr, "backoff", w.cfg.RetryBackoff)
		if err := w.q.Retry(ctx, job, w.cfg.RetryBackoff, runErr); err != nil {
			log.Error("Retry failed", "error", err)
		}
		return
	}
	log.Error("Job failed, retries exhausted", "error", runErr)
	if err := w.q.Bury(ctx, job, runErr); err != nil {
		log.Error("Bury failed", "error", err)
	}
}

// heartbeat renews the job lease every cfg.Heartbeat until the returned
// stop func is called.
func (w *Worker) heartbeat(ctx context.Context, job *types.Job, log *logger.Logger) func() {
	if w.cfg.Heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var (
		wg   sync.WaitGroup
		once sync.Once
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(w.cfg.Heartbeat)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				if err := w.q.Extend(ctx, job); err != nil {
					log.Warn("Lease renewal failed", "error", err)
				}
			}
		}
	}()
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func run(ctx context.Context, h Handler, job *types.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{Val: r}
		}
	}()
	return h(ctx, job.Args)
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }

// IsPanic reports whether err came from a recovered handler panic.
func IsPanic(err error) bool {
	var p *panicError
	return errors.As(err, &p)
}
