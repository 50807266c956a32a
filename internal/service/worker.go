package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/UnknownOlympus/quadrant/internal/geo"
	"github.com/UnknownOlympus/quadrant/internal/metrics"
	"github.com/UnknownOlympus/quadrant/internal/models"
	"github.com/UnknownOlympus/quadrant/internal/provider"
	"github.com/UnknownOlympus/quadrant/internal/queue"
)

// ErrPollExhausted is returned when a provider job is still unfinished after
// the configured number of poll attempts.
var ErrPollExhausted = errors.New("poll attempts exhausted")

// Store is the persistence subset used by task pipelines.
type Store interface {
	UpsertBusiness(ctx context.Context, place models.Place, keyword string) error
}

// Backoff holds the waits of the claim loop.
type Backoff struct {
	AtCapacity time.Duration // wait when all pipeline slots are busy
	Idle       time.Duration // wait when Pending is empty
	OnError    time.Duration // wait after a failed claim
}

// WorkerConfig holds the tunables of one worker process.
type WorkerConfig struct {
	Capacity            int           // Capacity is the number of concurrent pipelines.
	SplitThreshold      int           // SplitThreshold is the result count that triggers a split.
	PollAttempts        int           // PollAttempts bounds polling of one provider job.
	PollDelay           time.Duration // PollDelay is the wait between poll attempts.
	StaleTimeout        time.Duration // StaleTimeout is the claim age after which a task is recovered.
	RecoveryProbability float64       // RecoveryProbability is the per-iteration chance of a recovery pass.
	UpsertConcurrency   int           // UpsertConcurrency bounds parallel upserts of one result page.
	StatsInterval       time.Duration // StatsInterval is the queue depth refresh period, zero disables it.
	MinWidth            float64       // MinWidth is the smallest child width a split may produce, in meters.
	Backoff             Backoff
}

// DefaultWorkerConfig returns the stock tunables.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Capacity:            10,
		SplitThreshold:      100,
		PollAttempts:        20,
		PollDelay:           5 * time.Second,
		StaleTimeout:        600 * time.Second,
		RecoveryProbability: 0.01,
		UpsertConcurrency:   8,
		StatsInterval:       15 * time.Second,
		MinWidth:            50,
		Backoff: Backoff{
			AtCapacity: 100 * time.Millisecond,
			Idle:       time.Second,
			OnError:    5 * time.Second,
		},
	}
}

// Worker claims tasks from the shared queue and runs one pipeline per task,
// at most Capacity at a time.
type Worker struct {
	log      *zap.Logger       // Logger for logging worker activities
	queue    queue.Queue       // Queue shared by every worker process
	provider provider.Provider // Provider for the search round-trip
	store    Store             // Store receiving persisted places
	metrics  *metrics.Metrics  // Metrics for tracking worker performance
	cfg      WorkerConfig
	random   func() float64 // random source for the recovery draw
	slots    *semaphore.Weighted
	inflight sync.WaitGroup
}

// NewWorker creates a Worker. Non-positive tunables fall back to the defaults.
func NewWorker(
	log *zap.Logger,
	q queue.Queue,
	p provider.Provider,
	store Store,
	m *metrics.Metrics,
	cfg WorkerConfig,
) *Worker {
	cfg = withDefaults(cfg)
	return &Worker{
		log:      log,
		queue:    q,
		provider: p,
		store:    store,
		metrics:  m,
		cfg:      cfg,
		random:   rand.Float64,
		slots:    semaphore.NewWeighted(int64(cfg.Capacity)),
	}
}

// WithRandom replaces the random source used for the recovery draw.
func (w *Worker) WithRandom(random func() float64) *Worker {
	w.random = random
	return w
}

func withDefaults(cfg WorkerConfig) WorkerConfig {
	def := DefaultWorkerConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.SplitThreshold <= 0 {
		cfg.SplitThreshold = def.SplitThreshold
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = def.PollAttempts
	}
	if cfg.PollDelay < 0 {
		cfg.PollDelay = def.PollDelay
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = def.StaleTimeout
	}
	if cfg.RecoveryProbability < 0 {
		cfg.RecoveryProbability = 0
	}
	if cfg.UpsertConcurrency <= 0 {
		cfg.UpsertConcurrency = def.UpsertConcurrency
	}
	if !(cfg.MinWidth > 0) {
		cfg.MinWidth = def.MinWidth
	}
	return cfg
}

// Run drives the claim loop until ctx is cancelled, then waits for the
// pipelines it started. Pipelines interrupted by the cancellation leave their
// tasks claimed; the recovery pass of a live worker returns them to Pending.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("Worker started",
		zap.Int("capacity", w.cfg.Capacity),
		zap.Int("split_threshold", w.cfg.SplitThreshold))

	if w.cfg.StatsInterval > 0 {
		go w.reportQueueDepth(ctx)
	}

	for ctx.Err() == nil {
		w.claimNext(ctx)

		if w.random() < w.cfg.RecoveryProbability {
			_, _ = w.Recover(ctx)
		}
	}

	w.log.Info("Shutdown requested, waiting for in-flight pipelines")
	w.inflight.Wait()
	w.log.Info("Worker stopped")
}

// claimNext performs one claim loop iteration.
func (w *Worker) claimNext(ctx context.Context) {
	if !w.slots.TryAcquire(1) {
		_ = sleep(ctx, w.cfg.Backoff.AtCapacity)
		return
	}

	task, ok, err := w.queue.Claim(ctx)
	if err != nil {
		w.slots.Release(1)
		if ctx.Err() == nil {
			w.log.Error("Failed to claim task", zap.Error(err))
		}
		_ = sleep(ctx, w.cfg.Backoff.OnError)
		return
	}
	if !ok {
		w.slots.Release(1)
		_ = sleep(ctx, w.cfg.Backoff.Idle)
		return
	}

	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		defer w.slots.Release(1)
		w.Process(ctx, task)
	}()
}

// Recover runs one stale-claim recovery pass.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	recovered, err := w.queue.RecoverStale(ctx, w.cfg.StaleTimeout)
	if err != nil {
		w.log.Error("Recovery pass failed", zap.Error(err))
		return 0, fmt.Errorf("failed to recover stale tasks: %w", err)
	}
	if recovered > 0 {
		w.metrics.TasksRecovered.Add(float64(recovered))
		w.log.Warn("Recovered stale tasks",
			zap.Int("count", recovered),
			zap.Duration("stale_timeout", w.cfg.StaleTimeout))
	}
	return recovered, nil
}

// Process runs the pipeline of one claimed task and returns its outcome.
// The task is completed exactly once unless the outcome is
// metrics.OutcomeRetry, in which case it stays claimed for redelivery.
func (w *Worker) Process(ctx context.Context, task models.Task) (outcome string) {
	w.metrics.ActivePipelines.Inc()
	log := w.log.With(
		zap.String("task_id", task.ID),
		zap.String("keyword", task.Keyword),
		zap.Int("depth", task.Depth),
		zap.Float64("width", task.Width),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panicked, task left for redelivery", zap.Any("panic", r), zap.Stack("stack"))
			outcome = metrics.OutcomeRetry
		}
		w.metrics.TasksProcessed.WithLabelValues(outcome).Inc()
		w.metrics.ActivePipelines.Dec()
	}()

	log.Debug("Processing task")

	outcome, err := w.run(ctx, log, task)
	if err != nil {
		log.Warn("Task left claimed for redelivery", zap.Error(err))
		return metrics.OutcomeRetry
	}

	if err = w.queue.Complete(ctx, task); err != nil {
		log.Error("Failed to complete task", zap.String("outcome", outcome), zap.Error(err))
		return outcome
	}

	log.Info("Task completed", zap.String("outcome", outcome))
	return outcome
}

// run executes submit, poll and the decision rule. A non-nil error means the
// task must not be completed.
func (w *Worker) run(ctx context.Context, log *zap.Logger, task models.Task) (string, error) {
	jobID, err := w.provider.Submit(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Error("Failed to submit task, dropping it", zap.Error(err))
		return metrics.OutcomeSubmitFailed, nil
	}

	log = log.With(zap.String("job_id", jobID))
	radius, zoom := geo.SearchParams(task)
	log.Info("Task submitted",
		zap.Float64("lat", task.Center.Latitude),
		zap.Float64("lng", task.Center.Longitude),
		zap.Int("radius", radius),
		zap.Int("zoom", zoom))

	places, err := w.poll(ctx, log, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Error("Failed to collect results, dropping task", zap.Error(err))
		return metrics.OutcomePollFailed, nil
	}

	switch n := len(places); {
	case n >= w.cfg.SplitThreshold && task.Width/2 >= w.cfg.MinWidth:
		return metrics.OutcomeSplit, w.split(ctx, log, task, n)
	case n >= w.cfg.SplitThreshold:
		log.Warn("Result page at threshold but region is at the minimum width, persisting instead of splitting",
			zap.Int("results", n),
			zap.Float64("min_width", w.cfg.MinWidth))
		return metrics.OutcomePersisted, w.persist(ctx, log, task, places)
	case n > 0:
		return metrics.OutcomePersisted, w.persist(ctx, log, task, places)
	default:
		return metrics.OutcomeEmpty, nil
	}
}

// poll asks for the job result up to PollAttempts times.
func (w *Worker) poll(ctx context.Context, log *zap.Logger, jobID string) ([]models.Place, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.PollAttempts; attempt++ {
		places, err := w.provider.Poll(ctx, jobID)
		switch {
		case err == nil:
			return places, nil
		case errors.Is(err, provider.ErrJobFailed):
			return nil, err
		case errors.Is(err, provider.ErrInProgress):
			log.Debug("Job in progress", zap.Int("attempt", attempt))
		default:
			log.Warn("Poll attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		lastErr = err

		if attempt < w.cfg.PollAttempts {
			if err = sleep(ctx, w.cfg.PollDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrPollExhausted, w.cfg.PollAttempts, lastErr)
}

// split enqueues the four quadrant children of the task.
func (w *Worker) split(ctx context.Context, log *zap.Logger, task models.Task, results int) error {
	children := geo.SplitTask(task)
	for _, child := range children {
		if _, err := w.queue.Enqueue(ctx, child); err != nil {
			if errors.Is(err, queue.ErrInvalidTask) {
				log.Warn("Skipping invalid child task", zap.Error(err))
				continue
			}
			return fmt.Errorf("failed to enqueue child task: %w", err)
		}
	}

	w.metrics.TasksSplit.Inc()
	log.Info("Result page at threshold, task split into quadrants",
		zap.Int("results", results),
		zap.Float64("child_width", children[0].Width))
	return nil
}

// persist upserts every place with the task keyword.
func (w *Worker) persist(ctx context.Context, log *zap.Logger, task models.Task, places []models.Place) error {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(w.cfg.UpsertConcurrency)

	skipped := 0
	for _, place := range places {
		if place.PlaceID == "" {
			skipped++
			continue
		}
		group.Go(func() error {
			if err := w.store.UpsertBusiness(gctx, place, task.Keyword); err != nil {
				return err
			}
			w.metrics.PlacesPersisted.Inc()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("failed to persist places: %w", err)
	}

	if skipped > 0 {
		log.Warn("Skipped places without place id", zap.Int("skipped", skipped))
	}
	log.Info("Places persisted", zap.Int("count", len(places)-skipped))
	return nil
}

// reportQueueDepth refreshes the queue depth gauges until ctx is cancelled.
func (w *Worker) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		stats, err := w.queue.Stats(ctx)
		if err == nil {
			w.metrics.QueueDepth.WithLabelValues("pending").Set(float64(stats.Pending))
			w.metrics.QueueDepth.WithLabelValues("in_flight").Set(float64(stats.InFlight))
		} else if ctx.Err() == nil {
			w.log.Warn("Failed to read queue stats", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
