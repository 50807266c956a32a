package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/UnknownOlympus/quadrant/internal/metrics"
	"github.com/UnknownOlympus/quadrant/internal/models"
	"github.com/UnknownOlympus/quadrant/internal/provider"
	"github.com/UnknownOlympus/quadrant/internal/queue"
	"github.com/UnknownOlympus/quadrant/test/mocks"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var gymTask = models.Task{
	Center:  models.Coordinates{Latitude: 51.5, Longitude: -0.1},
	Width:   20000,
	Keyword: "gym",
}

func testConfig() WorkerConfig {
	cfg := DefaultWorkerConfig()
	cfg.PollDelay = 0
	cfg.StatsInterval = 0
	cfg.RecoveryProbability = 0
	cfg.Backoff = Backoff{AtCapacity: time.Millisecond, Idle: time.Millisecond, OnError: time.Millisecond}
	return cfg
}

func places(n int) []models.Place {
	out := make([]models.Place, n)
	for i := range out {
		out[i] = models.Place{PlaceID: fmt.Sprintf("place-%d", i), Name: fmt.Sprintf("Gym %d", i)}
	}
	return out
}

type harness struct {
	queue    *queue.MemoryQueue
	clock    *testClock
	provider *mocks.Provider
	store    *mocks.Store
	metrics  *metrics.Metrics
	worker   *Worker
}

func newHarness(t *testing.T, cfg WorkerConfig) *harness {
	t.Helper()
	h := &harness{
		clock:    &testClock{now: time.Unix(1_700_000_000, 0)},
		provider: mocks.NewProvider(t),
		store:    mocks.NewStore(t),
		metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
	}
	h.queue = queue.NewMemoryQueue(h.clock)
	h.worker = NewWorker(zap.NewNop(), h.queue, h.provider, h.store, h.metrics, cfg)
	return h
}

// claimSeed enqueues the task and claims it the way the loop would.
func (h *harness) claimSeed(t *testing.T, task models.Task) models.Task {
	t.Helper()
	ctx := t.Context()
	_, err := h.queue.Enqueue(ctx, task)
	require.NoError(t, err)
	claimed, ok, err := h.queue.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	return claimed
}

func (h *harness) stats(t *testing.T) queue.Stats {
	t.Helper()
	stats, err := h.queue.Stats(t.Context())
	require.NoError(t, err)
	return stats
}

func (h *harness) processed(outcome string) float64 {
	return testutil.ToFloat64(h.metrics.TasksProcessed.WithLabelValues(outcome))
}

func TestProcess(t *testing.T) {
	t.Parallel()

	t.Run("result page at threshold splits into four children", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Return(places(150), nil).Once()

		outcome := h.worker.Process(ctx, task)

		assert.Equal(t, metrics.OutcomeSplit, outcome)
		assert.Equal(t, queue.Stats{Pending: 4}, h.stats(t))

		for range 4 {
			child, ok, err := h.queue.Claim(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "gym", child.Keyword)
			assert.InDelta(t, 10000, child.Width, 0)
			assert.Equal(t, 1, child.Depth)
			assert.NotEqual(t, task.ID, child.ID)
		}
		assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.TasksSplit), 0)
		assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.PlacesPersisted), 0)
		h.store.AssertNotCalled(t, "UpsertBusiness", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("exactly threshold splits", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Return(places(100), nil).Once()

		assert.Equal(t, metrics.OutcomeSplit, h.worker.Process(ctx, task))
	})

	t.Run("result page below threshold is persisted", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Return(places(5), nil).Once()
		h.store.On("UpsertBusiness", mock.Anything, mock.AnythingOfType("models.Place"), "gym").
			Return(nil).Times(5)

		outcome := h.worker.Process(ctx, task)

		assert.Equal(t, metrics.OutcomePersisted, outcome)
		assert.Equal(t, queue.Stats{}, h.stats(t))
		assert.InDelta(t, 5, testutil.ToFloat64(h.metrics.PlacesPersisted), 0)
		assert.InDelta(t, 1, h.processed(metrics.OutcomePersisted), 0)
	})

	t.Run("empty result only completes", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Return(nil, nil).Once()

		assert.Equal(t, metrics.OutcomeEmpty, h.worker.Process(ctx, task))
		assert.Equal(t, queue.Stats{}, h.stats(t))
	})

	t.Run("region at minimum width is persisted instead of split", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.MinWidth = 15000
		h := newHarness(t, cfg)
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Return(places(150), nil).Once()
		h.store.On("UpsertBusiness", mock.Anything, mock.Anything, "gym").Return(nil).Times(150)

		assert.Equal(t, metrics.OutcomePersisted, h.worker.Process(ctx, task))
		assert.Equal(t, queue.Stats{}, h.stats(t))
		assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.TasksSplit), 0)
	})

	t.Run("submission is logged with the job id", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		core, logs := observer.New(zapcore.InfoLevel)
		h.worker = NewWorker(zap.New(core), h.queue, h.provider, h.store, h.metrics, testConfig())
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Return(nil, nil).Once()

		assert.Equal(t, metrics.OutcomeEmpty, h.worker.Process(ctx, task))

		submitted := logs.FilterMessage("Task submitted").All()
		require.Len(t, submitted, 1)
		fields := submitted[0].ContextMap()
		assert.Equal(t, "job-1", fields["job_id"])
		assert.Equal(t, task.ID, fields["task_id"])
		assert.Equal(t, "gym", fields["keyword"])
		assert.InDelta(t, 51.5, fields["lat"], 0)
		assert.InDelta(t, 20000, fields["width"], 0)
		assert.EqualValues(t, 14143, fields["radius"])
		assert.Contains(t, fields, "zoom")
	})

	t.Run("places without id are skipped", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		page := append(places(2), models.Place{Name: "anonymous"})
		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Return(page, nil).Once()
		h.store.On("UpsertBusiness", mock.Anything, mock.Anything, "gym").Return(nil).Twice()

		assert.Equal(t, metrics.OutcomePersisted, h.worker.Process(ctx, task))
	})

	t.Run("submit failure drops the task", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("", assert.AnError).Once()

		assert.Equal(t, metrics.OutcomeSubmitFailed, h.worker.Process(ctx, task))
		assert.Equal(t, queue.Stats{}, h.stats(t))
		h.provider.AssertNotCalled(t, "Poll", mock.Anything, mock.Anything)
	})

	t.Run("in progress and transient errors are retried", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Return(nil, provider.ErrInProgress).Twice()
		h.provider.On("Poll", ctx, "job-1").Return(nil, assert.AnError).Once()
		h.provider.On("Poll", ctx, "job-1").Return(places(1), nil).Once()
		h.store.On("UpsertBusiness", mock.Anything, mock.Anything, "gym").Return(nil).Once()

		assert.Equal(t, metrics.OutcomePersisted, h.worker.Process(ctx, task))
	})

	t.Run("terminal job failure drops the task", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Return(nil, provider.ErrInProgress).Once()
		h.provider.On("Poll", ctx, "job-1").Return(nil, provider.ErrJobFailed).Once()

		assert.Equal(t, metrics.OutcomePollFailed, h.worker.Process(ctx, task))
		assert.Equal(t, queue.Stats{}, h.stats(t))
	})

	t.Run("exhausted poll budget drops the task", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.PollAttempts = 3
		h := newHarness(t, cfg)
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Return(nil, provider.ErrInProgress).Times(3)

		assert.Equal(t, metrics.OutcomePollFailed, h.worker.Process(ctx, task))
		assert.Equal(t, queue.Stats{}, h.stats(t))
	})

	t.Run("persistence outage leaves the task claimed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Return(places(3), nil).Once()
		h.store.On("UpsertBusiness", mock.Anything, mock.Anything, "gym").Return(assert.AnError)

		assert.Equal(t, metrics.OutcomeRetry, h.worker.Process(ctx, task))
		assert.Equal(t, queue.Stats{InFlight: 1}, h.stats(t))
	})

	t.Run("panic leaves the task claimed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx := t.Context()
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Panic("provider exploded").Once()

		assert.Equal(t, metrics.OutcomeRetry, h.worker.Process(ctx, task))
		assert.Equal(t, queue.Stats{InFlight: 1}, h.stats(t))
		assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.ActivePipelines), 0)
	})

	t.Run("cancellation leaves the task claimed", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.PollDelay = time.Hour
		h := newHarness(t, cfg)
		ctx, cancel := context.WithCancel(t.Context())
		task := h.claimSeed(t, gymTask)

		h.provider.On("Submit", ctx, task).Return("job-1", nil).Once()
		h.provider.On("Poll", ctx, "job-1").Run(func(mock.Arguments) { cancel() }).
			Return(nil, provider.ErrInProgress).Once()

		assert.Equal(t, metrics.OutcomeRetry, h.worker.Process(ctx, task))
		assert.Equal(t, queue.Stats{InFlight: 1}, h.stats(t))
	})
}

func TestProcess_QueueFailures(t *testing.T) {
	t.Parallel()

	t.Run("child enqueue failure leaves the task claimed", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		q := mocks.NewQueue(t)
		p := mocks.NewProvider(t)
		w := NewWorker(zap.NewNop(), q, p, mocks.NewStore(t), metrics.NewMetrics(prometheus.NewRegistry()), testConfig())
		task := gymTask
		task.ID = "seed"

		p.On("Submit", ctx, task).Return("job-1", nil).Once()
		p.On("Poll", ctx, "job-1").Return(places(120), nil).Once()
		q.On("Enqueue", ctx, mock.Anything).Return(models.Task{}, assert.AnError).Once()

		assert.Equal(t, metrics.OutcomeRetry, w.Process(ctx, task))
		q.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	})

	t.Run("invalid children are skipped", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		q := mocks.NewQueue(t)
		p := mocks.NewProvider(t)
		w := NewWorker(zap.NewNop(), q, p, mocks.NewStore(t), metrics.NewMetrics(prometheus.NewRegistry()), testConfig())
		task := gymTask
		task.ID = "seed"

		p.On("Submit", ctx, task).Return("job-1", nil).Once()
		p.On("Poll", ctx, "job-1").Return(places(120), nil).Once()
		q.On("Enqueue", ctx, mock.Anything).Return(models.Task{}, queue.ErrInvalidTask).Once()
		q.On("Enqueue", ctx, mock.Anything).Return(models.Task{ID: "child"}, nil).Times(3)
		q.On("Complete", ctx, task).Return(nil).Once()

		assert.Equal(t, metrics.OutcomeSplit, w.Process(ctx, task))
	})

	t.Run("complete failure keeps the outcome", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		q := mocks.NewQueue(t)
		p := mocks.NewProvider(t)
		w := NewWorker(zap.NewNop(), q, p, mocks.NewStore(t), metrics.NewMetrics(prometheus.NewRegistry()), testConfig())
		task := gymTask
		task.ID = "seed"

		p.On("Submit", ctx, task).Return("", assert.AnError).Once()
		q.On("Complete", ctx, task).Return(assert.AnError).Once()

		assert.Equal(t, metrics.OutcomeSubmitFailed, w.Process(ctx, task))
	})
}

func TestRecover(t *testing.T) {
	t.Parallel()

	t.Run("vanished worker's task returns to pending", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx := t.Context()
		h.claimSeed(t, gymTask)

		recovered, err := h.worker.Recover(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, recovered)

		h.clock.Advance(h.worker.cfg.StaleTimeout)

		recovered, err = h.worker.Recover(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, recovered)
		assert.Equal(t, queue.Stats{Pending: 1}, h.stats(t))
		assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.TasksRecovered), 0)
	})

	t.Run("error - queue", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		q := mocks.NewQueue(t)
		w := NewWorker(zap.NewNop(), q, mocks.NewProvider(t), mocks.NewStore(t),
			metrics.NewMetrics(prometheus.NewRegistry()), testConfig())

		q.On("RecoverStale", ctx, 600*time.Second).Return(0, assert.AnError).Once()

		_, err := w.Recover(ctx)
		require.ErrorIs(t, err, assert.AnError)
	})
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("drains the queue and stops on cancellation", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, testConfig())
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		for _, kw := range []string{"gym", "spa"} {
			task := gymTask
			task.Keyword = kw
			_, err := h.queue.Enqueue(ctx, task)
			require.NoError(t, err)
		}

		h.provider.On("Submit", mock.Anything, mock.Anything).Return("job", nil).Twice()
		h.provider.On("Poll", mock.Anything, "job").Return(places(2), nil).Twice()
		h.store.On("UpsertBusiness", mock.Anything, mock.Anything, "gym").Return(nil).Twice()
		h.store.On("UpsertBusiness", mock.Anything, mock.Anything, "spa").Return(nil).Twice()

		done := make(chan struct{})
		go func() {
			h.worker.Run(ctx)
			close(done)
		}()

		require.Eventually(t, func() bool {
			return h.processed(metrics.OutcomePersisted) == 2
		}, 5*time.Second, 5*time.Millisecond)
		assert.Equal(t, queue.Stats{}, h.stats(t))

		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	})

	t.Run("never exceeds capacity", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Capacity = 2
		h := newHarness(t, cfg)
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		for range 5 {
			_, err := h.queue.Enqueue(ctx, gymTask)
			require.NoError(t, err)
		}

		release := make(chan struct{})
		h.provider.On("Submit", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { <-release }).
			Return("job", nil)
		h.provider.On("Poll", mock.Anything, "job").Return(nil, nil)

		done := make(chan struct{})
		go func() {
			h.worker.Run(ctx)
			close(done)
		}()

		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.ActivePipelines) == 2
		}, 5*time.Second, 5*time.Millisecond)
		// Give the loop time to (wrongly) claim more.
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, queue.Stats{Pending: 3, InFlight: 2}, h.stats(t))

		close(release)
		require.Eventually(t, func() bool {
			return h.processed(metrics.OutcomeEmpty) == 5
		}, 5*time.Second, 5*time.Millisecond)

		cancel()
		<-done
	})

	t.Run("recovery draw redelivers a stale claim", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.RecoveryProbability = 0.01
		h := newHarness(t, cfg)
		h.worker.WithRandom(func() float64 { return 0 })
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		// A worker that vanished after claiming.
		h.claimSeed(t, gymTask)
		h.clock.Advance(cfg.StaleTimeout + time.Second)

		h.provider.On("Submit", mock.Anything, mock.Anything).Return("job", nil).Once()
		h.provider.On("Poll", mock.Anything, "job").Return(nil, nil).Once()

		done := make(chan struct{})
		go func() {
			h.worker.Run(ctx)
			close(done)
		}()

		require.Eventually(t, func() bool {
			return h.processed(metrics.OutcomeEmpty) == 1
		}, 5*time.Second, 5*time.Millisecond)
		assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.TasksRecovered), 0)

		cancel()
		<-done
	})

	t.Run("claim errors do not stop the loop", func(t *testing.T) {
		t.Parallel()
		q := mocks.NewQueue(t)
		m := metrics.NewMetrics(prometheus.NewRegistry())
		w := NewWorker(zap.NewNop(), q, mocks.NewProvider(t), mocks.NewStore(t), m, testConfig())
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		var calls sync.WaitGroup
		calls.Add(3)
		q.On("Claim", mock.Anything).Return(models.Task{}, false, assert.AnError).Times(3).
			Run(func(mock.Arguments) { calls.Done() })
		q.On("Claim", mock.Anything).Return(models.Task{}, false, nil).Maybe()

		done := make(chan struct{})
		go func() {
			w.Run(ctx)
			close(done)
		}()

		calls.Wait()
		cancel()
		<-done
	})

	t.Run("reports queue depth", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.StatsInterval = time.Millisecond
		h := newHarness(t, cfg)
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		// Hold the pipeline so the task stays visible.
		release := make(chan struct{})
		h.provider.On("Submit", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { <-release }).Return("", assert.AnError).Once()

		_, err := h.queue.Enqueue(ctx, gymTask)
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			h.worker.Run(ctx)
			close(done)
		}()

		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.QueueDepth.WithLabelValues("in_flight")) == 1
		}, 5*time.Second, 5*time.Millisecond)

		close(release)
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.QueueDepth.WithLabelValues("in_flight")) == 0
		}, 5*time.Second, 5*time.Millisecond)

		cancel()
		<-done
	})
}

func TestNewWorker_Defaults(t *testing.T) {
	t.Parallel()

	w := NewWorker(zap.NewNop(), queue.NewMemoryQueue(nil), mocks.NewProvider(t), mocks.NewStore(t),
		metrics.NewMetrics(prometheus.NewRegistry()), WorkerConfig{RecoveryProbability: -1, PollDelay: -1})

	def := DefaultWorkerConfig()
	assert.Equal(t, def.Capacity, w.cfg.Capacity)
	assert.Equal(t, def.SplitThreshold, w.cfg.SplitThreshold)
	assert.Equal(t, def.PollAttempts, w.cfg.PollAttempts)
	assert.Equal(t, def.PollDelay, w.cfg.PollDelay)
	assert.Equal(t, def.StaleTimeout, w.cfg.StaleTimeout)
	assert.Equal(t, def.UpsertConcurrency, w.cfg.UpsertConcurrency)
	assert.InDelta(t, def.MinWidth, w.cfg.MinWidth, 0)
	assert.Zero(t, w.cfg.RecoveryProbability)
}
