package queue

import (
	"context"
	"sync"
	"time"

	"github.com/UnknownOlympus/quadrant/internal/models"
)

// MemoryQueue is a process-local Queue guarded by a single mutex.
// It offers the same semantics as RedisQueue without crash durability.
type MemoryQueue struct {
	mu      sync.Mutex
	clock   Clock
	pending []string               // task IDs, claimed from the front
	claimed map[string]time.Time   // in-flight index: task ID -> claim time
	tasks   map[string]models.Task // task bodies for pending and in-flight IDs
}

// NewMemoryQueue creates an empty in-memory queue. A nil clock uses the wall clock.
func NewMemoryQueue(clock Clock) *MemoryQueue {
	if clock == nil {
		clock = SystemClock()
	}
	return &MemoryQueue{
		clock:   clock,
		claimed: make(map[string]time.Time),
		tasks:   make(map[string]models.Task),
	}
}

// Enqueue appends the task to Pending.
func (q *MemoryQueue) Enqueue(_ context.Context, task models.Task) (models.Task, error) {
	task, err := prepare(task)
	if err != nil {
		return models.Task{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[task.ID] = task
	q.pending = append(q.pending, task.ID)
	return task, nil
}

// Claim moves the oldest pending task to In-flight.
func (q *MemoryQueue) Claim(_ context.Context) (models.Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		task, ok := q.tasks[id]
		if !ok {
			continue
		}
		q.claimed[id] = q.clock.Now()
		return task, true, nil
	}
	return models.Task{}, false, nil
}

// Complete drops the task from In-flight and the index.
func (q *MemoryQueue) Complete(_ context.Context, task models.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.claimed[task.ID]; !ok {
		return nil
	}
	delete(q.claimed, task.ID)
	delete(q.tasks, task.ID)
	return nil
}

// RecoverStale requeues tasks claimed at least timeout ago.
func (q *MemoryQueue) RecoverStale(_ context.Context, timeout time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	recovered := 0
	for id, claimedAt := range q.claimed {
		if now.Sub(claimedAt) < timeout {
			continue
		}
		delete(q.claimed, id)
		q.pending = append(q.pending, id)
		recovered++
	}
	return recovered, nil
}

// Reset clears every collection.
func (q *MemoryQueue) Reset(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = nil
	q.claimed = make(map[string]time.Time)
	q.tasks = make(map[string]models.Task)
	return nil
}

// Stats reports collection sizes.
func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: int64(len(q.pending)), InFlight: int64(len(q.claimed))}, nil
}
