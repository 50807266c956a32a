// Package queue implements the reliable at-least-once task queue shared by
// all worker processes.
//
// A queue is made of three collections: Pending (tasks awaiting a claim),
// In-flight (tasks claimed by some worker) and the in-flight index recording
// when each task was claimed. All three key off the task ID assigned on
// enqueue. Claim moves a task from Pending to In-flight and records its claim
// time in one atomic step; RecoverStale returns tasks whose claim is older
// than a timeout back to Pending, which is how crashed workers are healed.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/UnknownOlympus/quadrant/internal/models"
)

// Queue is the reliable task queue contract.
type Queue interface {
	// Enqueue assigns an ID to the task when it has none and appends it to Pending.
	Enqueue(ctx context.Context, task models.Task) (models.Task, error)
	// Claim atomically moves one task from Pending to In-flight and records the claim time.
	// The boolean is false when Pending is empty; Claim never waits for work.
	Claim(ctx context.Context) (models.Task, bool, error)
	// Complete removes the task from In-flight and the index. Completing twice is a no-op.
	Complete(ctx context.Context, task models.Task) error
	// RecoverStale moves every task claimed at least timeout ago back to Pending.
	RecoverStale(ctx context.Context, timeout time.Duration) (int, error)
	// Reset drops every collection. It is an administrative flush.
	Reset(ctx context.Context) error
	// Stats reports collection sizes.
	Stats(ctx context.Context) (Stats, error)
}

// Stats holds queue collection sizes.
type Stats struct {
	Pending  int64
	InFlight int64
}

// Clock returns the current time. It exists so claim ages can be tested.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// ErrInvalidTask is returned by Enqueue for tasks that fail validation.
var ErrInvalidTask = errors.New("invalid task")

// prepare validates the task and assigns it a UUIDv7 when it has no ID.
func prepare(task models.Task) (models.Task, error) {
	if err := task.Validate(); err != nil {
		return models.Task{}, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if task.ID != "" {
		return task, nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return models.Task{}, fmt.Errorf("generate task id: %w", err)
	}
	task.ID = id.String()
	return task, nil
}
