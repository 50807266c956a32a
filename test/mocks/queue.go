package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/UnknownOlympus/quadrant/internal/models"
	"github.com/UnknownOlympus/quadrant/internal/queue"
)

// Queue mocks queue.Queue.
type Queue struct {
	mock.Mock
}

// NewQueue creates a mock that asserts its expectations on cleanup.
func NewQueue(t interface {
	mock.TestingT
	Cleanup(func())
}) *Queue {
	m := &Queue{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Enqueue provides a mock function.
func (m *Queue) Enqueue(ctx context.Context, task models.Task) (models.Task, error) {
	args := m.Called(ctx, task)
	out, _ := args.Get(0).(models.Task)
	return out, args.Error(1)
}

// Claim provides a mock function.
func (m *Queue) Claim(ctx context.Context) (models.Task, bool, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).(models.Task)
	return out, args.Bool(1), args.Error(2)
}

// Complete provides a mock function.
func (m *Queue) Complete(ctx context.Context, task models.Task) error {
	return m.Called(ctx, task).Error(0)
}

// RecoverStale provides a mock function.
func (m *Queue) RecoverStale(ctx context.Context, timeout time.Duration) (int, error) {
	args := m.Called(ctx, timeout)
	return args.Int(0), args.Error(1)
}

// Reset provides a mock function.
func (m *Queue) Reset(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// Stats provides a mock function.
func (m *Queue) Stats(ctx context.Context) (queue.Stats, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).(queue.Stats)
	return out, args.Error(1)
}
