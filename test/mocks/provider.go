package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/UnknownOlympus/quadrant/internal/models"
)

// Provider mocks provider.Provider.
type Provider struct {
	mock.Mock
}

// NewProvider creates a mock that asserts its expectations on cleanup.
func NewProvider(t interface {
	mock.TestingT
	Cleanup(func())
}) *Provider {
	m := &Provider{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Submit provides a mock function.
func (m *Provider) Submit(ctx context.Context, task models.Task) (string, error) {
	args := m.Called(ctx, task)
	return args.String(0), args.Error(1)
}

// Poll provides a mock function.
func (m *Provider) Poll(ctx context.Context, jobID string) ([]models.Place, error) {
	args := m.Called(ctx, jobID)
	places, _ := args.Get(0).([]models.Place)
	return places, args.Error(1)
}
