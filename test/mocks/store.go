package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/UnknownOlympus/quadrant/internal/models"
)

// Store mocks service.Store and repository.Interface.
type Store struct {
	mock.Mock
}

// NewStore creates a mock that asserts its expectations on cleanup.
func NewStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *Store {
	m := &Store{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// UpsertBusiness provides a mock function.
func (m *Store) UpsertBusiness(ctx context.Context, place models.Place, keyword string) error {
	return m.Called(ctx, place, keyword).Error(0)
}

// GetBusiness provides a mock function.
func (m *Store) GetBusiness(ctx context.Context, placeID string) (*models.Business, error) {
	args := m.Called(ctx, placeID)
	business, _ := args.Get(0).(*models.Business)
	return business, args.Error(1)
}

// CountBusinesses provides a mock function.
func (m *Store) CountBusinesses(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	count, _ := args.Get(0).(int64)
	return count, args.Error(1)
}

// Ping provides a mock function.
func (m *Store) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
