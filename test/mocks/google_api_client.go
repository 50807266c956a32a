// Package mocks holds testify mocks of the service's collaborator interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"googlemaps.github.io/maps"
)

// GoogleAPIClient mocks provider.GoogleAPIClient.
type GoogleAPIClient struct {
	mock.Mock
}

// NewGoogleAPIClient creates a mock that asserts its expectations on cleanup.
func NewGoogleAPIClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *GoogleAPIClient {
	m := &GoogleAPIClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NearbySearch provides a mock function.
func (m *GoogleAPIClient) NearbySearch(
	ctx context.Context,
	r *maps.NearbySearchRequest,
) (maps.PlacesSearchResponse, error) {
	args := m.Called(ctx, r)
	resp, _ := args.Get(0).(maps.PlacesSearchResponse)
	return resp, args.Error(1)
}
