package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"googlemaps.github.io/maps"
)

// GoogleGeocodingClient mocks geocoding.GoogleGeocodingClient.
type GoogleGeocodingClient struct {
	mock.Mock
}

// NewGoogleGeocodingClient creates a mock that asserts its expectations on cleanup.
func NewGoogleGeocodingClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *GoogleGeocodingClient {
	m := &GoogleGeocodingClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Geocode provides a mock function.
func (m *GoogleGeocodingClient) Geocode(
	ctx context.Context,
	r *maps.GeocodingRequest,
) ([]maps.GeocodingResult, error) {
	args := m.Called(ctx, r)
	results, _ := args.Get(0).([]maps.GeocodingResult)
	return results, args.Error(1)
}
