package geocoding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"googlemaps.github.io/maps"

	"github.com/UnknownOlympus/quadrant/internal/geo"
	"github.com/UnknownOlympus/quadrant/internal/models"
)

// GoogleLocator resolves places with the Google Maps Geocoding API.
type GoogleLocator struct {
	client GoogleGeocodingClient // client is the Google Maps API client
	log    *zap.Logger           // log is the logger for logging operations
}

// GoogleGeocodingClient is the subset of the Google Maps client used by GoogleLocator.
type GoogleGeocodingClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// NewGoogleLocator initializes a new GoogleLocator with the given client and logger.
func NewGoogleLocator(client GoogleGeocodingClient, log *zap.Logger) *GoogleLocator {
	return &GoogleLocator{client: client, log: log}
}

// Lookup geocodes the query and returns the square covering the result
// viewport.
func (gl *GoogleLocator) Lookup(ctx context.Context, query string) (*models.Area, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}

	gl.log.Debug("Looking up place using Google Maps", zap.String("query", query))

	results, err := gl.client.Geocode(ctx, &maps.GeocodingRequest{Address: query})
	if err != nil {
		return nil, fmt.Errorf("failed to geocode place: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrEmptyResponse
	}

	viewport := results[0].Geometry.Viewport
	if viewport == (maps.LatLngBounds{}) {
		return nil, ErrInvalidBounds
	}

	area := geo.AreaFromBounds(
		viewport.SouthWest.Lat, viewport.SouthWest.Lng,
		viewport.NorthEast.Lat, viewport.NorthEast.Lng,
	)
	return &area, nil
}
