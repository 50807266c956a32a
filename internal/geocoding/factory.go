package geocoding

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"googlemaps.github.io/maps"
)

// LocatorType represents the type of place lookup backend.
type LocatorType string

const (
	// LocatorTypeNominatim represents OpenStreetMap Nominatim.
	LocatorTypeNominatim LocatorType = "nominatim"
	// LocatorTypeGoogle represents the Google Maps Geocoding API.
	LocatorTypeGoogle LocatorType = "google"
)

// Config holds configuration for creating a locator.
type Config struct {
	Type   LocatorType // Type of locator to create
	APIKey string      // API key (used by Google)
	Logger *zap.Logger // Logger for the locator
}

// NewLocator creates a place lookup backend. An empty type selects Nominatim,
// which needs no API key.
func NewLocator(config Config) (Locator, error) {
	switch config.Type {
	case LocatorTypeNominatim, "":
		return NewNominatimLocator(config.Logger), nil
	case LocatorTypeGoogle:
		return newGoogleLocator(config)
	default:
		return nil, fmt.Errorf("unsupported locator type: %s", config.Type)
	}
}

func newGoogleLocator(config Config) (Locator, error) {
	if config.APIKey == "" {
		return nil, errors.New("API key is required for Google locator")
	}

	client, err := maps.NewClient(maps.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	return NewGoogleLocator(client, config.Logger), nil
}
