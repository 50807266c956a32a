package provider

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"googlemaps.github.io/maps"
)

// Type selects a search backend.
type Type string

const (
	// TypeDataForSEO represents the DataForSEO Google Maps task API.
	TypeDataForSEO Type = "dataforseo"
	// TypeGoogle represents Google Places Nearby Search.
	TypeGoogle Type = "google"
)

// Config holds configuration for creating a provider.
type Config struct {
	Type      Type          // Type of provider to create
	Login     string        // Login (used by DataForSEO)
	Password  string        // Password (used by DataForSEO)
	APIKey    string        // API key (used by Google)
	BaseURL   string        // BaseURL overrides the DataForSEO API root
	RateLimit int           // Rate limit for requests per second
	JobTTL    time.Duration // JobTTL evicts abandoned Google jobs, zero keeps the default
	Logger    *zap.Logger   // Logger for the provider
}

// NewProvider creates a provider based on the configuration. An empty type
// selects DataForSEO.
func NewProvider(config Config) (Provider, error) {
	switch config.Type {
	case TypeDataForSEO, "":
		return newDataForSEOProvider(config)
	case TypeGoogle:
		return newGoogleProvider(config)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}

func newDataForSEOProvider(config Config) (Provider, error) {
	if config.Login == "" || config.Password == "" {
		return nil, errors.New("login and password are required for DataForSEO provider")
	}

	if config.RateLimit <= 0 {
		config.RateLimit = 10
		config.Logger.Warn("Rate limit for DataForSEO API not set, set a default value",
			zap.Int("value", config.RateLimit))
	}

	return NewDataForSEOProvider(config.Login, config.Password, config.RateLimit, config.Logger).
		WithBaseURL(config.BaseURL), nil
}

func newGoogleProvider(config Config) (Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("API key is required for Google provider")
	}

	clientOpts := []maps.ClientOption{
		maps.WithAPIKey(config.APIKey),
	}
	if config.RateLimit > 0 {
		clientOpts = append(clientOpts, maps.WithRateLimit(config.RateLimit))
	}

	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	return NewGoogleProvider(client, config.Logger).WithJobTTL(config.JobTTL), nil
}
