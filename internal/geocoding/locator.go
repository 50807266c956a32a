// Package geocoding resolves place names into square search areas used to
// seed the queue.
package geocoding

import (
	"context"
	"errors"
	"net/http"

	"github.com/UnknownOlympus/quadrant/internal/models"
)

// Locator turns a free-form place name into the square area covering it.
type Locator interface {
	Lookup(ctx context.Context, query string) (*models.Area, error)
}

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Lookup errors shared by every locator.
var (
	ErrEmptyQuery    = errors.New("place query is empty")
	ErrEmptyResponse = errors.New("geocoding API returned empty response")
	ErrInvalidBounds = errors.New("geocoding API returned invalid bounds")
)
