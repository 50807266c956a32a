package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/UnknownOlympus/quadrant/internal/geo"
	"github.com/UnknownOlympus/quadrant/internal/models"
)

const (
	nominatimBaseURL   = "https://nominatim.openstreetmap.org/search"
	nominatimUserAgent = "Quadrant-Place-Discovery/1.0 (https://github.com/UnknownOlympus/quadrant)"
)

// NominatimLocator implements Locator using OpenStreetMap's Nominatim API.
// This is a free service with usage limits (1 request/second for fair use).
type NominatimLocator struct {
	client  HTTPClient    // HTTP client for making requests
	baseURL string        // Base URL for the Nominatim API
	log     *zap.Logger   // Logger for logging operations
	limiter *rate.Limiter // Limiter enforcing the fair use policy
	// userAgent is required by Nominatim usage policy
	userAgent string
}

// nominatimResponse represents the JSON response from Nominatim API.
type nominatimResponse struct {
	Lat         string   `json:"lat"`         // Latitude as string
	Lon         string   `json:"lon"`         // Longitude as string
	BoundingBox []string `json:"boundingbox"` // [south, north, west, east] as strings
	DisplayName string   `json:"display_name"`
}

// NewNominatimLocator creates a locator on the public Nominatim endpoint.
func NewNominatimLocator(log *zap.Logger) *NominatimLocator {
	const timeout = 10
	return NewNominatimLocatorWithClient(&http.Client{Timeout: timeout * time.Second}, log)
}

// NewNominatimLocatorWithClient creates a Nominatim locator with a custom HTTP client.
// Useful for testing with mocked HTTP clients.
func NewNominatimLocatorWithClient(client HTTPClient, log *zap.Logger) *NominatimLocator {
	return &NominatimLocator{
		client:    client,
		baseURL:   nominatimBaseURL,
		log:       log,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		userAgent: nominatimUserAgent,
	}
}

// WithLimiter replaces the default one request per second limiter.
func (nl *NominatimLocator) WithLimiter(limiter *rate.Limiter) *NominatimLocator {
	nl.limiter = limiter
	return nl
}

// Lookup resolves the query into a square covering its bounding box.
//
// Uses a progressive fallback strategy, dropping trailing comma separated
// components until a variation returns a result:
// 1. "Soho, Westminster, London"
// 2. "Soho, Westminster"
// 3. "Soho"
func (nl *NominatimLocator) Lookup(ctx context.Context, query string) (*models.Area, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	nl.log.Debug("Looking up place using Nominatim", zap.String("query", query))

	variations := queryFallbacks(query)
	for idx, variation := range variations {
		area, err := nl.lookupSingle(ctx, variation)
		if err == nil {
			if idx > 0 {
				nl.log.Info("Resolved place using fallback query",
					zap.String("original", query),
					zap.String("fallback", variation),
					zap.Int("fallback_level", idx))
			}
			return area, nil
		}

		// Anything but an empty answer is final.
		if !errors.Is(err, ErrEmptyResponse) {
			return nil, err
		}

		nl.log.Debug("Query variation returned no results, trying fallback",
			zap.String("variation", variation),
			zap.Int("fallback_level", idx))
	}

	nl.log.Warn("All query fallbacks exhausted",
		zap.String("query", query),
		zap.Int("variations_tried", len(variations)))
	return nil, ErrEmptyResponse
}

// queryFallbacks creates a list of progressively shorter query variations.
func queryFallbacks(query string) []string {
	parts := strings.Split(query, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	seen := make(map[string]bool)
	var variations []string
	for n := len(parts); n > 0; n-- {
		v := strings.Join(parts[:n], ", ")
		if v != "" && !seen[v] {
			seen[v] = true
			variations = append(variations, v)
		}
	}
	return variations
}

// lookupSingle performs one search request without fallback logic.
func (nl *NominatimLocator) lookupSingle(ctx context.Context, query string) (*models.Area, error) {
	if err := nl.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	reqURL, err := url.Parse(nl.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	params := reqURL.Query()
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	reqURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", nl.userAgent)

	resp, err := nl.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute lookup request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		nl.log.Error("Nominatim API error", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, fmt.Errorf("nominatim API returned status %d: %s", resp.StatusCode, string(body))
	}

	var results []nominatimResponse
	if err = json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to decode nominatim response: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrEmptyResponse
	}

	bounds, err := parseBounds(results[0].BoundingBox)
	if err != nil {
		return nil, err
	}

	area := geo.AreaFromBounds(bounds[0], bounds[2], bounds[1], bounds[3])
	nl.log.Debug("Nominatim found place",
		zap.String("name", results[0].DisplayName),
		zap.Float64("lat", area.Center.Latitude),
		zap.Float64("lng", area.Center.Longitude),
		zap.Float64("width", area.Width))

	return &area, nil
}

// parseBounds converts Nominatim's [south, north, west, east] strings.
func parseBounds(raw []string) ([4]float64, error) {
	const boundsLength = 4

	var out [4]float64
	if len(raw) != boundsLength {
		return out, fmt.Errorf("%w: got %d values", ErrInvalidBounds, len(raw))
	}
	for i, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return out, fmt.Errorf("%w: %q", ErrInvalidBounds, s)
		}
		out[i] = v
	}
	return out, nil
}
