package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"googlemaps.github.io/maps"

	"github.com/UnknownOlympus/quadrant/internal/geo"
	"github.com/UnknownOlympus/quadrant/internal/models"
)

// GoogleMaxRadius is the largest radius Nearby Search accepts.
const GoogleMaxRadius = 50_000

// DefaultGoogleJobTTL bounds how long an abandoned job is kept.
const DefaultGoogleJobTTL = 10 * time.Minute

// GoogleAPIClient is the subset of the Google Maps client used by GoogleProvider.
type GoogleAPIClient interface {
	NearbySearch(ctx context.Context, r *maps.NearbySearchRequest) (maps.PlacesSearchResponse, error)
}

// GoogleProvider implements Provider on Places Nearby Search. The API is
// synchronous and paginated, so a job is the page-token chain of one search:
// Submit fetches the first page and each Poll follows one more token.
type GoogleProvider struct {
	client GoogleAPIClient // client is the Google Maps API client
	log    *zap.Logger     // log is the logger for logging operations

	mu   sync.Mutex
	jobs map[string]*googleJob
	ttl  time.Duration
	now  func() time.Time
}

type googleJob struct {
	places    []models.Place
	nextToken string
	created   time.Time
}

// NewGoogleProvider creates a GoogleProvider on top of a Maps client.
func NewGoogleProvider(client GoogleAPIClient, log *zap.Logger) *GoogleProvider {
	return &GoogleProvider{
		client: client,
		log:    log,
		jobs:   make(map[string]*googleJob),
		ttl:    DefaultGoogleJobTTL,
		now:    time.Now,
	}
}

// WithJobTTL sets the age after which a job nobody finished polling is
// evicted. Non-positive values keep the default.
func (gp *GoogleProvider) WithJobTTL(ttl time.Duration) *GoogleProvider {
	if ttl > 0 {
		gp.ttl = ttl
	}
	return gp
}

// Submit runs the first search page and registers the job.
func (gp *GoogleProvider) Submit(ctx context.Context, task models.Task) (string, error) {
	radius := min(geo.CircumscribedRadius(task.Width), GoogleMaxRadius)

	gp.log.Debug("Searching Google Places",
		zap.String("task_id", task.ID),
		zap.String("keyword", task.Keyword),
		zap.Int("radius", radius))

	resp, err := gp.client.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: &maps.LatLng{Lat: task.Center.Latitude, Lng: task.Center.Longitude},
		Radius:   uint(radius),
		Keyword:  task.Keyword,
	})
	if err != nil {
		return "", fmt.Errorf("failed to search nearby places: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}

	now := gp.now()
	gp.mu.Lock()
	gp.evictExpired(now)
	gp.jobs[id.String()] = &googleJob{
		places:    toPlaces(resp.Results),
		nextToken: resp.NextPageToken,
		created:   now,
	}
	gp.mu.Unlock()

	return id.String(), nil
}

// Poll follows one page token. It returns ErrInProgress while tokens remain.
func (gp *GoogleProvider) Poll(ctx context.Context, jobID string) ([]models.Place, error) {
	gp.mu.Lock()
	job, ok := gp.jobs[jobID]
	gp.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown job %s", ErrJobFailed, jobID)
	}

	if job.nextToken == "" {
		gp.forget(jobID)
		return job.places, nil
	}

	resp, err := gp.client.NearbySearch(ctx, &maps.NearbySearchRequest{PageToken: job.nextToken})
	if err != nil {
		// Page tokens take a moment to become valid.
		if strings.Contains(err.Error(), "INVALID_REQUEST") {
			return nil, ErrInProgress
		}
		if ctx.Err() != nil {
			gp.forget(jobID)
		}
		return nil, fmt.Errorf("failed to fetch next page: %w", err)
	}

	gp.mu.Lock()
	job.places = append(job.places, toPlaces(resp.Results)...)
	job.nextToken = resp.NextPageToken
	gp.mu.Unlock()

	if resp.NextPageToken != "" {
		return nil, ErrInProgress
	}

	gp.forget(jobID)
	return job.places, nil
}

// evictExpired drops jobs older than the TTL. Callers hold gp.mu.
func (gp *GoogleProvider) evictExpired(now time.Time) {
	for id, job := range gp.jobs {
		if now.Sub(job.created) >= gp.ttl {
			delete(gp.jobs, id)
			gp.log.Debug("Evicted abandoned Google search job", zap.String("job_id", id))
		}
	}
}

func (gp *GoogleProvider) forget(jobID string) {
	gp.mu.Lock()
	delete(gp.jobs, jobID)
	gp.mu.Unlock()
}

func toPlaces(results []maps.PlacesSearchResult) []models.Place {
	places := make([]models.Place, 0, len(results))
	for _, r := range results {
		place := models.Place{
			PlaceID: r.PlaceID,
			Name:    r.Name,
			Address: r.Vicinity,
			MapsURL: "https://www.google.com/maps/place/?q=place_id:" + r.PlaceID,
		}
		if r.FormattedAddress != "" {
			place.Address = r.FormattedAddress
		}
		if len(r.Types) > 0 {
			place.Category = r.Types[0]
		}
		if i := strings.LastIndex(r.Vicinity, ","); i >= 0 {
			place.City = strings.TrimSpace(r.Vicinity[i+1:])
		}
		places = append(places, place)
	}
	return places
}
