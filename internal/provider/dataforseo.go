package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/UnknownOlympus/quadrant/internal/geo"
	"github.com/UnknownOlympus/quadrant/internal/models"
)

// DataForSEOBaseURL is the DataForSEO API root.
const DataForSEOBaseURL = "https://api.dataforseo.com"

const (
	dfsTaskPostPath = "/v3/google/maps/task_post"
	dfsTaskGetPath  = "/v3/google/maps/task_get/regular/"

	dfsStatusOK         = 20000
	dfsStatusTaskHanded = 40601
	dfsStatusInQueue    = 40602

	dfsMinZoom  = 3
	dfsLanguage = "en"
	dfsPriority = 1
)

// DataForSEOProvider implements Provider on the DataForSEO Google Maps task API.
type DataForSEOProvider struct {
	client   HTTPClient    // HTTP client for making requests
	baseURL  string        // API root, overridable for tests and sandboxes
	login    string        // API login for basic auth
	password string        // API password for basic auth
	log      *zap.Logger   // Logger for logging operations
	limiter  *rate.Limiter // Rate limiter shared by submit and poll
}

type dfsTaskPost struct {
	LanguageCode       string `json:"language_code"`
	LocationCoordinate string `json:"location_coordinate"`
	Keyword            string `json:"keyword"`
	Priority           int    `json:"priority"`
}

type dfsResponse struct {
	StatusCode    int       `json:"status_code"`
	StatusMessage string    `json:"status_message"`
	Tasks         []dfsTask `json:"tasks"`
}

type dfsTask struct {
	ID            string      `json:"id"`
	StatusCode    int         `json:"status_code"`
	StatusMessage string      `json:"status_message"`
	Result        []dfsResult `json:"result"`
}

type dfsResult struct {
	Items []dfsItem `json:"items"`
}

type dfsItem struct {
	PlaceID     string `json:"place_id"`
	Title       string `json:"title"`
	Address     string `json:"address"`
	AddressInfo struct {
		City string `json:"city"`
	} `json:"address_info"`
	Category string `json:"category"`
	URL      string `json:"url"`
	CID      string `json:"cid"`
}

// NewDataForSEOProvider creates a DataForSEO provider with a default HTTP client.
func NewDataForSEOProvider(login, password string, rateLimit int, log *zap.Logger) *DataForSEOProvider {
	const timeout = 30

	return NewDataForSEOProviderWithClient(
		&http.Client{Timeout: timeout * time.Second},
		login,
		password,
		rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		log,
	)
}

// NewDataForSEOProviderWithClient allows injecting custom HTTP client.
func NewDataForSEOProviderWithClient(
	client HTTPClient,
	login, password string,
	limiter *rate.Limiter,
	log *zap.Logger,
) *DataForSEOProvider {
	return &DataForSEOProvider{
		client:   client,
		baseURL:  DataForSEOBaseURL,
		login:    login,
		password: password,
		log:      log,
		limiter:  limiter,
	}
}

// WithBaseURL points the provider at another API root, such as the DataForSEO sandbox.
func (dp *DataForSEOProvider) WithBaseURL(baseURL string) *DataForSEOProvider {
	if baseURL != "" {
		dp.baseURL = baseURL
	}
	return dp
}

// LocationCoordinate encodes the task center and zoom hint as "lat,lng,<zoom>z".
// The zoom is clamped to the 3..21 range the API accepts.
func LocationCoordinate(task models.Task) string {
	_, zoom := geo.SearchParams(task)
	zoom = min(max(zoom, dfsMinZoom), geo.MaxZoom)

	return strconv.FormatFloat(task.Center.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(task.Center.Longitude, 'f', -1, 64) + "," +
		strconv.Itoa(zoom) + "z"
}

// Submit posts one Google Maps search task.
func (dp *DataForSEOProvider) Submit(ctx context.Context, task models.Task) (string, error) {
	payload := []dfsTaskPost{{
		LanguageCode:       dfsLanguage,
		LocationCoordinate: LocationCoordinate(task),
		Keyword:            task.Keyword,
		Priority:           dfsPriority,
	}}

	dp.log.Debug("Posting DataForSEO task",
		zap.String("task_id", task.ID),
		zap.String("keyword", task.Keyword),
		zap.String("location", payload[0].LocationCoordinate))

	resp, err := dp.do(ctx, http.MethodPost, dfsTaskPostPath, payload)
	if err != nil {
		return "", fmt.Errorf("failed to post task: %w", err)
	}
	if resp.StatusCode != dfsStatusOK {
		return "", fmt.Errorf("dataforseo rejected task: %d %s", resp.StatusCode, resp.StatusMessage)
	}
	if len(resp.Tasks) == 0 || resp.Tasks[0].ID == "" {
		return "", fmt.Errorf("dataforseo returned no task id: %s", resp.StatusMessage)
	}
	if resp.Tasks[0].StatusCode >= 40000 {
		return "", fmt.Errorf("dataforseo rejected task: %d %s",
			resp.Tasks[0].StatusCode, resp.Tasks[0].StatusMessage)
	}

	return resp.Tasks[0].ID, nil
}

// Poll fetches a task result once.
func (dp *DataForSEOProvider) Poll(ctx context.Context, jobID string) ([]models.Place, error) {
	resp, err := dp.do(ctx, http.MethodGet, dfsTaskGetPath+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", jobID, err)
	}
	if resp.StatusCode != dfsStatusOK {
		return nil, fmt.Errorf("%w: %d %s", ErrJobFailed, resp.StatusCode, resp.StatusMessage)
	}
	if len(resp.Tasks) == 0 {
		return nil, fmt.Errorf("%w: response carries no task", ErrJobFailed)
	}

	task := resp.Tasks[0]
	switch task.StatusCode {
	case dfsStatusOK:
		// continue
	case dfsStatusTaskHanded, dfsStatusInQueue:
		return nil, ErrInProgress
	default:
		return nil, fmt.Errorf("%w: %d %s", ErrJobFailed, task.StatusCode, task.StatusMessage)
	}

	var places []models.Place
	for _, result := range task.Result {
		for _, item := range result.Items {
			places = append(places, item.toPlace())
		}
	}

	dp.log.Debug("DataForSEO task finished", zap.String("job_id", jobID), zap.Int("items", len(places)))

	return places, nil
}

func (it dfsItem) toPlace() models.Place {
	place := models.Place{
		PlaceID:  it.PlaceID,
		Name:     it.Title,
		City:     it.AddressInfo.City,
		Address:  it.Address,
		Category: it.Category,
		Website:  it.URL,
	}
	if it.CID != "" {
		place.MapsURL = "https://www.google.com/maps?cid=" + it.CID
	}
	return place
}

// do sends one authenticated request and decodes the envelope.
func (dp *DataForSEOProvider) do(ctx context.Context, method, path string, payload any) (*dfsResponse, error) {
	if err := dp.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, dp.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(dp.login, dp.password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := dp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		dp.log.Error("DataForSEO API error", zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return nil, fmt.Errorf("dataforseo API returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out dfsResponse
	if err = json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode dataforseo response: %w", err)
	}
	return &out, nil
}
