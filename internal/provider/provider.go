// Package provider adapts asynchronous map search APIs to a submit/poll
// contract used by the worker pipeline.
package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/UnknownOlympus/quadrant/internal/models"
)

// Provider submits a square-area keyword search and collects its results.
type Provider interface {
	// Submit starts a search for the task region and returns the provider job ID.
	Submit(ctx context.Context, task models.Task) (string, error)
	// Poll returns the result items of a finished job. ErrInProgress means the
	// job is not ready yet, ErrJobFailed means it never will be. Any other
	// error is transient and the call may be retried.
	Poll(ctx context.Context, jobID string) ([]models.Place, error)
}

// Poll outcomes shared by every backend.
var (
	ErrInProgress = errors.New("provider job is still in progress")
	ErrJobFailed  = errors.New("provider job failed")
)

// HTTPClient interface for making HTTP requests (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
