package models

import (
	"errors"
	"fmt"
	"strings"
)

// Task is the unit of work: search one square region for one keyword.
// Tasks are treated as values; subdividing a region produces new tasks.
type Task struct {
	ID      string      `json:"id"`              // ID is assigned by the queue on enqueue.
	Center  Coordinates `json:"center"`          // Center of the square region.
	Width   float64     `json:"width"`           // Width is the side length of the region in meters.
	Keyword string      `json:"keyword"`         // Keyword is the search term.
	Depth   int         `json:"depth,omitempty"` // Depth counts subdivisions since the seed task.
}

// Validation errors returned by Task.Validate.
var (
	ErrEmptyKeyword  = errors.New("task keyword is empty")
	ErrInvalidWidth  = errors.New("task width must be positive")
	ErrInvalidCenter = errors.New("task center is out of range")
)

// Validate checks that the task describes a searchable region.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Keyword) == "" {
		return ErrEmptyKeyword
	}
	if !(t.Width > 0) {
		return fmt.Errorf("%w: %v", ErrInvalidWidth, t.Width)
	}
	if !t.Center.Valid() {
		return fmt.Errorf("%w: %v,%v", ErrInvalidCenter, t.Center.Latitude, t.Center.Longitude)
	}
	return nil
}
