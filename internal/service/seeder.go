package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/UnknownOlympus/quadrant/internal/models"
	"github.com/UnknownOlympus/quadrant/internal/queue"
)

// ErrNoKeywords is returned when a seed request carries no usable keyword.
var ErrNoKeywords = errors.New("no keywords to seed")

// Seeder enqueues the root tasks of a search.
type Seeder struct {
	log   *zap.Logger
	queue queue.Queue
}

// NewSeeder creates a Seeder on the given queue.
func NewSeeder(log *zap.Logger, q queue.Queue) *Seeder {
	return &Seeder{log: log, queue: q}
}

// Seed enqueues one depth-zero task per distinct trimmed keyword covering the
// area and returns the enqueued tasks with their IDs.
func (s *Seeder) Seed(ctx context.Context, area models.Area, keywords []string) ([]models.Task, error) {
	seen := make(map[string]bool, len(keywords))
	var tasks []models.Task
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true

		task, err := s.queue.Enqueue(ctx, models.Task{
			Center:  area.Center,
			Width:   area.Width,
			Keyword: kw,
		})
		if err != nil {
			return tasks, fmt.Errorf("failed to seed keyword %q: %w", kw, err)
		}
		s.log.Info("Seed task enqueued",
			zap.String("task_id", task.ID),
			zap.String("keyword", kw),
			zap.Float64("lat", area.Center.Latitude),
			zap.Float64("lng", area.Center.Longitude),
			zap.Float64("width", area.Width))
		tasks = append(tasks, task)
	}

	if len(tasks) == 0 {
		return nil, ErrNoKeywords
	}
	return tasks, nil
}
