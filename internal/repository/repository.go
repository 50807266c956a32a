package repository

import (
	"context"

	"go.uber.org/zap"

	"github.com/UnknownOlympus/quadrant/internal/models"
)

// Repository persists discovered businesses.
type Repository struct {
	db  Database
	log *zap.Logger
}

// Interface is the persistence contract of the CLI commands. Its upsert half
// is what the worker stores result pages through.
type Interface interface {
	UpsertBusiness(ctx context.Context, place models.Place, keyword string) error
	GetBusiness(ctx context.Context, placeID string) (*models.Business, error)
	CountBusinesses(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

var _ Interface = (*Repository)(nil)

// NewRepository creates a new instance of Repository with the provided Database.
// It returns a pointer to the newly created Repository.
func NewRepository(db Database, log *zap.Logger) *Repository {
	return &Repository{db: db, log: log}
}
