package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/UnknownOlympus/quadrant/internal/models"
)

// Lookup and validation errors.
var (
	ErrMissingPlaceID   = errors.New("place has no place id")
	ErrBusinessNotFound = errors.New("business not found")
)

// UpsertBusiness records one sighting of a place for a keyword.
//
// A new place_id creates the row. An existing one has its attributes
// overwritten with the latest values and gains the keyword unless the
// keyword is already listed.
//
// Parameters:
// - ctx: The context for the operation, allowing for cancellation and timeout.
// - place: The provider result item.
// - keyword: The search term that surfaced the place.
func (r *Repository) UpsertBusiness(ctx context.Context, place models.Place, keyword string) error {
	if place.PlaceID == "" {
		return ErrMissingPlaceID
	}

	query := `
		INSERT INTO businesses (place_id, name, city, full_address, category, website, maps_url, keywords_found)
		VALUES ($1, $2, $3, $4, $5, $6, $7, ARRAY[$8::text])
		ON CONFLICT (place_id) DO UPDATE
		SET
			name = EXCLUDED.name,
			city = EXCLUDED.city,
			full_address = EXCLUDED.full_address,
			category = EXCLUDED.category,
			website = EXCLUDED.website,
			maps_url = EXCLUDED.maps_url,
			keywords_found = CASE
				WHEN $8::text = ANY(COALESCE(businesses.keywords_found, '{}')) THEN businesses.keywords_found
				ELSE array_append(COALESCE(businesses.keywords_found, '{}'), $8::text)
			END;
	`

	_, err := r.db.Exec(ctx, query,
		place.PlaceID,
		nullText(place.Name),
		nullText(place.City),
		nullText(place.Address),
		nullText(place.Category),
		nullText(place.Website),
		nullText(place.MapsURL),
		keyword,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert business %s: %w", place.PlaceID, err)
	}

	r.log.Debug("Business upserted", zap.String("place_id", place.PlaceID), zap.String("keyword", keyword))

	return nil
}

// GetBusiness loads one business by place_id.
func (r *Repository) GetBusiness(ctx context.Context, placeID string) (*models.Business, error) {
	query := `
		SELECT place_id, name, city, full_address, category, website, maps_url, keywords_found
		FROM businesses
		WHERE place_id = $1;
	`

	var business models.Business
	var name, city, address, category, website, mapsURL pgtype.Text
	err := r.db.QueryRow(ctx, query, placeID).Scan(
		&business.PlaceID, &name, &city, &address, &category, &website, &mapsURL, &business.Keywords,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBusinessNotFound, placeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get business %s: %w", placeID, err)
	}

	business.Name = name.String
	business.City = city.String
	business.Address = address.String
	business.Category = category.String
	business.Website = website.String
	business.MapsURL = mapsURL.String

	return &business, nil
}

// CountBusinesses returns the number of stored businesses.
func (r *Repository) CountBusinesses(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM businesses;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count businesses: %w", err)
	}
	return count, nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
