package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnknownOlympus/quadrant/internal/geocoding"
	"github.com/UnknownOlympus/quadrant/internal/models"
)

type stubLocator struct {
	area *models.Area
	err  error
}

func (s stubLocator) Lookup(context.Context, string) (*models.Area, error) {
	return s.area, s.err
}

func TestResolveArea(t *testing.T) {
	t.Parallel()

	oslo := &models.Area{Center: models.Coordinates{Latitude: 59.91, Longitude: 10.75}, Width: 25000}

	tests := []struct {
		name    string
		opts    seedOptions
		locator geocoding.Locator
		want    models.Area
		wantErr error
	}{
		{
			name: "explicit region",
			opts: seedOptions{lat: 51.5, lng: -0.12, width: 20000, hasCenter: true, hasWidth: true},
			want: models.Area{Center: models.Coordinates{Latitude: 51.5, Longitude: -0.12}, Width: 20000},
		},
		{
			name:    "missing width",
			opts:    seedOptions{lat: 51.5, lng: -0.12, hasCenter: true},
			wantErr: errNoArea,
		},
		{
			name:    "nothing given",
			wantErr: errNoArea,
		},
		{
			name:    "place lookup",
			opts:    seedOptions{place: "Oslo"},
			locator: stubLocator{area: oslo},
			want:    *oslo,
		},
		{
			name:    "width overrides lookup extent",
			opts:    seedOptions{place: "Oslo", width: 5000, hasWidth: true},
			locator: stubLocator{area: oslo},
			want:    models.Area{Center: oslo.Center, Width: 5000},
		},
		{
			name:    "lookup failure",
			opts:    seedOptions{place: "Atlantis"},
			locator: stubLocator{err: geocoding.ErrEmptyResponse},
			wantErr: geocoding.ErrEmptyResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := tt.opts
			got, err := resolveArea(t.Context(), &opts, tt.locator)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
