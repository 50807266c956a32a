package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UnknownOlympus/quadrant/internal/geocoding"
	"github.com/UnknownOlympus/quadrant/internal/models"
	"github.com/UnknownOlympus/quadrant/internal/service"
)

var errNoArea = errors.New("either --place or all of --lat, --lng and --width are required")

type seedOptions struct {
	lat, lng, width float64
	place           string
	keywords        []string
	hasCenter       bool
	hasWidth        bool
}

func newSeedCmd(a *app) *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Enqueue one root task per keyword for a region",
		Example: `  quadrant seed --lat 59.91 --lng 10.75 --width 20000 -k gym -k spa
  quadrant seed --place "Oslo, Norway" -k plumber`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.hasCenter = cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng")
			opts.hasWidth = cmd.Flags().Changed("width")
			return a.runSeed(cmd.Context(), opts)
		},
	}

	cmd.Flags().Float64Var(&opts.lat, "lat", 0, "latitude of the region center")
	cmd.Flags().Float64Var(&opts.lng, "lng", 0, "longitude of the region center")
	cmd.Flags().Float64Var(&opts.width, "width", 0, "region side length in meters")
	cmd.Flags().StringVar(&opts.place, "place", "", "place name resolved to a center and extent")
	cmd.Flags().StringSliceVarP(&opts.keywords, "keyword", "k", nil, "search keyword, repeatable")
	_ = cmd.MarkFlagRequired("keyword")
	cmd.MarkFlagsMutuallyExclusive("place", "lat")
	cmd.MarkFlagsMutuallyExclusive("place", "lng")

	return cmd
}

func (a *app) runSeed(ctx context.Context, opts *seedOptions) error {
	var locator geocoding.Locator
	if opts.place != "" {
		var err error
		if locator, err = a.newLocator(); err != nil {
			return err
		}
	}

	area, err := resolveArea(ctx, opts, locator)
	if err != nil {
		return err
	}

	q, rdb, err := a.openQueue(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	tasks, err := service.NewSeeder(a.log, q).Seed(ctx, area, opts.keywords)
	if err != nil {
		return err
	}

	a.log.Info("Region seeded",
		zap.Int("tasks", len(tasks)),
		zap.Float64("lat", area.Center.Latitude),
		zap.Float64("lng", area.Center.Longitude),
		zap.Float64("width", area.Width))
	return nil
}

// resolveArea takes the region from the flags or, for --place, from the
// locator. An explicit --width overrides the looked-up extent.
func resolveArea(ctx context.Context, opts *seedOptions, locator geocoding.Locator) (models.Area, error) {
	if opts.place == "" {
		if !opts.hasCenter || !opts.hasWidth {
			return models.Area{}, errNoArea
		}
		return models.Area{
			Center: models.Coordinates{Latitude: opts.lat, Longitude: opts.lng},
			Width:  opts.width,
		}, nil
	}

	area, err := locator.Lookup(ctx, opts.place)
	if err != nil {
		return models.Area{}, fmt.Errorf("failed to look up %q: %w", opts.place, err)
	}
	if opts.hasWidth {
		area.Width = opts.width
	}
	return *area, nil
}
