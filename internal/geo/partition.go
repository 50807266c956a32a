// Package geo converts square search regions into provider search parameters
// and splits them into quadrants.
//
// Distances use a local planar approximation (1° ≈ 111 km), which holds for
// sub-country widths away from the poles.
package geo

import (
	"math"

	"github.com/UnknownOlympus/quadrant/internal/models"
)

const (
	// EarthCircumferenceMeters is the equatorial circumference used for zoom estimation.
	EarthCircumferenceMeters = 40_075_000
	// MetersPerDegree approximates one degree of latitude in meters.
	MetersPerDegree = 111_000
	// MaxZoom is the deepest map zoom level and the fallback for degenerate inputs.
	MaxZoom = 21
)

// Square is an axis-aligned square region.
type Square struct {
	Center models.Coordinates
	Width  float64 // meters
}

// CircumscribedRadius returns the radius in meters of the circle that
// circumscribes a square of the given side length, rounded up.
func CircumscribedRadius(width float64) int {
	return int(math.Ceil(width * math.Sqrt2 / 2))
}

// ZoomLevel approximates the map zoom whose viewport spans 2*radius meters at
// the given latitude, using viewport = C*cos(lat)/2^zoom. The result is floored
// so the viewport is never narrower than requested.
func ZoomLevel(radius float64, latitude float64) int {
	if radius <= 0 {
		return MaxZoom
	}

	viewport := EarthCircumferenceMeters * math.Cos(latitude*math.Pi/180)
	desired := 2 * radius
	if viewport <= 0 || desired <= 0 {
		return MaxZoom
	}

	return int(math.Floor(math.Log2(viewport / desired)))
}

// SplitSquare halves the width and returns the four quadrant squares in the
// order NE, NW, SE, SW.
func SplitSquare(center models.Coordinates, width float64) [4]Square {
	newWidth := width / 2
	offset := newWidth / 2

	latOffset := offset / MetersPerDegree
	lngOffset := offset / (MetersPerDegree * math.Cos(center.Latitude*math.Pi/180))

	at := func(dLat, dLng float64) Square {
		return Square{
			Center: models.Coordinates{
				Latitude:  center.Latitude + dLat,
				Longitude: center.Longitude + dLng,
			},
			Width: newWidth,
		}
	}

	return [4]Square{
		at(latOffset, lngOffset),
		at(latOffset, -lngOffset),
		at(-latOffset, lngOffset),
		at(-latOffset, -lngOffset),
	}
}

// SplitTask subdivides the task's region into four child tasks for the same
// keyword. Children carry no ID; the queue assigns one when they are enqueued.
func SplitTask(task models.Task) []models.Task {
	squares := SplitSquare(task.Center, task.Width)
	children := make([]models.Task, 0, len(squares))
	for _, sq := range squares {
		children = append(children, models.Task{
			Center:  sq.Center,
			Width:   sq.Width,
			Keyword: task.Keyword,
			Depth:   task.Depth + 1,
		})
	}
	return children
}

// SearchParams returns the circumscribed radius and zoom hint for a task.
func SearchParams(task models.Task) (int, int) {
	radius := CircumscribedRadius(task.Width)
	return radius, ZoomLevel(float64(radius), task.Center.Latitude)
}

// AreaFromBounds returns the smallest square centered on a bounding box that
// covers it. Longitude spans crossing the antimeridian are not handled.
func AreaFromBounds(south, west, north, east float64) models.Area {
	center := models.Coordinates{
		Latitude:  (south + north) / 2,
		Longitude: (west + east) / 2,
	}
	height := math.Abs(north-south) * MetersPerDegree
	width := math.Abs(east-west) * MetersPerDegree * math.Cos(center.Latitude*math.Pi/180)

	return models.Area{Center: center, Width: math.Max(height, width)}
}
