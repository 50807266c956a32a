package models

// Coordinates represents a geographical point defined by its latitude and longitude in degrees.
type Coordinates struct {
	Latitude  float64 `json:"lat"` // Latitude of the geographical point.
	Longitude float64 `json:"lng"` // Longitude of the geographical point.
}

// Valid reports whether the point lies inside the usual latitude/longitude ranges.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Area is a square search region returned by a place lookup.
type Area struct {
	Center Coordinates // Center of the region.
	Width  float64     // Width is the side length of the region in meters.
}
