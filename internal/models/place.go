package models

// Place is a single item of a provider result page.
type Place struct {
	PlaceID  string // PlaceID is the provider-assigned stable identifier.
	Name     string
	City     string
	Address  string
	Category string
	Website  string
	MapsURL  string // MapsURL points at the provider's listing page.
}

// URL returns the business website, or the maps listing when the place has none.
func (p Place) URL() string {
	if p.Website != "" {
		return p.Website
	}
	return p.MapsURL
}

// Business is a persisted place together with every keyword that surfaced it.
type Business struct {
	Place
	Keywords []string
}
