// Package lead defines the lead records and ports shared across subsystems.
package lead

import "time"

// Lead is a normalized business candidate produced by one ingestion run.
type Lead struct {
	ID              string       `json:"id"`
	CompanyName     string       `json:"companyName"`
	Summary         string       `json:"summary"`
	Website         string       `json:"website,omitempty"`
	Address         string       `json:"address,omitempty"`
	Emails          []string     `json:"emails"`
	Phones          []string     `json:"phones"`
	Coordinates     *Coordinates `json:"coordinates,omitempty"`
	SocialLinks     SocialLinks  `json:"socialLinks"`
	Region          string       `json:"region"`
	Category        string       `json:"category"`
	ConfidenceScore int          `json:"confidenceScore"`
	Sources         []Source     `json:"sources"`
	DateFound       time.Time    `json:"dateFound"`
}

// Coordinates is a latitude/longitude pair. A Lead either carries both or none.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SocialLinks holds optional profile URLs.
type SocialLinks struct {
	LinkedIn string `json:"linkedin,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
	Facebook string `json:"facebook,omitempty"`
}

// Source is a citation backing claims in a lead batch.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Query is the caller input for an ingestion run. Product doubles as the
// category stamped on every resulting lead.
type Query struct {
	Product string `json:"product" mapstructure:"product"`
	Region  string `json:"region" mapstructure:"region"`
	Limit   int    `json:"limit" mapstructure:"limit"`
}
