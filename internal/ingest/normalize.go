package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/JakeFAU/importscout/internal/lead"
)

// Defaults substituted for absent or wrong-typed agent fields.
const (
	DefaultCompanyName     = "Unknown Company"
	DefaultSummary         = "No summary available."
	DefaultConfidenceScore = 50
	MaxSourcesPerLead      = 5
)

// Normalizer maps decoded agent records onto lead.Lead values.
type Normalizer struct {
	ids   lead.IDGenerator
	clock lead.Clock
}

// NewNormalizer wires the id generator and clock stamped onto each lead.
func NewNormalizer(ids lead.IDGenerator, clock lead.Clock) *Normalizer {
	return &Normalizer{ids: ids, clock: clock}
}

// Normalize converts a parsed payload into leads. value must be a JSON array;
// anything else yields ErrInvalidFormat and no leads. Each element is mapped
// independently and malformed elements fall back to defaults rather than
// being dropped. Region and category come from q, never from the agent.
func (n *Normalizer) Normalize(value any, q lead.Query, sources []lead.Source) ([]lead.Lead, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %s", ErrInvalidFormat, kindOf(value))
	}
	if len(sources) > MaxSourcesPerLead {
		sources = sources[:MaxSourcesPerLead]
	}
	found := n.clock.Now()
	leads := make([]lead.Lead, 0, len(items))
	for i, item := range items {
		id, err := n.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate lead id for record %d: %w", i, err)
		}
		record, _ := item.(map[string]any)
		l := normalizeRecord(record)
		l.ID = id
		l.Region = q.Region
		l.Category = q.Product
		l.Sources = append(make([]lead.Source, 0, len(sources)), sources...)
		l.DateFound = found
		leads = append(leads, l)
	}
	return leads, nil
}

// normalizeRecord is total: a nil record produces an all-default lead.
func normalizeRecord(record map[string]any) lead.Lead {
	l := lead.Lead{
		CompanyName:     DefaultCompanyName,
		Summary:         DefaultSummary,
		Emails:          []string{},
		Phones:          []string{},
		ConfidenceScore: DefaultConfidenceScore,
	}
	if name, ok := text(record["companyName"]); ok && strings.TrimSpace(name) != "" {
		l.CompanyName = name
	}
	if summary, ok := text(record["summary"]); ok && strings.TrimSpace(summary) != "" {
		l.Summary = summary
	}
	l.Website, _ = text(record["website"])
	l.Address, _ = text(record["address"])
	l.Emails = textList(record["emails"])
	l.Phones = textList(record["phones"])
	l.Coordinates = coordinates(record["coordinates"])
	if social, ok := record["socialLinks"].(map[string]any); ok {
		l.SocialLinks.LinkedIn, _ = text(social["linkedin"])
		l.SocialLinks.Twitter, _ = text(social["twitter"])
		l.SocialLinks.Facebook, _ = text(social["facebook"])
	}
	if score, ok := number(record["confidenceScore"]); ok {
		l.ConfidenceScore = clampScore(score)
	}
	return l
}

// text coerces JSON scalars to a string. Objects, arrays and null are rejected.
func text(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// textList accepts an array of scalars or a single string and never returns nil.
func textList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := text(item); ok && s != "" {
				out = append(out, s)
			}
		}
	case string:
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = t
	case int:
		f = float64(t)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// coordinates returns nil unless both lat and lng are numeric.
func coordinates(v any) *lead.Coordinates {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	lat, okLat := number(raw["lat"])
	lng, okLng := number(raw["lng"])
	if !okLat || !okLng {
		return nil
	}
	return &lead.Coordinates{Lat: lat, Lng: lng}
}

func clampScore(score float64) int {
	rounded := math.Round(score)
	switch {
	case rounded < 0:
		return 0
	case rounded > 100:
		return 100
	default:
		return int(rounded)
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
