// Package collection holds the process-wide working set of leads.
package collection

import (
	"math"
	"sort"
	"sync"

	"github.com/JakeFAU/importscout/internal/lead"
)

// UncategorizedLabel names leads without a category in Stats.
const UncategorizedLabel = "Uncategorized"

// Collection is a goroutine-safe, in-memory lead list ordered newest batch first.
// There is no cross-run deduplication.
type Collection struct {
	mu    sync.RWMutex
	leads []lead.Lead
}

// New returns an empty collection.
func New() *Collection {
	return &Collection{}
}

// Merge prepends batch so the most recent run comes first. It returns the new size.
func (c *Collection) Merge(batch []lead.Lead) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := make([]lead.Lead, 0, len(batch)+len(c.leads))
	merged = append(merged, batch...)
	merged = append(merged, c.leads...)
	c.leads = merged
	return len(c.leads)
}

// All returns a copy of the current leads.
func (c *Collection) All() []lead.Lead {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]lead.Lead, len(c.leads))
	copy(out, c.leads)
	return out
}

// Len reports the number of leads held.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.leads)
}

// Clear drops every lead and returns how many were removed.
func (c *Collection) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.leads)
	c.leads = nil
	return n
}

// CategoryCount is one slice of the category distribution.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats summarizes contact coverage across the collection.
type Stats struct {
	Total              int             `json:"total"`
	EmailsFound        int             `json:"emailsFound"`
	PhonesFound        int             `json:"phonesFound"`
	LinkedIns          int             `json:"linkedIns"`
	Websites           int             `json:"websites"`
	ContactSuccessRate int             `json:"contactSuccessRate"`
	Regions            int             `json:"regions"`
	Categories         []CategoryCount `json:"categories"`
}

// Stats computes coverage counters. ContactSuccessRate is the rounded
// percentage of leads with at least one email. Categories are sorted by
// descending count, then name.
func (c *Collection) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return computeStats(c.leads)
}

func computeStats(leads []lead.Lead) Stats {
	st := Stats{Total: len(leads), Categories: []CategoryCount{}}
	regions := make(map[string]struct{})
	categories := make(map[string]int)
	for _, l := range leads {
		if len(l.Emails) > 0 {
			st.EmailsFound++
		}
		if len(l.Phones) > 0 {
			st.PhonesFound++
		}
		if l.SocialLinks.LinkedIn != "" {
			st.LinkedIns++
		}
		if l.Website != "" {
			st.Websites++
		}
		if l.Region != "" {
			regions[l.Region] = struct{}{}
		}
		cat := l.Category
		if cat == "" {
			cat = UncategorizedLabel
		}
		categories[cat]++
	}
	st.Regions = len(regions)
	if st.Total > 0 {
		st.ContactSuccessRate = int(math.Round(float64(st.EmailsFound) / float64(st.Total) * 100))
	}
	for name, count := range categories {
		st.Categories = append(st.Categories, CategoryCount{Name: name, Count: count})
	}
	sort.Slice(st.Categories, func(i, j int) bool {
		if st.Categories[i].Count != st.Categories[j].Count {
			return st.Categories[i].Count > st.Categories[j].Count
		}
		return st.Categories[i].Name < st.Categories[j].Name
	})
	return st
}
