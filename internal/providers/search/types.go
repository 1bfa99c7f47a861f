// Package search implements the outbound job-search layer: provider adapters
// behind a fallback chain, response caching, and a normalized record shape
// callers can always render.
package search

import (
	"strings"
	"time"

	"github.com/jobpilot/browserd/internal/shared/id"
)

// Status tags how a record was produced.
type Status string

const (
	// StatusActive is a real listing from an upstream provider.
	StatusActive Status = "active"
	// StatusError marks a record describing an upstream failure.
	StatusError Status = "error"
	// StatusFallback marks a manual-search-link record produced after every
	// provider failed.
	StatusFallback Status = "fallback"
)

// Params describes one search query.
type Params struct {
	Keywords   string `json:"keywords"`
	Location   string `json:"location"`
	Experience string `json:"experience,omitempty"`
	Remote     bool   `json:"remote,omitempty"`
}

// CacheKey returns the normalized tuple key. Identical queries differing only
// in case or surrounding whitespace share an entry.
func (p Params) CacheKey() string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(p.Keywords)),
		strings.ToLower(strings.TrimSpace(p.Location)),
		strings.ToLower(strings.TrimSpace(p.Experience)),
	}
	if p.Remote {
		parts = append(parts, "remote")
	}
	return strings.Join(parts, "|")
}

// Opportunity is the provider-agnostic record every adapter produces.
// Callers can rely on Title/Company/Location being non-empty.
type Opportunity struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Company        string    `json:"company"`
	Location       string    `json:"location"`
	Description    string    `json:"description,omitempty"`
	Salary         string    `json:"salary,omitempty"`
	URL            string    `json:"url,omitempty"`
	ApplicationURL string    `json:"application_url,omitempty"`
	Source         string    `json:"source"`
	Skills         []string  `json:"skills,omitempty"`
	Experience     string    `json:"experience,omitempty"`
	JobType        string    `json:"job_type,omitempty"`
	Remote         string    `json:"remote,omitempty"`
	Status         Status    `json:"status"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	defaultTitle    = "Unknown Title"
	defaultCompany  = "Unknown Company"
	defaultLocation = "Unknown Location"
)

// normalize fills placeholder defaults and stamps identity so downstream
// consumers never see blank core fields.
func normalize(o Opportunity, source string) Opportunity {
	if o.ID == "" {
		o.ID = string(id.NewRequestID())
	}
	if strings.TrimSpace(o.Title) == "" {
		o.Title = defaultTitle
	}
	if strings.TrimSpace(o.Company) == "" {
		o.Company = defaultCompany
	}
	if strings.TrimSpace(o.Location) == "" {
		o.Location = defaultLocation
	}
	if o.Source == "" {
		o.Source = source
	}
	if o.Status == "" {
		o.Status = StatusActive
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	return o
}

// dedupe removes records sharing a case-insensitive title+company+location+url
// key, keeping first occurrence, then caps the list.
func dedupe(records []Opportunity, limit int) []Opportunity {
	seen := make(map[string]struct{}, len(records))
	out := make([]Opportunity, 0, len(records))
	for _, r := range records {
		key := strings.ToLower(r.Title) + "|" + strings.ToLower(r.Company) + "|" +
			strings.ToLower(r.Location) + "|" + strings.ToLower(r.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
