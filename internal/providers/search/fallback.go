package search

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jobpilot/browserd/internal/shared/id"
)

// manualSearchSite is one destination a human can continue the search on.
type manualSearchSite struct {
	name string
	url  func(params Params) string
}

var manualSearchSites = []manualSearchSite{
	{
		name: "Google Jobs",
		url: func(p Params) string {
			q := p.Keywords + " jobs"
			if p.Location != "" {
				q += " in " + p.Location
			}
			return "https://www.google.com/search?q=" + url.QueryEscape(q) + "&ibp=htl;jobs"
		},
	},
	{
		name: "LinkedIn",
		url: func(p Params) string {
			q := url.Values{}
			q.Set("keywords", p.Keywords)
			if p.Location != "" {
				q.Set("location", p.Location)
			}
			return "https://www.linkedin.com/jobs/search/?" + q.Encode()
		},
	},
	{
		name: "Indeed",
		url: func(p Params) string {
			q := url.Values{}
			q.Set("q", p.Keywords)
			if p.Location != "" {
				q.Set("l", p.Location)
			}
			return "https://www.indeed.com/jobs?" + q.Encode()
		},
	},
}

// fallbackRecords produces manual-search-link records after every provider
// failed. The caller always gets an explainable, non-empty list.
func fallbackRecords(params Params, cause error) []Opportunity {
	note := "all search providers unavailable"
	if cause != nil {
		note = fmt.Sprintf("all search providers unavailable: %s", cause)
	}

	records := make([]Opportunity, 0, len(manualSearchSites))
	for _, site := range manualSearchSites {
		records = append(records, Opportunity{
			ID:        string(id.NewRequestID()),
			Title:     fmt.Sprintf("Search %q on %s", strings.TrimSpace(params.Keywords), site.name),
			Company:   site.name,
			Location:  locationOrAnywhere(params),
			URL:       site.url(params),
			Source:    "fallback",
			Status:    StatusFallback,
			Note:      note,
			CreatedAt: time.Now(),
		})
	}
	return records
}

func locationOrAnywhere(params Params) string {
	if params.Location != "" {
		return params.Location
	}
	if params.Remote {
		return "Remote"
	}
	return "Anywhere"
}
