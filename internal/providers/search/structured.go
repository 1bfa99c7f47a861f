package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const structuredResultCap = 20

// Structured queries a structured-search API (JSON in, typed listings out).
// It is a capability-gated adapter: the chain only includes it when an API
// key is configured.
type Structured struct {
	client *resty.Client
}

// NewStructured creates the adapter. Returns nil when no API key is
// configured; the chain treats a nil adapter as absent.
func NewStructured(baseURL, apiKey string) *Structured {
	if apiKey == "" {
		return nil
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Accept", "application/json")
	return &Structured{client: client}
}

// Name identifies the adapter.
func (s *Structured) Name() string { return "structured" }

type structuredHit struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Company    string   `json:"organization"`
	Location   string   `json:"location"`
	Summary    string   `json:"summary"`
	Salary     string   `json:"salary_range"`
	URL        string   `json:"canonical_url"`
	ApplyURL   string   `json:"apply_url"`
	Seniority  string   `json:"seniority"`
	EmployType string   `json:"employment_type"`
	Workplace  string   `json:"workplace_type"`
	Skills     []string `json:"skills"`
}

// Search posts the query and maps hits into opportunity records.
func (s *Structured) Search(ctx context.Context, params Params) ([]Opportunity, error) {
	var payload struct {
		Hits []structuredHit `json:"hits"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"query":     params.Keywords,
			"location":  params.Location,
			"seniority": params.Experience,
			"remote":    params.Remote,
			"page_size": structuredResultCap,
		}).
		SetResult(&payload).
		Post("/v1/jobs/search")
	if err != nil {
		return nil, fmt.Errorf("structured search request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("structured search returned status %d", resp.StatusCode())
	}

	records := make([]Opportunity, 0, len(payload.Hits))
	for _, hit := range payload.Hits {
		records = append(records, normalize(Opportunity{
			ID:             hit.ID,
			Title:          hit.Title,
			Company:        hit.Company,
			Location:       hit.Location,
			Description:    hit.Summary,
			Salary:         hit.Salary,
			URL:            hit.URL,
			ApplicationURL: hit.ApplyURL,
			Experience:     hit.Seniority,
			JobType:        hit.EmployType,
			Remote:         strings.ToLower(hit.Workplace),
			Skills:         hit.Skills,
		}, s.Name()))
	}
	return dedupe(records, structuredResultCap), nil
}
