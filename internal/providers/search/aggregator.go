package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const aggregatorResultCap = 20

// Aggregator queries a resume-board aggregator's JSON API. HTTP-level retries
// are handled by the retryable client; the chain's policy covers whole-call
// retries.
type Aggregator struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewAggregator creates an aggregator adapter.
func NewAggregator(baseURL string) *Aggregator {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 4 * time.Second
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = nil

	return &Aggregator{baseURL: baseURL, client: client}
}

// Name identifies the adapter.
func (a *Aggregator) Name() string { return "aggregator" }

// aggregatorListing is the upstream response shape.
type aggregatorListing struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Company     string   `json:"company_name"`
	Location    string   `json:"candidate_required_location"`
	Description string   `json:"description"`
	Salary      string   `json:"salary"`
	URL         string   `json:"url"`
	JobType     string   `json:"job_type"`
	Tags        []string `json:"tags"`
}

// Search queries the aggregator API.
func (a *Aggregator) Search(ctx context.Context, params Params) ([]Opportunity, error) {
	q := url.Values{}
	q.Set("search", params.Keywords)
	if params.Location != "" {
		q.Set("location", params.Location)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/remote-jobs?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("aggregator request build failed: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator returned status %d", resp.StatusCode)
	}

	var payload struct {
		Jobs []aggregatorListing `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("aggregator response decode failed: %w", err)
	}

	records := make([]Opportunity, 0, len(payload.Jobs))
	for _, job := range payload.Jobs {
		records = append(records, normalize(Opportunity{
			ID:          job.ID,
			Title:       job.Title,
			Company:     job.Company,
			Location:    job.Location,
			Description: job.Description,
			Salary:      job.Salary,
			URL:         job.URL,
			JobType:     job.JobType,
			Skills:      job.Tags,
			Remote:      "remote",
			Experience:  params.Experience,
		}, a.Name()))
	}
	return dedupe(records, aggregatorResultCap), nil
}
