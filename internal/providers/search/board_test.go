package search

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fixtureFetcher struct {
	html    string
	err     error
	lastURL string
}

func (f *fixtureFetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	f.lastURL = url
	return f.html, f.err
}

const boardFixture = `
<html><body>
<div class="job_seen_beacon">
  <h2><a href="/viewjob?jk=1">Senior Go Engineer</a></h2>
  <span class="companyName">Acme Corp</span>
  <div class="companyLocation">Berlin</div>
  <div class="job-snippet">Build <b>backend</b> services.</div>
  <div class="salary-snippet">€80k</div>
</div>
<div class="job_seen_beacon">
  <h2><a href="/viewjob?jk=1">Senior Go Engineer</a></h2>
  <span class="companyName">Acme Corp</span>
  <div class="companyLocation">Berlin</div>
</div>
<div class="job_seen_beacon">
  <h2><a href="https://other.example.com/job/2">Senior Go Engineer</a></h2>
  <span class="companyName">Acme Corp</span>
  <div class="companyLocation">Berlin</div>
</div>
<div class="job_seen_beacon"></div>
</body></html>`

func TestBoardExtractsAndDedupes(t *testing.T) {
	fetcher := &fixtureFetcher{html: boardFixture}
	board := NewBoard("board", "https://board.example.com", fetcher, DefaultSelectors())

	records, err := board.Search(context.Background(), Params{Keywords: "golang", Location: "Berlin"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	// Two identical cards collapse; the different-url card survives; the
	// empty card is dropped.
	if len(records) != 2 {
		t.Fatalf("expected 2 records after dedup, got %d: %+v", len(records), records)
	}

	first := records[0]
	if first.Title != "Senior Go Engineer" || first.Company != "Acme Corp" || first.Location != "Berlin" {
		t.Errorf("unexpected first record %+v", first)
	}
	if first.URL != "https://board.example.com/viewjob?jk=1" {
		t.Errorf("relative links must be absolutized, got %q", first.URL)
	}
	if first.Status != StatusActive {
		t.Errorf("scraped records must be active, got %q", first.Status)
	}
	if strings.Contains(first.Description, "<b>") {
		t.Errorf("description must be sanitized, got %q", first.Description)
	}
}

func TestBoardSearchURLCarriesParams(t *testing.T) {
	fetcher := &fixtureFetcher{html: "<html></html>"}
	board := NewBoard("board", "https://board.example.com", fetcher, DefaultSelectors())

	_, _ = board.Search(context.Background(), Params{Keywords: "go developer", Location: "Berlin", Remote: true})

	for _, want := range []string{"q=go+developer", "l=Berlin", "remote=true"} {
		if !strings.Contains(fetcher.lastURL, want) {
			t.Errorf("search url %q missing %q", fetcher.lastURL, want)
		}
	}
}

func TestBoardFetchFailurePropagates(t *testing.T) {
	fetcher := &fixtureFetcher{err: errors.New("browser crashed")}
	board := NewBoard("board", "https://board.example.com", fetcher, DefaultSelectors())

	if _, err := board.Search(context.Background(), Params{Keywords: "go"}); err == nil {
		t.Fatal("fetch failure must propagate so the chain can fall through")
	}
}

func TestBoardDefaultsMissingFields(t *testing.T) {
	fetcher := &fixtureFetcher{html: `
<html><body><div class="job_seen_beacon">
  <h2><a href="/viewjob?jk=9">DevOps Engineer</a></h2>
</div></body></html>`}
	board := NewBoard("board", "https://board.example.com", fetcher, DefaultSelectors())

	records, err := board.Search(context.Background(), Params{Keywords: "devops"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Company != defaultCompany || records[0].Location != defaultLocation {
		t.Errorf("missing fields must get placeholders, got %+v", records[0])
	}
}
