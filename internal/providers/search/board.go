package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

const boardResultCap = 15

// PageFetcher renders a URL and returns its HTML. The chrome engine provides
// the production implementation; a board page without JS execution is mostly
// empty shells.
type PageFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

// Selectors maps a board's DOM structure onto opportunity fields.
type Selectors struct {
	Card        string
	Title       string
	Company     string
	Location    string
	Link        string
	Description string
	Salary      string
}

// DefaultSelectors matches the common job-card markup most boards share.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:        "div.job_seen_beacon, div.jobsearch-SerpJobCard, article[data-testid='job-card'], li[data-occludable-job-id]",
		Title:       "h2 a, h2 span[title], a.jobtitle, [data-testid='job-title']",
		Company:     "span.companyName, span[data-testid='company-name'], .company",
		Location:    "div.companyLocation, [data-testid='text-location'], .location",
		Link:        "h2 a, a.jobtitle, a[data-testid='job-title-link']",
		Description: "div.job-snippet, [data-testid='job-snippet'], .summary",
		Salary:      "div.salary-snippet, [data-testid='attribute_snippet_testid'], .salaryText",
	}
}

// Board scrapes a search-engine style job board by rendering its results page
// and extracting listing cards.
type Board struct {
	name      string
	baseURL   string
	fetcher   PageFetcher
	selectors Selectors
	sanitize  *bluemonday.Policy
}

// NewBoard creates a board adapter.
func NewBoard(name, baseURL string, fetcher PageFetcher, selectors Selectors) *Board {
	return &Board{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		fetcher:   fetcher,
		selectors: selectors,
		sanitize:  bluemonday.StrictPolicy(),
	}
}

// Name identifies the adapter in logs and cache keys.
func (b *Board) Name() string { return b.name }

// Search renders the board's result page and extracts listings. Overlapping
// cards are collapsed and the list is capped.
func (b *Board) Search(ctx context.Context, params Params) ([]Opportunity, error) {
	html, err := b.fetcher.FetchHTML(ctx, b.searchURL(params))
	if err != nil {
		return nil, fmt.Errorf("board %s fetch failed: %w", b.name, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("board %s returned unparsable html: %w", b.name, err)
	}

	var records []Opportunity
	doc.Find(b.selectors.Card).Each(func(_ int, card *goquery.Selection) {
		record := Opportunity{
			Title:       b.text(card, b.selectors.Title),
			Company:     b.text(card, b.selectors.Company),
			Location:    b.text(card, b.selectors.Location),
			Description: b.text(card, b.selectors.Description),
			Salary:      b.text(card, b.selectors.Salary),
			URL:         b.link(card),
			Experience:  params.Experience,
		}
		if params.Remote {
			record.Remote = "remote"
		}
		// Cards with neither title nor link are layout debris.
		if record.Title == "" && record.URL == "" {
			return
		}
		records = append(records, normalize(record, b.name))
	})

	return dedupe(records, boardResultCap), nil
}

func (b *Board) searchURL(params Params) string {
	q := url.Values{}
	q.Set("q", params.Keywords)
	if params.Location != "" {
		q.Set("l", params.Location)
	}
	if params.Remote {
		q.Set("remote", "true")
	}
	return b.baseURL + "/jobs?" + q.Encode()
}

func (b *Board) text(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	raw := card.Find(selector).First().Text()
	return strings.TrimSpace(b.sanitize.Sanitize(raw))
}

func (b *Board) link(card *goquery.Selection) string {
	href, ok := card.Find(b.selectors.Link).First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http") {
		return href
	}
	return b.baseURL + href
}
