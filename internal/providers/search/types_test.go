package search

import (
	"testing"
)

func TestCacheKeyIsCaseAndSpaceInsensitive(t *testing.T) {
	a := Params{Keywords: " Golang Engineer", Location: "Berlin "}
	b := Params{Keywords: "golang engineer", Location: "berlin"}
	if a.CacheKey() != b.CacheKey() {
		t.Errorf("keys differ: %q vs %q", a.CacheKey(), b.CacheKey())
	}

	remote := Params{Keywords: "golang engineer", Location: "berlin", Remote: true}
	if remote.CacheKey() == b.CacheKey() {
		t.Error("remote flag must change the key")
	}
}

func TestNormalizeFillsPlaceholders(t *testing.T) {
	r := normalize(Opportunity{}, "test")
	if r.Title != defaultTitle || r.Company != defaultCompany || r.Location != defaultLocation {
		t.Errorf("placeholders missing: %+v", r)
	}
	if r.ID == "" || r.Source != "test" || r.Status != StatusActive || r.CreatedAt.IsZero() {
		t.Errorf("identity fields missing: %+v", r)
	}
}

func TestNormalizeKeepsExistingValues(t *testing.T) {
	r := normalize(Opportunity{Title: "Go Dev", Status: StatusError, Source: "aggregator"}, "test")
	if r.Title != "Go Dev" || r.Status != StatusError || r.Source != "aggregator" {
		t.Errorf("normalize must not overwrite real values: %+v", r)
	}
}

func TestDedupeByCompositeKey(t *testing.T) {
	records := []Opportunity{
		{Title: "Go Engineer", Company: "Acme", Location: "Berlin", URL: "https://a.example.com/1"},
		{Title: "GO ENGINEER", Company: "acme", Location: "berlin", URL: "HTTPS://A.EXAMPLE.COM/1"},
		{Title: "Go Engineer", Company: "Acme", Location: "Berlin", URL: "https://a.example.com/2"},
	}

	out := dedupe(records, 0)
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
}

func TestDedupeCapsResults(t *testing.T) {
	var records []Opportunity
	for i := 0; i < 30; i++ {
		records = append(records, Opportunity{Title: "Job", URL: string(rune('a' + i))})
	}
	if got := len(dedupe(records, 15)); got != 15 {
		t.Errorf("expected cap at 15, got %d", got)
	}
}

func TestFallbackRecordsAlwaysRenderable(t *testing.T) {
	records := fallbackRecords(Params{Keywords: "golang", Location: "Berlin"}, nil)
	if len(records) == 0 {
		t.Fatal("fallback must produce records")
	}
	for _, r := range records {
		if r.Title == "" || r.Company == "" || r.Location == "" || r.URL == "" {
			t.Errorf("fallback record incomplete: %+v", r)
		}
		if r.Status != StatusFallback {
			t.Errorf("expected fallback status, got %q", r.Status)
		}
	}
}
