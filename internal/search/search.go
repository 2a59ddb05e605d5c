// Package search provides the web search collaborator used by the
// conversation engine's web_search tool.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderSerper = "serper"
	ProviderTavily = "tavily"
	ProviderMock   = "mock"

	defaultMaxResults = 5
)

// Result is a single search hit
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
	Date    string `json:"date,omitempty"` // RFC 3339 when known
}

// Response is the outcome of one query
type Response struct {
	Query     string    `json:"query"`
	Results   []Result  `json:"results"`
	Timestamp time.Time `json:"timestamp"`
}

// Provider executes web searches
type Provider interface {
	Search(ctx context.Context, query string) (*Response, error)
}

// New selects a provider by name. A provider without an API key is
// replaced by the deterministic mock.
func New(provider, apiKey string, httpClient *http.Client, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider != ProviderMock && strings.TrimSpace(apiKey) == "" {
		logger.Warn("search api key not configured, using mock results", "provider", provider)
		return NewMock()
	}

	switch provider {
	case ProviderSerper:
		return NewSerper(apiKey, "", httpClient)
	case ProviderTavily:
		return NewTavily(apiKey, "", httpClient)
	case ProviderMock, "":
		return NewMock()
	default:
		logger.Warn("unknown search provider, using mock results", "provider", provider)
		return NewMock()
	}
}

// FormatResults renders resp as a numbered, human readable list
func FormatResults(resp *Response, now time.Time) string {
	if resp == nil || len(resp.Results) == 0 {
		query := ""
		if resp != nil {
			query = resp.Query
		}
		return fmt.Sprintf("No information found for %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n\n", resp.Query)
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		fmt.Fprintf(&b, "   %s\n", r.Snippet)
		if age := ageHint(r.Date, now); age != "" {
			fmt.Fprintf(&b, "   (%s)\n", age)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Searched at: %s", resp.Timestamp.Format(time.RFC3339))
	return b.String()
}

func ageHint(date string, now time.Time) string {
	if date == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, date)
	if err != nil {
		return ""
	}
	hours := int(now.Sub(t).Hours())
	switch {
	case hours < 1:
		return "a few minutes ago"
	case hours < 24:
		return fmt.Sprintf("%d hours ago", hours)
	default:
		return fmt.Sprintf("%d days ago", hours/24)
	}
}
