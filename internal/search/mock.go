package search

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mock returns canned results chosen by topic. It never fails and is
// used whenever no real provider is configured.
type Mock struct {
	now func() time.Time
}

func NewMock() *Mock {
	return &Mock{now: time.Now}
}

func (m *Mock) Search(ctx context.Context, query string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.now()
	stamp := now.Format(time.RFC3339)
	q := strings.ToLower(query)

	var results []Result
	switch {
	case containsAny(q, "exchange", "usd", "dollar", "yen", "forex"):
		results = []Result{
			{Title: "USD/JPY live rate", Snippet: "USD/JPY is trading at 147.25 yen.", Link: "https://example.com/forex", Date: stamp},
			{Title: "Currency market outlook", Snippet: "Central bank policy continues to drive the yen.", Link: "https://example.com/news", Date: stamp},
		}
	case containsAny(q, "weather", "forecast", "rain"):
		results = []Result{
			{Title: "Today's weather", Snippet: "Sunny with some clouds, high of 22°C, low of 13°C.", Link: "https://example.com/weather", Date: stamp},
			{Title: "Weekly forecast", Snippet: "Mostly clear this week with a chance of rain at the weekend.", Link: "https://example.com/weekly-weather", Date: stamp},
		}
	case containsAny(q, "news", "headline"):
		results = []Result{
			{Title: "Top stories", Snippet: fmt.Sprintf("Headlines for %s: economy, politics and local news.", now.Format("2006-01-02")), Link: "https://example.com/news", Date: stamp},
		}
	default:
		results = []Result{
			{Title: "Web search (development mode)", Snippet: "Configure a search provider API key to get live results.", Link: "https://example.com", Date: stamp},
			{Title: fmt.Sprintf("Results for %q", query), Snippet: fmt.Sprintf("Placeholder information about %q.", query), Link: "https://example.com/search", Date: stamp},
		}
	}

	return &Response{Query: query, Results: results, Timestamp: now}, nil
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
