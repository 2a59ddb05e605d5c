package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerperSearch_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-KEY"); got != "key" {
			t.Fatalf("api key header=%q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["q"] != "weather today" {
			t.Fatalf("query=%v", body["q"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"answerBox": {"title": "Weather", "answer": "Sunny, 21C"},
			"knowledgeGraph": {"title": "Tokyo", "description": "Capital of Japan", "website": "https://tokyo.example"},
			"organic": [{"title": "Forecast", "snippet": "Clear skies", "link": "https://w.example"}]
		}`))
	}))
	defer ts.Close()

	c := NewSerper("key", ts.URL, ts.Client())
	resp, err := c.Search(context.Background(), "weather today")
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "Sunny, 21C", resp.Results[0].Snippet)
	assert.Equal(t, "Capital of Japan", resp.Results[1].Snippet)
	assert.Equal(t, "Clear skies", resp.Results[2].Snippet)
}

func TestSerperSearch_Non200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	}))
	defer ts.Close()

	c := NewSerper("key", ts.URL, ts.Client())
	_, err := c.Search(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestTavilySearch_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Fatalf("auth header=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"T","url":"https://e.com","content":"S"}]}`))
	}))
	defer ts.Close()

	c := NewTavily("key", ts.URL, ts.Client())
	resp, err := c.Search(context.Background(), "golang")
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, Result{Title: "T", Snippet: "S", Link: "https://e.com"}, resp.Results[0])
}

func TestTavilySearch_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer ts.Close()

	c := NewTavily("key", ts.URL, ts.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Search(ctx, "golang"); err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

func TestTavilySearch_MalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{"))
	}))
	defer ts.Close()

	c := NewTavily("key", ts.URL, ts.Client())
	if _, err := c.Search(context.Background(), "golang"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMock_Topics(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	resp, err := m.Search(ctx, "Weather today")
	require.NoError(t, err)
	assert.Contains(t, resp.Results[0].Snippet, "Sunny")

	resp, err = m.Search(ctx, "usd to yen")
	require.NoError(t, err)
	assert.Contains(t, resp.Results[0].Title, "USD/JPY")

	resp, err = m.Search(ctx, "quantum gardening")
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)

	again, err := m.Search(ctx, "Weather today")
	require.NoError(t, err)
	assert.Equal(t, "Sunny with some clouds, high of 22°C, low of 13°C.", again.Results[0].Snippet)
}

func TestNew_FallsBackToMock(t *testing.T) {
	assert.IsType(t, &Mock{}, New(ProviderSerper, "", nil, nil))
	assert.IsType(t, &Mock{}, New("bing", "key", nil, nil))
	assert.IsType(t, &Serper{}, New(ProviderSerper, "key", nil, nil))
	assert.IsType(t, &Tavily{}, New("Tavily", "key", nil, nil))
}

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) Search(ctx context.Context, query string) (*Response, error) {
	p.calls.Add(1)
	return &Response{Query: query}, nil
}

func TestCached_ReusesResponses(t *testing.T) {
	next := &countingProvider{}
	c := NewCached(next, time.Minute, nil)

	_, err := c.Search(context.Background(), "Weather")
	require.NoError(t, err)
	_, err = c.Search(context.Background(), " weather ")
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "news")
	require.NoError(t, err)

	assert.Equal(t, int32(2), next.calls.Load())
}

func TestFormatResults(t *testing.T) {
	now := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	resp := &Response{
		Query: "weather",
		Results: []Result{
			{Title: "Today", Snippet: "Sunny", Date: now.Add(-10 * time.Minute).Format(time.RFC3339)},
			{Title: "Yesterday", Snippet: "Rain", Date: now.Add(-30 * time.Hour).Format(time.RFC3339)},
			{Title: "Undated", Snippet: "Clouds"},
		},
		Timestamp: now,
	}

	out := FormatResults(resp, now)
	assert.True(t, strings.HasPrefix(out, `Search results for "weather":`))
	assert.Contains(t, out, "1. Today\n   Sunny\n   (a few minutes ago)")
	assert.Contains(t, out, "2. Yesterday\n   Rain\n   (1 days ago)")
	assert.Contains(t, out, "3. Undated\n   Clouds\n\n")

	assert.Equal(t, `No information found for "x".`, FormatResults(&Response{Query: "x"}, now))
}
