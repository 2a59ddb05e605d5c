package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultSerperURL = "https://google.serper.dev"

// Serper queries the google.serper.dev search API
type Serper struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewSerper(apiKey, baseURL string, httpClient *http.Client) *Serper {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultSerperURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Serper{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		now:        time.Now,
	}
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
		Date    string `json:"date"`
	} `json:"organic"`
	KnowledgeGraph *struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Website     string `json:"website"`
	} `json:"knowledgeGraph"`
	AnswerBox *struct {
		Title   string `json:"title"`
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"answerBox"`
}

func (s *Serper) Search(ctx context.Context, query string) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	body, err := json.Marshal(map[string]any{
		"q":   query,
		"num": defaultMaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, fmt.Errorf("serper error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var decoded serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	now := s.now()
	results := make([]Result, 0, len(decoded.Organic)+2)
	// direct answers first, then the knowledge graph, then organic hits
	if ab := decoded.AnswerBox; ab != nil && (ab.Answer != "" || ab.Snippet != "") {
		snippet := ab.Answer
		if snippet == "" {
			snippet = ab.Snippet
		}
		results = append(results, Result{Title: nonEmpty(ab.Title, "Direct answer"), Snippet: snippet, Link: ab.Link, Date: now.Format(time.RFC3339)})
	}
	if kg := decoded.KnowledgeGraph; kg != nil && kg.Description != "" {
		results = append(results, Result{Title: nonEmpty(kg.Title, "Knowledge graph"), Snippet: kg.Description, Link: kg.Website, Date: now.Format(time.RFC3339)})
	}
	for _, item := range decoded.Organic {
		results = append(results, Result{Title: item.Title, Snippet: item.Snippet, Link: item.Link})
	}

	return &Response{Query: query, Results: results, Timestamp: now}, nil
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
