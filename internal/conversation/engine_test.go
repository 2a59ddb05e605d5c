package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"MorningCall/internal/backend"
	"MorningCall/internal/plan"
	"MorningCall/internal/search"
	"MorningCall/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "sk-test-abcdefghijklmnopqrstuvwxyz"

type staticKey string

func (k staticKey) APIKey(context.Context) (string, error) { return string(k), nil }

// fakeLLM is a scripted chat-completions endpoint
type fakeLLM struct {
	t         *testing.T
	mu        sync.Mutex
	requests  []backend.OpenAIRequest
	responses []func(req backend.OpenAIRequest) (int, string)
}

func (f *fakeLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chat/completions" {
		f.t.Errorf("path=%s", r.URL.Path)
	}
	if got := r.Header.Get("Authorization"); got != "Bearer "+testKey {
		f.t.Errorf("auth header=%q", got)
	}
	var req backend.OpenAIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("decode request: %v", err)
	}

	f.mu.Lock()
	idx := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if idx >= len(f.responses) {
		f.t.Errorf("unexpected request #%d", idx+1)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	status, body := f.responses[idx](req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeLLM) Requests() []backend.OpenAIRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.OpenAIRequest(nil), f.requests...)
}

func textReply(content string) func(backend.OpenAIRequest) (int, string) {
	return func(backend.OpenAIRequest) (int, string) {
		body, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-1",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 5},
		})
		return http.StatusOK, string(body)
	}
}

func toolCallReply(queries ...string) func(backend.OpenAIRequest) (int, string) {
	return func(backend.OpenAIRequest) (int, string) {
		calls := make([]any, 0, len(queries))
		for i, q := range queries {
			args, _ := json.Marshal(map[string]string{"query": q})
			calls = append(calls, map[string]any{
				"id":       "call_" + string(rune('a'+i)),
				"type":     "function",
				"function": map[string]any{"name": "web_search", "arguments": string(args)},
			})
		}
		body, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": nil, "tool_calls": calls}, "finish_reason": "tool_calls"}},
		})
		return http.StatusOK, string(body)
	}
}

// echoSearchReply answers with the first snippet found in the tool messages
func echoSearchReply(req backend.OpenAIRequest) (int, string) {
	reply := "no results"
	for _, m := range req.Messages {
		if m.Role != "tool" {
			continue
		}
		var resp search.Response
		if json.Unmarshal([]byte(m.Content), &resp) == nil && len(resp.Results) > 0 {
			reply = "Good morning! " + resp.Results[0].Snippet
			break
		}
	}
	return textReply(reply)(req)
}

type stubSearch struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (s *stubSearch) Search(ctx context.Context, query string) (*search.Response, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &search.Response{
		Query:   query,
		Results: []search.Result{{Title: "Forecast", Snippet: "Sunny, high of 24C", Link: "https://w.example"}},
	}, nil
}

func newTestEngine(t *testing.T, llm *fakeLLM, key string, s search.Provider) *Engine {
	t.Helper()
	llm.t = t
	ts := httptest.NewServer(llm)
	t.Cleanup(ts.Close)
	return NewEngine(staticKey(key), Options{BaseURL: ts.URL, HTTPClient: ts.Client(), Search: s})
}

var morning = []session.Instruction{
	{ID: "1", Title: "Wake", Content: "Open the curtains", Order: 1, IsActive: true},
	{ID: "2", Title: "Weather", Content: "Tell me the weather", Order: 2, IsActive: true, UseWebSearch: true},
}

func TestSendTurn_PlainCompletion(t *testing.T) {
	llm := &fakeLLM{responses: []func(backend.OpenAIRequest) (int, string){textReply("Open the curtains, please.")}}
	e := newTestEngine(t, llm, testKey, &stubSearch{})
	free := plan.Resolve(plan.Free)

	reply, err := e.SendTurn(context.Background(), "Good morning", morning, free)
	require.NoError(t, err)
	assert.Equal(t, "Open the curtains, please.", reply)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, free.Model, reqs[0].Model)
	assert.Empty(t, reqs[0].Tools)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, "system", reqs[0].Messages[0].Role)
	assert.Contains(t, reqs[0].Messages[0].Content, "1. Wake: Open the curtains")
	assert.Equal(t, backend.OpenAIMessage{Role: "user", Content: "Good morning"}, reqs[0].Messages[1])

	transcript := e.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, session.RoleUser, transcript[0].Role)
	assert.Equal(t, session.RoleAssistant, transcript[1].Role)
	assert.False(t, transcript[0].Timestamp.IsZero())
	assert.False(t, transcript[1].Timestamp.Before(transcript[0].Timestamp))
}

func TestSendTurn_SendsTranscript(t *testing.T) {
	llm := &fakeLLM{responses: []func(backend.OpenAIRequest) (int, string){textReply("first"), textReply("second")}}
	e := newTestEngine(t, llm, testKey, nil)
	ent := plan.Resolve(plan.Plus)

	_, err := e.SendTurn(context.Background(), "hello", morning, ent)
	require.NoError(t, err)
	_, err = e.SendTurn(context.Background(), "done", morning, ent)
	require.NoError(t, err)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	roles := []string{}
	for _, m := range reqs[1].Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)

	e.Reset()
	assert.Empty(t, e.Transcript())
}

func TestSendTurn_CredentialErrors(t *testing.T) {
	llm := &fakeLLM{}
	e := newTestEngine(t, llm, "", nil)
	_, err := e.SendTurn(context.Background(), "hi", morning, plan.Resolve(plan.Free))
	assert.ErrorIs(t, err, ErrMissingCredential)

	e = newTestEngine(t, llm, "pk-live-123", nil)
	_, err = e.SendTurn(context.Background(), "hi", morning, plan.Resolve(plan.Free))
	assert.ErrorIs(t, err, ErrInvalidCredentialFormat)

	assert.Empty(t, llm.Requests())
}

func TestSendTurn_UpstreamError(t *testing.T) {
	llm := &fakeLLM{responses: []func(backend.OpenAIRequest) (int, string){
		func(backend.OpenAIRequest) (int, string) {
			return http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`
		},
	}}
	e := newTestEngine(t, llm, testKey, nil)

	_, err := e.SendTurn(context.Background(), "hi", morning, plan.Resolve(plan.Free))
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	assert.Equal(t, "Incorrect API key provided", upstream.Message)
	assert.Empty(t, e.Transcript())
}

func TestSendTurn_MalformedResponse(t *testing.T) {
	llm := &fakeLLM{responses: []func(backend.OpenAIRequest) (int, string){
		func(backend.OpenAIRequest) (int, string) { return http.StatusOK, `{"choices":[]}` },
		func(backend.OpenAIRequest) (int, string) { return http.StatusOK, `not json` },
	}}
	e := newTestEngine(t, llm, testKey, nil)

	_, err := e.SendTurn(context.Background(), "hi", morning, plan.Resolve(plan.Free))
	assert.ErrorIs(t, err, ErrMalformedResponse)
	_, err = e.SendTurn(context.Background(), "hi", morning, plan.Resolve(plan.Free))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSendTurn_NoToolsWithoutEntitlement(t *testing.T) {
	llm := &fakeLLM{responses: []func(backend.OpenAIRequest) (int, string){textReply("ok")}}
	searcher := &stubSearch{}
	e := newTestEngine(t, llm, testKey, searcher)

	_, err := e.SendTurn(context.Background(), "weather today", morning, plan.Resolve(plan.Plus))
	require.NoError(t, err)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Tools)
	assert.Empty(t, reqs[0].ToolChoice)
	assert.Empty(t, searcher.queries)
}

func TestSendTurn_NoToolsWhenNoInstructionAsks(t *testing.T) {
	llm := &fakeLLM{responses: []func(backend.OpenAIRequest) (int, string){textReply("ok")}}
	e := newTestEngine(t, llm, testKey, &stubSearch{})

	_, err := e.SendTurn(context.Background(), "hi", morning[:1], plan.Resolve(plan.Premium))
	require.NoError(t, err)
	assert.Empty(t, llm.Requests()[0].Tools)
}

func TestSendTurn_WebSearchRoundTrip(t *testing.T) {
	llm := &fakeLLM{responses: []func(backend.OpenAIRequest) (int, string){toolCallReply("weather today"), echoSearchReply}}
	searcher := &stubSearch{}
	e := newTestEngine(t, llm, testKey, searcher)
	premium := plan.Resolve(plan.Premium)

	reply, err := e.SendTurn(context.Background(), "weather today", morning[1:], premium)
	require.NoError(t, err)
	assert.Contains(t, reply, "Sunny, high of 24C")
	assert.Equal(t, []string{"weather today"}, searcher.queries)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "web_search", reqs[0].Tools[0].Function.Name)
	assert.Equal(t, premium.Model, reqs[0].Model)

	followUp := reqs[1].Messages
	require.GreaterOrEqual(t, len(followUp), 4)
	assert.Equal(t, "assistant", followUp[len(followUp)-2].Role)
	require.Len(t, followUp[len(followUp)-2].ToolCalls, 1)
	last := followUp[len(followUp)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call_a", last.ToolCallID)
	assert.Contains(t, last.Content, "Sunny, high of 24C")
	assert.Equal(t, "none", reqs[1].ToolChoice)

	transcript := e.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, reply, transcript[1].Content)
}

func TestSendTurn_MultipleToolCalls(t *testing.T) {
	llm := &fakeLLM{responses: []func(backend.OpenAIRequest) (int, string){toolCallReply("weather today", "news"), echoSearchReply}}
	searcher := &stubSearch{}
	e := newTestEngine(t, llm, testKey, searcher)

	_, err := e.SendTurn(context.Background(), "weather and news", morning, plan.Resolve(plan.Premium))
	require.NoError(t, err)
	assert.Equal(t, []string{"weather today", "news"}, searcher.queries)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	tools := 0
	for _, m := range reqs[1].Messages {
		if m.Role == "tool" {
			tools++
		}
	}
	assert.Equal(t, 2, tools)
}

func TestSendTurn_SearchFailureStillAnswers(t *testing.T) {
	llm := &fakeLLM{responses: []func(backend.OpenAIRequest) (int, string){toolCallReply("weather today"), textReply("I could not check the weather, but let's get going!")}}
	e := newTestEngine(t, llm, testKey, &stubSearch{err: errors.New("provider down")})

	reply, err := e.SendTurn(context.Background(), "weather today", morning, plan.Resolve(plan.Premium))
	assert.ErrorIs(t, err, ErrSearchUnavailable)
	assert.Equal(t, "I could not check the weather, but let's get going!", reply)
	assert.Len(t, e.Transcript(), 2)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.True(t, strings.Contains(last.Content, "search failed"))
}

func TestSendTurn_ResetDuringTurn(t *testing.T) {
	var e *Engine
	llm := &fakeLLM{responses: []func(backend.OpenAIRequest) (int, string){
		func(req backend.OpenAIRequest) (int, string) {
			e.Reset()
			return textReply("late reply")(req)
		},
	}}
	e = newTestEngine(t, llm, testKey, nil)

	_, err := e.SendTurn(context.Background(), "hi", morning, plan.Resolve(plan.Free))
	assert.ErrorIs(t, err, ErrConversationReset)
	assert.Empty(t, e.Transcript())
}
