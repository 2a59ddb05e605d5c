package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"MorningCall/internal/backend"
	"MorningCall/internal/plan"
	"MorningCall/internal/search"
	"MorningCall/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	webSearchTool = "web_search"
)

// CredentialSource provides the bearer credential for the completions API
type CredentialSource interface {
	APIKey(ctx context.Context) (string, error)
}

// Options configures an Engine
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Search      search.Provider // nil disables the web_search tool
	MaxTokens   int
	Temperature float64
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Meter       metric.Meter
	Now         func() time.Time
}

// Engine owns the transcript of the current call and talks to the LLM
type Engine struct {
	creds       CredentialSource
	baseURL     string
	httpClient  *http.Client
	search      search.Provider
	maxTokens   int
	temperature float64
	logger      *slog.Logger
	tracer      trace.Tracer
	meter       metric.Meter
	now         func() time.Time

	latency metric.Float64Histogram

	mu         sync.Mutex
	transcript []session.Message
	generation uint64 // bumped by Reset
}

// NewEngine creates a conversation engine
func NewEngine(creds CredentialSource, opts Options) *Engine {
	e := &Engine{
		creds:       creds,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  opts.HTTPClient,
		search:      opts.Search,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
		meter:       opts.Meter,
		now:         opts.Now,
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if e.httpClient == nil {
		e.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if e.maxTokens == 0 {
		e.maxTokens = 500
	}
	if e.temperature == 0 {
		e.temperature = 0.7
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("morningcall/conversation")
	}
	if e.meter == nil {
		e.meter = otel.Meter("morningcall/conversation")
	}
	if e.now == nil {
		e.now = time.Now
	}

	histogram, err := e.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		e.logger.Warn("failed to create histogram", "error", err)
	}
	e.latency = histogram
	return e
}

// Reset clears the transcript. Turns still in flight will not be recorded.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transcript = nil
	e.generation++
}

// Transcript returns a copy of the conversation so far
func (e *Engine) Transcript() []session.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]session.Message, len(e.transcript))
	copy(out, e.transcript)
	return out
}

// SendTurn sends userText with the transcript and returns the assistant reply.
//
// If a requested web search fails the turn is still completed without search
// results; the reply is returned together with an error wrapping
// ErrSearchUnavailable.
func (e *Engine) SendTurn(ctx context.Context, userText string, instructions []session.Instruction, ent plan.Entitlements) (string, error) {
	useTools := ent.HasWebSearch && e.search != nil && session.WantsWebSearch(instructions)

	ctx, span := e.tracer.Start(ctx, "conversation_turn", trace.WithAttributes(
		attribute.String("plan", string(ent.Plan)),
		attribute.String("model", ent.Model),
		attribute.Bool("tools", useTools),
	))
	defer span.End()

	apiKey, err := e.creds.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read api key: %w", err)
	}
	if err := ValidateAPIKey(apiKey); err != nil {
		return "", err
	}
	apiKey = strings.TrimSpace(apiKey)

	e.mu.Lock()
	generation := e.generation
	messages := make([]backend.OpenAIMessage, 0, len(e.transcript)+2)
	messages = append(messages, backend.OpenAIMessage{Role: "system", Content: BuildSystemPrompt(instructions)})
	for _, msg := range e.transcript {
		messages = append(messages, backend.OpenAIMessage{Role: string(msg.Role), Content: msg.Content})
	}
	e.mu.Unlock()
	userAt := e.now()
	messages = append(messages, backend.OpenAIMessage{Role: "user", Content: userText})

	reqBody := backend.OpenAIRequest{
		Model:       ent.Model,
		Messages:    messages,
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	}
	if useTools {
		reqBody.Tools = []backend.OpenAITool{webSearchToolDef()}
		reqBody.ToolChoice = "auto"
	}

	reply, err := e.callOpenAI(ctx, apiKey, reqBody)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var searchErr error
	if len(reply.ToolCalls) > 0 {
		if !useTools {
			return "", fmt.Errorf("%w: unexpected tool calls", ErrMalformedResponse)
		}
		reply, searchErr = e.resolveToolCalls(ctx, apiKey, reqBody, reply)
		if reply == nil {
			span.RecordError(searchErr)
			span.SetStatus(codes.Error, searchErr.Error())
			return "", searchErr
		}
	}

	text := strings.TrimSpace(reply.Content)
	if text == "" {
		err := fmt.Errorf("%w: empty reply", ErrMalformedResponse)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	e.mu.Lock()
	if e.generation != generation {
		e.mu.Unlock()
		return "", ErrConversationReset
	}
	e.transcript = append(e.transcript,
		session.Message{Role: session.RoleUser, Content: userText, Timestamp: userAt},
		session.Message{Role: session.RoleAssistant, Content: text, Timestamp: e.now()},
	)
	e.mu.Unlock()

	if searchErr != nil {
		span.AddEvent("search_unavailable")
		return text, searchErr
	}
	return text, nil
}

// resolveToolCalls runs every requested tool call and asks for the final answer.
// A nil message means the follow-up itself failed; the error says why.
func (e *Engine) resolveToolCalls(ctx context.Context, apiKey string, req backend.OpenAIRequest, assistant *backend.OpenAIMessage) (*backend.OpenAIMessage, error) {
	messages := make([]backend.OpenAIMessage, 0, len(req.Messages)+1+len(assistant.ToolCalls))
	messages = append(messages, req.Messages...)
	messages = append(messages, *assistant)

	var searchErrs []error
	for _, call := range assistant.ToolCalls {
		content, err := e.invokeTool(ctx, call)
		if err != nil {
			e.logger.Warn("tool call failed", "tool", call.Function.Name, "error", err)
			searchErrs = append(searchErrs, err)
		}
		messages = append(messages, backend.OpenAIMessage{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    content,
		})
	}

	// Tools stay declared for the follow-up, but no further round is allowed.
	followUp := req
	followUp.Messages = messages
	followUp.ToolChoice = "none"

	reply, err := e.callOpenAI(ctx, apiKey, followUp)
	if err != nil {
		return nil, err
	}
	if len(reply.ToolCalls) > 0 && strings.TrimSpace(reply.Content) == "" {
		return nil, fmt.Errorf("%w: tool calls requested after tool round", ErrMalformedResponse)
	}

	if len(searchErrs) > 0 {
		return reply, fmt.Errorf("%w: %w", ErrSearchUnavailable, errors.Join(searchErrs...))
	}
	return reply, nil
}

type toolError struct {
	Error string `json:"error"`
	Query string `json:"query,omitempty"`
}

// invokeTool executes one tool call and returns the tool message content.
// The content is always usable by the model, even when err is set.
func (e *Engine) invokeTool(ctx context.Context, call backend.OpenAIToolCall) (string, error) {
	if call.Function.Name != webSearchTool {
		err := fmt.Errorf("unknown tool %q", call.Function.Name)
		return marshalToolResult(toolError{Error: err.Error()}), err
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		if err == nil {
			err = errors.New("empty query")
		}
		return marshalToolResult(toolError{Error: "invalid search arguments"}), fmt.Errorf("invalid %s arguments: %w", webSearchTool, err)
	}

	ctx, span := e.tracer.Start(ctx, "web_search", trace.WithAttributes(attribute.String("query", args.Query)))
	defer span.End()

	resp, err := e.search.Search(ctx, args.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return marshalToolResult(toolError{Error: "search failed", Query: args.Query}), err
	}

	e.logger.Info("web search completed", "query", args.Query, "results", len(resp.Results))
	return marshalToolResult(resp), nil
}

func marshalToolResult(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

func webSearchToolDef() backend.OpenAITool {
	return backend.OpenAITool{
		Type: "function",
		Function: backend.OpenAIFunction{
			Name:        webSearchTool,
			Description: "Search the web for current information such as weather, news or exchange rates.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// callOpenAI performs one chat-completions request and returns the first choice
func (e *Engine) callOpenAI(ctx context.Context, apiKey string, reqBody backend.OpenAIRequest) (*backend.OpenAIMessage, error) {
	ctx, span := e.tracer.Start(ctx, "openai_api_call", trace.WithAttributes(
		attribute.String("model", reqBody.Model),
		attribute.Int("messages", len(reqBody.Messages)),
	))
	defer span.End()

	start := time.Now()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if e.latency != nil {
		e.latency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.Int("status", resp.StatusCode)))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstream := &UpstreamError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
		var envelope backend.OpenAIErrorResponse
		if json.Unmarshal(body, &envelope) == nil {
			upstream.Message = envelope.Error.Message
		}
		span.RecordError(upstream)
		span.SetStatus(codes.Error, upstream.Status)
		e.logger.Error("completion request failed", "status", resp.StatusCode, "model", reqBody.Model)
		return nil, upstream
	}

	var apiResp backend.OpenAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	e.recordMetrics(ctx, apiResp.Usage)

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	msg := apiResp.Choices[0].Message
	return &msg, nil
}

// recordMetrics records OpenTelemetry metrics from usage data
func (e *Engine) recordMetrics(ctx context.Context, usage map[string]interface{}) {
	if usage == nil {
		return
	}

	for key, value := range usage {
		if intVal, ok := value.(float64); ok {
			counter, err := e.meter.Int64Counter(
				fmt.Sprintf("llm.usage.%s", key),
				metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
			)
			if err != nil {
				e.logger.Warn("failed to create counter", "key", key, "error", err)
				continue
			}
			counter.Add(ctx, int64(intVal))
		}
	}
}
