package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned when no API key is stored
	ErrMissingCredential = errors.New("api key is not set")

	// ErrInvalidCredentialFormat is returned when the stored key does not look like an API key
	ErrInvalidCredentialFormat = errors.New("api key has an invalid format")

	// ErrMalformedResponse is returned when a 2xx response cannot be used
	ErrMalformedResponse = errors.New("malformed completion response")

	// ErrSearchUnavailable accompanies a valid reply produced without search results
	ErrSearchUnavailable = errors.New("web search unavailable")

	// ErrConversationReset is returned when the transcript was reset while a turn was in flight
	ErrConversationReset = errors.New("conversation was reset during the turn")
)

// UpstreamError wraps a non-2xx response from the completions endpoint
type UpstreamError struct {
	StatusCode int
	Status     string
	Message    string // Provider error message, if the body carried one
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error: %s - %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error: %s - %s", e.Status, e.Body)
}
