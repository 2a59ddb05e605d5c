package conversation

import (
	"strings"
	"testing"

	"MorningCall/internal/session"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt_ActiveInOrder(t *testing.T) {
	prompt := BuildSystemPrompt([]session.Instruction{
		{Title: "Stretch", Content: "Stretch for a minute", Order: 3, IsActive: true},
		{Title: "Hidden", Content: "Never shown", Order: 0, IsActive: false},
		{Title: "Wake", Content: "Open the curtains", Order: 1, IsActive: true},
		{Title: "Tie-A", Content: "first tie", Order: 2, IsActive: true},
		{Title: "Tie-B", Content: "second tie", Order: 2, IsActive: true, UseWebSearch: true},
	})

	assert.NotContains(t, prompt, "Hidden")
	wake := strings.Index(prompt, "1. Wake: Open the curtains")
	tieA := strings.Index(prompt, "2. Tie-A: first tie")
	tieB := strings.Index(prompt, "3. Tie-B: second tie (use the web_search tool")
	stretch := strings.Index(prompt, "4. Stretch: Stretch for a minute")
	for _, idx := range []int{wake, tieA, tieB, stretch} {
		assert.GreaterOrEqual(t, idx, 0)
	}
	assert.Less(t, wake, tieA)
	assert.Less(t, tieA, tieB)
	assert.Less(t, tieB, stretch)
	assert.NotContains(t, prompt, "first tie (use the web_search")
}

func TestValidateAPIKey(t *testing.T) {
	assert.ErrorIs(t, ValidateAPIKey(""), ErrMissingCredential)
	assert.ErrorIs(t, ValidateAPIKey("   "), ErrMissingCredential)
	assert.ErrorIs(t, ValidateAPIKey("not-a-key"), ErrInvalidCredentialFormat)
	assert.ErrorIs(t, ValidateAPIKey("sk-short"), ErrInvalidCredentialFormat)
	assert.NoError(t, ValidateAPIKey("sk-proj-abcdefghijklmnopqrstuvwxyz012345"))
}
