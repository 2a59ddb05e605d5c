package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"MorningCall/internal/session"
)

var apiKeyPattern = regexp.MustCompile(`^sk-[A-Za-z0-9_-]{20,}$`)

// ValidateAPIKey checks the stored credential before it is sent anywhere
func ValidateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingCredential
	}
	if !apiKeyPattern.MatchString(key) {
		return ErrInvalidCredentialFormat
	}
	return nil
}

const promptHeader = `You are an AI assistant that helps the user through their morning routine.

Carry out the following instructions in order:

`

const promptRules = `
Rules:
1. Speak in a warm, friendly tone.
2. Give one instruction at a time and wait for the user to report back.
3. When the user has finished an instruction, move on to the next one.
4. Add some encouragement to keep the user motivated.
5. Keep every reply short, one or two sentences.
6. When every instruction is done, thank the user and close the call.

Start with the first instruction.`

// BuildSystemPrompt lists the active instructions in execution order
func BuildSystemPrompt(instructions []session.Instruction) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	for i, inst := range session.ActiveInstructions(instructions) {
		fmt.Fprintf(&b, "%d. %s: %s", i+1, inst.Title, inst.Content)
		if inst.UseWebSearch {
			b.WriteString(" (use the web_search tool for up-to-date information)")
		}
		b.WriteString("\n")
	}
	b.WriteString(promptRules)
	return b.String()
}
