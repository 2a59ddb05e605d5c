package speech

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Console is a terminal stand-in for a microphone and speaker.
// Speak prints the text; Recognize waits for a line handed over via Deliver.
type Console struct {
	out     io.Writer
	lines   chan string
	timeout time.Duration
	mu      sync.Mutex
}

// NewConsole creates a console transport. Recognition gives up with
// ErrNoSpeech after listenTimeout (0 waits forever).
func NewConsole(out io.Writer, listenTimeout time.Duration) *Console {
	return &Console{
		out:     out,
		lines:   make(chan string),
		timeout: listenTimeout,
	}
}

// Deliver hands a typed line to a waiting Recognize call.
// It reports false when nobody is listening.
func (c *Console) Deliver(line string) bool {
	select {
	case c.lines <- line:
		return true
	default:
		return false
	}
}

func (c *Console) Recognize(ctx context.Context, lang string) (string, error) {
	var timeout <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	c.printf("[listening]\n")
	select {
	case line := <-c.lines:
		line = strings.TrimSpace(line)
		if line == "" {
			return "", ErrNoSpeech
		}
		return line, nil
	case <-timeout:
		return "", fmt.Errorf("%w: timed out after %s", ErrNoSpeech, c.timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Console) Speak(ctx context.Context, text, lang string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.printf("Assistant: %s\n", text)
	return nil
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
