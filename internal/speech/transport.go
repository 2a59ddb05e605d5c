// Package speech wraps the speech-to-text and text-to-speech capability
// the call loop talks through.
package speech

import (
	"context"
	"errors"
)

var (
	// ErrNoSpeech means recognition ended without a usable utterance (timeout or no match)
	ErrNoSpeech = errors.New("no speech recognized")

	// ErrPermissionDenied means the device refused microphone access
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrNotConnected means no device is attached to the transport
	ErrNotConnected = errors.New("speech device not connected")

	// ErrClosed means the transport was shut down
	ErrClosed = errors.New("speech transport closed")
)

// Transport recognizes and speaks one utterance at a time.
// Cancelling ctx aborts in-flight recognition or playback.
type Transport interface {
	// Recognize listens once and returns the recognized text
	Recognize(ctx context.Context, lang string) (string, error)

	// Speak plays text and returns when playback has finished
	Speak(ctx context.Context, text, lang string) error
}
