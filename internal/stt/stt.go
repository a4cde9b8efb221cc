// Package stt wraps speech-to-text services.
package stt

import (
	"context"
	"errors"

	"voice-chatter/internal/transcode"
)

// ErrEmptyTranscript means the service answered without usable text.
var ErrEmptyTranscript = errors.New("transcription returned no text")

type Transcriber interface {
	// Transcribe returns the text spoken in audio. filename only hints the
	// container format to the service.
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
	// Format is the intermediate encoding the service expects.
	Format() transcode.Options
}
