package stt

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sashabaranov/go-openai"

	"voice-chatter/internal/transcode"
)

// OpenAI transcribes through the /audio/transcriptions endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(config openai.ClientConfig, model string) *OpenAI {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAI{client: openai.NewClientWithConfig(config), model: model}
}

func (o *OpenAI) Format() transcode.Options { return transcode.MP3 }

func (o *OpenAI) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: filepath.Base(filename),
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create transcription: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}
