package tts

import (
	"context"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIVoice = openai.VoiceAlloy

// OpenAI synthesizes with the /audio/speech endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(config openai.ClientConfig, model string) *OpenAI {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	return &OpenAI{client: openai.NewClientWithConfig(config), model: model}
}

func (o *OpenAI) Synthesize(ctx context.Context, text, voice, outPath string) error {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openaiVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return cancellation(ctx, err)
	}
	defer func(r io.ReadCloser) {
		_ = r.Close()
	}(resp)

	data, err := io.ReadAll(resp)
	if err != nil {
		return cancellation(ctx, err)
	}
	return writeAudio(outPath, data)
}

// openaiVoice maps profile voices to OpenAI voice names. Locale-style names
// such as "en-US-JennyNeural" belong to other services and fall back to the
// default voice.
func openaiVoice(voice string) openai.SpeechVoice {
	if voice == "" || strings.Contains(voice, "-") {
		return defaultOpenAIVoice
	}
	return openai.SpeechVoice(strings.ToLower(voice))
}
