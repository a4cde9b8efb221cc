package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"voice-chatter/internal/transcode"
)

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Google transcribes with Cloud Speech-to-Text synchronous recognition.
type Google struct {
	recognize recognizeFunc
	closer    func() error
	language  string
}

// NewGoogle creates a Google Cloud Speech client. Without credentialsFile it
// relies on Application Default Credentials.
func NewGoogle(ctx context.Context, language, credentialsFile string) (*Google, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	g := newGoogle(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}, language)
	g.closer = client.Close
	return g, nil
}

func newGoogle(recognize recognizeFunc, language string) *Google {
	if language == "" {
		language = "en-US"
	}
	return &Google{recognize: recognize, language: language}
}

// Close cleans up the speech client connection.
func (g *Google) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

func (g *Google) Format() transcode.Options { return transcode.WAV16k }

func (g *Google) Transcribe(ctx context.Context, _ string, audio []byte) (string, error) {
	resp, err := g.recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            16000,
			LanguageCode:               g.language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("recognize failed: %w", err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if s := strings.TrimSpace(alts[0].GetTranscript()); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyTranscript
	}
	return strings.Join(parts, " "), nil
}
