package tts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	azureOutputFormat = "riff-24khz-16bit-mono-pcm"
	azureUserAgent    = "voice-chatter"
)

// Azure synthesizes through the Azure Speech REST endpoint.
type Azure struct {
	key        string
	endpoint   string
	httpClient *http.Client
}

func NewAzure(key, region string) *Azure {
	return &Azure{
		key:        key,
		endpoint:   fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithEndpoint overrides the regional endpoint URL.
func (a *Azure) WithEndpoint(endpoint string) *Azure {
	a.endpoint = endpoint
	return a
}

func (a *Azure) Synthesize(ctx context.Context, text, voice, outPath string) error {
	body, err := ssml(text, voice)
	if err != nil {
		return &CanceledError{Reason: CancelError, Detail: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return &CanceledError{Reason: CancelError, Detail: err.Error()}
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", azureOutputFormat)
	req.Header.Set("User-Agent", azureUserAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return cancellation(ctx, err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return cancellation(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if s := strings.TrimSpace(string(data)); s != "" {
			detail += ": " + s
		}
		return &CanceledError{Reason: CancelError, Detail: detail}
	}
	return writeAudio(outPath, data)
}

// ssml builds the request document. The language is taken from the voice
// name prefix, e.g. "en-US" for "en-US-JennyNeural".
func ssml(text, voice string) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='")
	if err := xml.EscapeText(&b, []byte(voiceLocale(voice))); err != nil {
		return nil, err
	}
	b.WriteString("'><voice name='")
	if err := xml.EscapeText(&b, []byte(voice)); err != nil {
		return nil, err
	}
	b.WriteString("'>")
	if err := xml.EscapeText(&b, []byte(text)); err != nil {
		return nil, err
	}
	b.WriteString("</voice></speak>")
	return b.Bytes(), nil
}

func voiceLocale(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 3 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}
