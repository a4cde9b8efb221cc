// Package transcode converts audio files with an external ffmpeg binary.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Options are the codec arguments placed between the input and the output.
type Options struct {
	Name string
	Args []string
}

var (
	// VoiceNote encodes Telegram voice messages (OGG/Opus tuned for speech).
	VoiceNote = Options{Name: "voice", Args: []string{
		"-c:a", "libopus",
		"-b:a", "32k",
		"-vbr", "on",
		"-compression_level", "10",
		"-frame_duration", "60",
		"-application", "voip",
	}}
	// MP3 is the intermediate for OpenAI-style transcription.
	MP3 = Options{Name: "mp3", Args: []string{"-c:a", "libmp3lame", "-b:a", "64k"}}
	// WAV16k is the intermediate for LINEAR16 recognizers.
	WAV16k = Options{Name: "wav", Args: []string{"-c:a", "pcm_s16le", "-ar", "16000", "-ac", "1"}}
)

// Error is returned when the encoder exits unsuccessfully.
type Error struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("transcode failed (exit %d): %v", e.ExitCode, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Runner runs a command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

type Transcoder struct {
	binary string
	runner Runner
}

func New(binary string) *Transcoder {
	return NewWithRunner(binary, execRunner{})
}

func NewWithRunner(binary string, runner Runner) *Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Transcoder{binary: binary, runner: runner}
}

func (t *Transcoder) Args(input, output string, opts Options) []string {
	args := []string{"-y", "-loglevel", "error", "-i", input}
	args = append(args, opts.Args...)
	return append(args, output)
}

// Transcode converts input into output. Failures carry the captured encoder
// output in an *Error.
func (t *Transcoder) Transcode(ctx context.Context, input, output string, opts Options) error {
	args := t.Args(input, output, opts)
	var stdout, stderr bytes.Buffer
	if err := t.runner.Run(ctx, t.binary, args, &stdout, &stderr); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &Error{
			Args:     args,
			ExitCode: code,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return nil
}
