// Package tts wraps text-to-speech services. Every backend writes a WAV file
// and reports failures as *CanceledError.
package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// ResultReason is the outcome of a synthesis request.
type ResultReason int

const (
	ResultCompleted ResultReason = iota
	ResultCanceled
)

func (r ResultReason) String() string {
	if r == ResultCompleted {
		return "SynthesizingAudioCompleted"
	}
	return "Canceled"
}

// CancellationReason explains a Canceled result.
type CancellationReason string

const (
	CancelError       CancellationReason = "Error"
	CancelByUser      CancellationReason = "CancelledByUser"
	CancelEndOfStream CancellationReason = "EndOfStream"
)

// CanceledError is returned when synthesis did not complete.
type CanceledError struct {
	Reason CancellationReason
	Detail string
}

func (e *CanceledError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("speech synthesis canceled: %s", e.Reason)
	}
	return fmt.Sprintf("speech synthesis canceled: %s: %s", e.Reason, e.Detail)
}

// Reason reports the result of a Synthesize call.
func Reason(err error) ResultReason {
	if err == nil {
		return ResultCompleted
	}
	return ResultCanceled
}

type Synthesizer interface {
	// Synthesize speaks text with the given voice and writes a WAV file to outPath.
	Synthesize(ctx context.Context, text, voice, outPath string) error
}

// streamingSize is the chunk size written by encoders that did not know the
// final length. The data chunk then runs to the end of the file.
const streamingSize = 0xFFFFFFFF

// Duration returns the playback length of a WAV file.
func Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav")
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("decode wav: %w", err)
	}
	dataStart, err := dec.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("decode wav: %w", err)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, fmt.Errorf("decode wav: %w", err)
	}
	channels := int(dec.NumChans)
	rate := int(dec.SampleRate)
	if channels <= 0 || rate <= 0 || dec.BitDepth == 0 {
		return 0, errors.New("invalid wav format")
	}
	frames := len(buf.Data) / channels
	if frames == 0 {
		// The decoder wraps a streaming size around to an empty chunk.
		if frames, err = streamedFrames(f, dataStart, channels*(int(dec.BitDepth-1)/8+1)); err != nil {
			return 0, fmt.Errorf("decode wav: %w", err)
		}
	}
	return time.Duration(frames) * time.Second / time.Duration(rate), nil
}

// streamedFrames counts the frames between dataStart and the end of the file
// when the data chunk header carries streamingSize. Otherwise it reports 0.
func streamedFrames(f *os.File, dataStart int64, blockAlign int) (int, error) {
	if dataStart < 8 || blockAlign <= 0 {
		return 0, nil
	}
	var size [4]byte
	if _, err := f.ReadAt(size[:], dataStart-4); err != nil {
		return 0, err
	}
	if binary.LittleEndian.Uint32(size[:]) != streamingSize {
		return 0, nil
	}
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return int((st.Size() - dataStart) / int64(blockAlign)), nil
}

// cancellation maps a transport error to a CanceledError.
func cancellation(ctx context.Context, err error) *CanceledError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return &CanceledError{Reason: CancelByUser, Detail: err.Error()}
	}
	return &CanceledError{Reason: CancelError, Detail: err.Error()}
}

// writeAudio stores a synthesized payload and checks that it is playable.
func writeAudio(outPath string, data []byte) error {
	if len(data) == 0 {
		return &CanceledError{Reason: CancelEndOfStream, Detail: "service returned no audio"}
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return &CanceledError{Reason: CancelError, Detail: fmt.Sprintf("write audio: %v", err)}
	}
	d, err := Duration(outPath)
	if err != nil {
		return &CanceledError{Reason: CancelError, Detail: fmt.Sprintf("synthesized audio unusable: %v", err)}
	}
	if d == 0 {
		return &CanceledError{Reason: CancelEndOfStream, Detail: "service returned no audio samples"}
	}
	return nil
}
