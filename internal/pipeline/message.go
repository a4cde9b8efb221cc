// Package pipeline runs one conversational turn per inbound message.
package pipeline

import (
	"context"
	"time"
)

type Kind int

const (
	KindText Kind = iota
	KindVoice
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindVoice:
		return "voice"
	case KindCommand:
		return "command"
	default:
		return "text"
	}
}

// Message is an inbound message stripped of transport details.
type Message struct {
	Username    string
	ChatID      int64
	MessageID   int
	Kind        Kind
	Text        string
	Command     string
	VoiceFileID string
}

// Transport delivers replies for the messages it produced.
type Transport interface {
	ReplyText(ctx context.Context, to Message, text string, markdown bool) error
	ReplyVoice(ctx context.Context, to Message, path string, duration time.Duration) error
	DownloadVoice(ctx context.Context, fileID string) ([]byte, error)
}

// Failure classifies how a turn ended.
type Failure int

const (
	None Failure = iota
	Unauthorized
	DownloadFailed
	EmptyTranscript
	TranscriptionFailed
	EmptyCompletion
	CompletionFailed
	SynthesisCanceled
	TranscodeFailed
	DeliveryFailed
)

var failureNames = map[Failure]string{
	None:                "None",
	Unauthorized:        "Unauthorized",
	DownloadFailed:      "DownloadFailed",
	EmptyTranscript:     "EmptyTranscript",
	TranscriptionFailed: "TranscriptionFailed",
	EmptyCompletion:     "EmptyCompletion",
	CompletionFailed:    "CompletionFailed",
	SynthesisCanceled:   "SynthesisCanceled",
	TranscodeFailed:     "TranscodeFailed",
	DeliveryFailed:      "DeliveryFailed",
}

func (f Failure) String() string {
	if s, ok := failureNames[f]; ok {
		return s
	}
	return "Unknown"
}

// Result is the outcome of Handle. Err holds the underlying cause, if any.
type Result struct {
	Failure Failure
	Err     error

	replyStage bool
}

func (r Result) OK() bool { return r.Failure == None }
