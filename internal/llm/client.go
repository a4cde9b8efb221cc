package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when the service answers without any choice.
var ErrEmptyCompletion = errors.New("completion returned no choices")

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}

// ChatRequest is one turn's input to the model. History is expected to be
// already bounded by the caller.
type ChatRequest struct {
	SystemPrompt string
	History      []Message
	Text         string
}

func (r ChatRequest) Messages() []Message {
	out := make([]Message, 0, len(r.History)+2)
	if r.SystemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: r.SystemPrompt})
	}
	out = append(out, r.History...)
	out = append(out, Message{Role: RoleUser, Content: r.Text})
	return out
}

// Complete sends the request and returns the assistant reply.
func Complete(ctx context.Context, c Client, req ChatRequest) (Response, error) {
	return c.Generate(ctx, req.Messages())
}
