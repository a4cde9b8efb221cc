package storage

import "voice-chatter/internal/llm"

// DateLayout is the timestamp format of Record.Date.
const DateLayout = "2006-01-02 15:04:05"

// AssistantSender is the From value of assistant replies.
const AssistantSender = "assistant"

// legacySender was written by earlier deployments of the bot.
const legacySender = "openai_assistant"

// Record is one line of a user's conversation log. Records are never
// rewritten once appended.
type Record struct {
	Date      string `json:"date" yaml:"date"`
	MessageID int    `json:"message_id" yaml:"message_id"`
	From      string `json:"from" yaml:"from"`
	Text      string `json:"text" yaml:"text"`
}

// Message maps the record to a chat message. Replies are recognized by their
// sender alone, so ChatLog refuses to keep logs for users with those names.
func (r Record) Message() llm.Message {
	role := llm.RoleUser
	if isAssistant(r.From) {
		role = llm.RoleAssistant
	}
	return llm.Message{Role: role, Content: r.Text}
}

func isAssistant(from string) bool {
	return from == AssistantSender || from == legacySender
}

// Store persists one conversation log per user.
// Load must not fail: missing or unreadable logs yield an empty history.
// Append writes the user record and the assistant record as one unit.
type Store interface {
	Load(username string) []llm.Message
	Append(username string, messageID int, userText, assistantText string) error
}

// Tail returns the last n messages of msgs. n <= 0 yields no history.
func Tail(msgs []llm.Message, n int) []llm.Message {
	if n <= 0 {
		return nil
	}
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
