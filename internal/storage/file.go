package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"voice-chatter/internal/llm"
)

var ErrInvalidUsername = errors.New("invalid username")

// ChatLog keeps <dir>/<username>.yaml per user. Every record is written as a
// single line "- {json}", which keeps the file a valid YAML sequence that
// people can read and edit by hand.
type ChatLog struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewChatLog(dir string, logger *slog.Logger) *ChatLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatLog{dir: dir, now: time.Now, logger: logger}
}

func (c *ChatLog) path(username string) (string, error) {
	if username == "" || username == "." || username == ".." || strings.ContainsAny(username, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	// Records from such a user could not be told apart from replies.
	if isAssistant(username) {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidUsername, username)
	}
	return filepath.Join(c.dir, username+".yaml"), nil
}

// Records returns the raw log of a user. A missing log is not an error.
func (c *ChatLog) Records(username string) ([]Record, error) {
	p, err := c.path(username)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	var records []Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("malformed chat log %s: %w", p, err)
	}
	return records, nil
}

func (c *ChatLog) Load(username string) []llm.Message {
	records, err := c.Records(username)
	if err != nil {
		c.logger.Warn("chat history unavailable, continuing with empty history",
			"user", username, "err", err)
		return []llm.Message{}
	}
	out := make([]llm.Message, 0, len(records))
	for _, r := range records {
		out = append(out, r.Message())
	}
	return out
}

func (c *ChatLog) Append(username string, messageID int, userText, assistantText string) error {
	p, err := c.path(username)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure chats dir: %w", err)
	}

	date := c.now().Format(DateLayout)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, rec := range []Record{
		{Date: date, MessageID: messageID, From: username, Text: userText},
		{Date: date, MessageID: messageID, From: AssistantSender, Text: assistantText},
	} {
		buf.WriteString("- ")
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open append: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	out := yamlSafe(buf.Bytes())
	// A hand-edited file may lack the final newline.
	if st, err := f.Stat(); err == nil && st.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, st.Size()-1); err == nil && last[0] != '\n' {
			out = append([]byte{'\n'}, out...)
		}
	}

	if _, err := f.Write(out); err != nil {
		return fmt.Errorf("write append: %w", err)
	}
	return nil
}

// yamlSafe escapes the runes encoding/json leaves raw but YAML refuses as
// non-printable. The escapes are valid in both JSON and YAML double-quoted
// strings, and keys are plain ASCII, so they only ever land inside values.
func yamlSafe(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if yamlNonPrintable(r) {
			out = fmt.Appendf(out, `\u%04x`, r)
		} else {
			out = append(out, b[:size]...)
		}
		b = b[size:]
	}
	return out
}

func yamlNonPrintable(r rune) bool {
	switch {
	case r == 0x7f, r == 0xfffe, r == 0xffff:
		return true
	case r >= 0x80 && r <= 0x9f:
		return r != 0x85
	}
	return false
}
