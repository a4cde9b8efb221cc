package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-chatter/internal/llm"
)

func newTestLog(t *testing.T) (*ChatLog, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "chats")
	c := NewChatLog(dir, nil)
	c.now = func() time.Time { return time.Date(2024, 5, 17, 9, 30, 5, 0, time.Local) }
	return c, dir
}

func TestChatLog_AppendAndLoad(t *testing.T) {
	c, dir := newTestLog(t)

	assert.Empty(t, c.Load("alice"), "missing log must load as empty")
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "load must not create the directory")

	require.NoError(t, c.Append("alice", 7, "hello", "hi there"))
	require.NoError(t, c.Append("alice", 9, "how are you?", "fine: thanks <3"))

	records, err := c.Records("alice")
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, Record{Date: "2024-05-17 09:30:05", MessageID: 7, From: "alice", Text: "hello"}, records[0])
	assert.Equal(t, Record{Date: "2024-05-17 09:30:05", MessageID: 7, From: AssistantSender, Text: "hi there"}, records[1])
	assert.Equal(t, 9, records[2].MessageID)
	assert.Equal(t, records[2].MessageID, records[3].MessageID)

	msgs := c.Load("alice")
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hi there"},
		{Role: llm.RoleUser, Content: "how are you?"},
		{Role: llm.RoleAssistant, Content: "fine: thanks <3"},
	}, msgs)
}

func TestChatLog_LoadIsIdempotent(t *testing.T) {
	c, _ := newTestLog(t)
	require.NoError(t, c.Append("bob", 1, "multi\nline \"quoted\"", "tab\there"))
	assert.Equal(t, c.Load("bob"), c.Load("bob"))
	assert.Equal(t, "multi\nline \"quoted\"", c.Load("bob")[0].Content)
}

func TestChatLog_FileFormat(t *testing.T) {
	c, dir := newTestLog(t)
	require.NoError(t, c.Append("alice", 3, "a & b", "c"))

	data, err := os.ReadFile(filepath.Join(dir, "alice.yaml"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `- {"date":"2024-05-17 09:30:05","message_id":3,"from":"alice","text":"a & b"}`, lines[0])
	assert.Equal(t, `- {"date":"2024-05-17 09:30:05","message_id":3,"from":"assistant","text":"c"}`, lines[1])
}

func TestChatLog_UsersDoNotShareFiles(t *testing.T) {
	c, _ := newTestLog(t)
	require.NoError(t, c.Append("alice", 1, "a", "b"))
	require.NoError(t, c.Append("bob", 1, "c", "d"))
	assert.Len(t, c.Load("alice"), 2)
	assert.Len(t, c.Load("bob"), 2)
	assert.Equal(t, "c", c.Load("bob")[0].Content)
}

func TestChatLog_MalformedLoadsEmpty(t *testing.T) {
	c, dir := newTestLog(t)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eve.yaml"), []byte("- {unbalanced: [\n"), 0o644))

	assert.Empty(t, c.Load("eve"))
	_, err := c.Records("eve")
	require.Error(t, err)
}

func TestChatLog_HandEditedFile(t *testing.T) {
	c, dir := newTestLog(t)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	edited := "- date: 2024-01-01 00:00:00\n  message_id: 1\n  from: carol\n  text: block style\n" +
		"- {\"date\": \"2024-01-01 00:00:01\", \"message_id\": 1, \"from\": \"openai_assistant\", \"text\": \"legacy\"}"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "carol.yaml"), []byte(edited), 0o644))

	require.NoError(t, c.Append("carol", 2, "next", "reply"))

	msgs := c.Load("carol")
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "block style"}, msgs[0])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "legacy"}, msgs[1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "reply"}, msgs[3])
}

func TestChatLog_InvalidUsername(t *testing.T) {
	c, _ := newTestLog(t)
	require.ErrorIs(t, c.Append("../etc", 1, "a", "b"), ErrInvalidUsername)
	require.ErrorIs(t, c.Append("", 1, "a", "b"), ErrInvalidUsername)
	assert.Empty(t, c.Load("../etc"))
}

func TestChatLog_ReservedUsernames(t *testing.T) {
	c, dir := newTestLog(t)
	for _, name := range []string{AssistantSender, "openai_assistant"} {
		require.ErrorIs(t, c.Append(name, 1, "mine", "reply"), ErrInvalidUsername, name)
		assert.Empty(t, c.Load(name), name)
		_, err := os.Stat(filepath.Join(dir, name+".yaml"))
		assert.True(t, os.IsNotExist(err), "no log may be written for %s", name)
	}
}

func TestChatLog_NonPrintableRoundTrip(t *testing.T) {
	c, dir := newTestLog(t)
	require.NoError(t, c.Append("dave", 1, "plain", "ok"))
	require.NoError(t, c.Append("dave", 2, "del\x7f", "c1\u0080x"))
	require.NoError(t, c.Append("dave", 3, "nonchar\uffff", "nel\u0085 bom\ufeff nul\x00"))

	records, err := c.Records("dave")
	require.NoError(t, err)
	require.Len(t, records, 6)

	msgs := c.Load("dave")
	require.Len(t, msgs, 6)
	assert.Equal(t, "plain", msgs[0].Content)
	assert.Equal(t, "del\x7f", msgs[2].Content)
	assert.Equal(t, "c1\u0080x", msgs[3].Content)
	assert.Equal(t, "nonchar\uffff", msgs[4].Content)
	assert.Equal(t, "nel\u0085 bom\ufeff nul\x00", msgs[5].Content)

	data, err := os.ReadFile(filepath.Join(dir, "dave.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"text":"del\u007f"`)
	assert.Contains(t, string(data), `"text":"nonchar\uffff"`)
	assert.NotContains(t, string(data), "\x7f")
}

func TestTail(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "1"},
		{Role: llm.RoleAssistant, Content: "2"},
		{Role: llm.RoleUser, Content: "3"},
		{Role: llm.RoleAssistant, Content: "4"},
	}
	assert.Equal(t, msgs[2:], Tail(msgs, 2))
	assert.Equal(t, msgs, Tail(msgs, 10))
	assert.Nil(t, Tail(msgs, 0))
	assert.Nil(t, Tail(nil, 3))
	assert.Len(t, msgs, 4, "tail must not modify the input")
}
