package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-chatter/internal/auth"
	"voice-chatter/internal/config"
	"voice-chatter/internal/llm"
	"voice-chatter/internal/storage"
	"voice-chatter/internal/stt"
	"voice-chatter/internal/transcode"
	"voice-chatter/internal/tts"
	"voice-chatter/internal/workspace"
)

type textReply struct {
	text     string
	markdown bool
}

type fakeTransport struct {
	texts       []textReply
	voicePath   string
	voiceExists bool
	voiceDur    time.Duration
	downloads   int
	audio       []byte
	downloadErr error
	voiceErr    error
}

func (f *fakeTransport) ReplyText(_ context.Context, _ Message, text string, markdown bool) error {
	f.texts = append(f.texts, textReply{text: text, markdown: markdown})
	return nil
}

func (f *fakeTransport) ReplyVoice(_ context.Context, _ Message, path string, d time.Duration) error {
	f.voicePath = path
	_, err := os.Stat(path)
	f.voiceExists = err == nil
	f.voiceDur = d
	return f.voiceErr
}

func (f *fakeTransport) DownloadVoice(context.Context, string) ([]byte, error) {
	f.downloads++
	return f.audio, f.downloadErr
}

type fakeLLM struct {
	resp  llm.Response
	err   error
	calls [][]llm.Message
}

func (f *fakeLLM) Generate(_ context.Context, msgs []llm.Message) (llm.Response, error) {
	f.calls = append(f.calls, msgs)
	return f.resp, f.err
}

type fakeSTT struct {
	text  string
	err   error
	input []byte
}

func (f *fakeSTT) Transcribe(_ context.Context, _ string, audio []byte) (string, error) {
	f.input = audio
	return f.text, f.err
}

func (f *fakeSTT) Format() transcode.Options { return transcode.MP3 }

type fakeTTS struct {
	t     *testing.T
	err   error
	voice string
}

func (f *fakeTTS) Synthesize(_ context.Context, _, voice, outPath string) error {
	f.voice = voice
	if f.err != nil {
		return f.err
	}
	writeWAV(f.t, outPath, 24000, 24000)
	return nil
}

type transcodeCall struct {
	in, out string
	opts    string
}

type fakeTranscoder struct {
	calls  []transcodeCall
	failOn string
}

func (f *fakeTranscoder) Transcode(_ context.Context, in, out string, opts transcode.Options) error {
	f.calls = append(f.calls, transcodeCall{in: in, out: out, opts: opts.Name})
	if opts.Name == f.failOn {
		return &transcode.Error{ExitCode: 1, Stderr: "encoder missing", Err: errors.New("exit status 1")}
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, append([]byte(opts.Name+":"), data...), 0o644)
}

func writeWAV(t *testing.T, path string, rate, samples int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

type env struct {
	o          *Orchestrator
	transport  *fakeTransport
	llm        *fakeLLM
	stt        *fakeSTT
	tts        *fakeTTS
	transcoder *fakeTranscoder
	store      *storage.ChatLog
	chatsDir   string
	tempDir    string
	logs       *bytes.Buffer
}

func newEnv(t *testing.T, maxHistory int) *env {
	t.Helper()
	root := t.TempDir()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	authSvc, err := auth.NewWithRepo(nil, []string{"alice"})
	require.NoError(t, err)

	e := &env{
		transport:  &fakeTransport{audio: []byte("OggS-voice")},
		llm:        &fakeLLM{resp: llm.Response{Content: "hi there", Model: "test-model"}},
		stt:        &fakeSTT{text: "hello from voice"},
		tts:        &fakeTTS{t: t},
		transcoder: &fakeTranscoder{},
		chatsDir:   filepath.Join(root, "chats"),
		tempDir:    filepath.Join(root, "temp"),
		logs:       logs,
	}
	e.store = storage.NewChatLog(e.chatsDir, logger)
	e.o, err = New(Deps{
		Auth: authSvc,
		Profiles: &config.Profiles{
			SystemPrompts:       map[string]string{"alice": "Be brief."},
			Voices:              map[string]string{"alice": "en-GB-SoniaNeural"},
			DefaultSystemPrompt: "You are a helpful assistant.",
			DefaultVoice:        "en-US-JennyNeural",
		},
		Store:          e.store,
		LLM:            e.llm,
		STT:            e.stt,
		TTS:            e.tts,
		Transcoder:     e.transcoder,
		Workspace:      workspace.New(e.tempDir, logger),
		Transport:      e.transport,
		MaxHistory:     maxHistory,
		SupportContact: "@support",
		HelpText:       "*Voice chatter* help",
		Logger:         logger,
	})
	require.NoError(t, err)
	return e
}

func (e *env) records(t *testing.T, user string) []storage.Record {
	t.Helper()
	recs, err := e.store.Records(user)
	require.NoError(t, err)
	return recs
}

func (e *env) assertTempEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.tempDir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files left behind")
}

func textMsg(user, text string) Message {
	return Message{Username: user, ChatID: 100, MessageID: 7, Kind: KindText, Text: text}
}

func voiceMsg(user string) Message {
	return Message{Username: user, ChatID: 100, MessageID: 8, Kind: KindVoice, VoiceFileID: "file-1"}
}

func TestNew_MissingDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth")
	assert.Contains(t, err.Error(), "transport")
}

func TestHandle_TextTurn(t *testing.T) {
	e := newEnv(t, 10)

	res := e.o.Handle(context.Background(), textMsg("alice", "hello"))
	require.True(t, res.OK(), "unexpected failure %s: %v", res.Failure, res.Err)

	require.Len(t, e.transport.texts, 1)
	assert.Equal(t, "hi there", e.transport.texts[0].text)
	assert.False(t, e.transport.texts[0].markdown)

	recs := e.records(t, "alice")
	require.Len(t, recs, 2)
	assert.Equal(t, "alice", recs[0].From)
	assert.Equal(t, "hello", recs[0].Text)
	assert.Equal(t, storage.AssistantSender, recs[1].From)
	assert.Equal(t, "hi there", recs[1].Text)
	assert.Equal(t, 7, recs[0].MessageID)
	assert.Equal(t, recs[0].MessageID, recs[1].MessageID)

	require.Len(t, e.llm.calls, 1)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "Be brief."},
		{Role: llm.RoleUser, Content: "hello"},
	}, e.llm.calls[0])
}

func TestHandle_UnauthorizedEveryKind(t *testing.T) {
	for _, msg := range []Message{
		textMsg("bob", "hello"),
		voiceMsg("bob"),
		{Username: "bob", Kind: KindCommand, Command: "prompt"},
		textMsg("", "no username"),
	} {
		t.Run(msg.Kind.String()+"/"+msg.Username, func(t *testing.T) {
			e := newEnv(t, 10)
			res := e.o.Handle(context.Background(), msg)
			assert.Equal(t, Unauthorized, res.Failure)

			require.Len(t, e.transport.texts, 1)
			assert.Equal(t, "Sorry, you are not allowed to use this bot. Please contact @support for access.", e.transport.texts[0].text)
			assert.Zero(t, e.transport.downloads)
			assert.Empty(t, e.transcoder.calls)
			assert.Empty(t, e.llm.calls)

			_, err := os.Stat(e.chatsDir)
			assert.True(t, os.IsNotExist(err), "chats dir must not be created")
			_, err = os.Stat(e.tempDir)
			assert.True(t, os.IsNotExist(err), "temp dir must not be created")
		})
	}
}

func TestHandle_HistoryBoundary(t *testing.T) {
	e := newEnv(t, 4)
	for i := 1; i <= 3; i++ {
		require.NoError(t, e.store.Append("alice", i, "q"+string(rune('0'+i)), "a"+string(rune('0'+i))))
	}

	res := e.o.Handle(context.Background(), textMsg("alice", "next"))
	require.True(t, res.OK())

	require.Len(t, e.llm.calls, 1)
	sent := e.llm.calls[0]
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "Be brief."},
		{Role: llm.RoleUser, Content: "q2"},
		{Role: llm.RoleAssistant, Content: "a2"},
		{Role: llm.RoleUser, Content: "q3"},
		{Role: llm.RoleAssistant, Content: "a3"},
		{Role: llm.RoleUser, Content: "next"},
	}, sent)

	assert.Len(t, e.records(t, "alice"), 8)
}

func TestHandle_ZeroHistory(t *testing.T) {
	e := newEnv(t, 0)
	require.NoError(t, e.store.Append("alice", 1, "old", "reply"))

	require.True(t, e.o.Handle(context.Background(), textMsg("alice", "new")).OK())
	require.Len(t, e.llm.calls, 1)
	assert.Len(t, e.llm.calls[0], 2)
}

func TestHandle_EmptyCompletion(t *testing.T) {
	e := newEnv(t, 10)
	e.llm.err = llm.ErrEmptyCompletion

	res := e.o.Handle(context.Background(), textMsg("alice", "hello"))
	assert.Equal(t, EmptyCompletion, res.Failure)
	assert.Empty(t, e.records(t, "alice"))
	require.Len(t, e.transport.texts, 1)
	assert.Equal(t, "Sorry, something went wrong with the chat API call. Please contact @support for help or try again.", e.transport.texts[0].text)
}

func TestHandle_BlankCompletionIsEmpty(t *testing.T) {
	e := newEnv(t, 10)
	e.llm.resp = llm.Response{Content: "  \n"}

	res := e.o.Handle(context.Background(), voiceMsg("alice"))
	assert.Equal(t, EmptyCompletion, res.Failure)
	assert.Empty(t, e.records(t, "alice"))
	e.assertTempEmpty(t)
}

func TestHandle_CompletionFailed(t *testing.T) {
	e := newEnv(t, 10)
	e.llm.err = errors.New("status 500")

	res := e.o.Handle(context.Background(), textMsg("alice", "hello"))
	assert.Equal(t, CompletionFailed, res.Failure)
	assert.Empty(t, e.records(t, "alice"))
	require.Len(t, e.transport.texts, 1)
	assert.NotContains(t, e.transport.texts[0].text, "status 500")
}

func TestHandle_VoiceTurn(t *testing.T) {
	e := newEnv(t, 10)

	res := e.o.Handle(context.Background(), voiceMsg("alice"))
	require.True(t, res.OK(), "unexpected failure %s: %v", res.Failure, res.Err)

	assert.Equal(t, 1, e.transport.downloads)
	assert.Equal(t, []byte("mp3:OggS-voice"), e.stt.input)
	assert.Equal(t, "en-GB-SoniaNeural", e.tts.voice)

	require.Len(t, e.transcoder.calls, 2)
	base := filepath.Join(e.tempDir, "alice-0000000008")
	assert.Equal(t, transcodeCall{in: base + ".oga", out: base + ".mp3", opts: "mp3"}, e.transcoder.calls[0])
	assert.Equal(t, transcodeCall{in: base + "_response.wav", out: base + "_response.ogg", opts: "voice"}, e.transcoder.calls[1])

	assert.Equal(t, base+"_response.ogg", e.transport.voicePath)
	assert.True(t, e.transport.voiceExists)
	assert.Equal(t, time.Second, e.transport.voiceDur)
	assert.Empty(t, e.transport.texts)

	recs := e.records(t, "alice")
	require.Len(t, recs, 2)
	assert.Equal(t, "hello from voice", recs[0].Text)
	assert.Equal(t, "hi there", recs[1].Text)

	e.assertTempEmpty(t)
}

// Scenario C: the transcription has no text.
func TestHandle_EmptyTranscript(t *testing.T) {
	e := newEnv(t, 10)
	e.stt.err = stt.ErrEmptyTranscript

	res := e.o.Handle(context.Background(), voiceMsg("alice"))
	assert.Equal(t, EmptyTranscript, res.Failure)

	assert.Empty(t, e.llm.calls)
	assert.Empty(t, e.records(t, "alice"))
	require.Len(t, e.transport.texts, 1)
	assert.Equal(t, "Sorry, something went wrong. Please contact @support for help or try again.", e.transport.texts[0].text)
	e.assertTempEmpty(t)
}

func TestHandle_TranscriptionFailed(t *testing.T) {
	e := newEnv(t, 10)
	e.stt.err = errors.New("401 unauthorized")

	res := e.o.Handle(context.Background(), voiceMsg("alice"))
	assert.Equal(t, TranscriptionFailed, res.Failure)
	assert.Empty(t, e.records(t, "alice"))
	e.assertTempEmpty(t)
}

// Scenario D: synthesis is canceled after the history was written.
func TestHandle_SynthesisCanceled(t *testing.T) {
	e := newEnv(t, 10)
	e.tts.err = &tts.CanceledError{Reason: tts.CancelError, Detail: "HTTP 401"}

	res := e.o.Handle(context.Background(), voiceMsg("alice"))
	assert.Equal(t, SynthesisCanceled, res.Failure)

	assert.Len(t, e.records(t, "alice"), 2)
	assert.Empty(t, e.transport.voicePath)
	require.Len(t, e.transport.texts, 1)
	assert.Equal(t, "Sorry, something went wrong during speech synthesis. Please contact @support for help or try again.", e.transport.texts[0].text)
	assert.NotContains(t, e.transport.texts[0].text, "HTTP 401")
	assert.Contains(t, e.logs.String(), "result=Canceled reason=Error")
	e.assertTempEmpty(t)
}

func TestHandle_ReplyTranscodeFailed(t *testing.T) {
	e := newEnv(t, 10)
	e.transcoder.failOn = "voice"

	res := e.o.Handle(context.Background(), voiceMsg("alice"))
	assert.Equal(t, TranscodeFailed, res.Failure)
	var te *transcode.Error
	assert.True(t, errors.As(res.Err, &te))

	assert.Len(t, e.records(t, "alice"), 2)
	require.Len(t, e.transport.texts, 1)
	assert.True(t, strings.Contains(e.transport.texts[0].text, "speech synthesis"))
	e.assertTempEmpty(t)
}

func TestHandle_InputTranscodeFailed(t *testing.T) {
	e := newEnv(t, 10)
	e.transcoder.failOn = "mp3"

	res := e.o.Handle(context.Background(), voiceMsg("alice"))
	assert.Equal(t, TranscodeFailed, res.Failure)
	assert.Empty(t, e.llm.calls)
	require.Len(t, e.transport.texts, 1)
	assert.Equal(t, "Sorry, something went wrong. Please contact @support for help or try again.", e.transport.texts[0].text)
	e.assertTempEmpty(t)
}

func TestHandle_DownloadFailed(t *testing.T) {
	e := newEnv(t, 10)
	e.transport.downloadErr = errors.New("404")

	res := e.o.Handle(context.Background(), voiceMsg("alice"))
	assert.Equal(t, DownloadFailed, res.Failure)
	assert.Empty(t, e.transcoder.calls)
	require.Len(t, e.transport.texts, 1)
	e.assertTempEmpty(t)
}

func TestHandle_VoiceDeliveryFailed(t *testing.T) {
	e := newEnv(t, 10)
	e.transport.voiceErr = errors.New("telegram: Bad Request")

	res := e.o.Handle(context.Background(), voiceMsg("alice"))
	assert.Equal(t, DeliveryFailed, res.Failure)
	assert.Empty(t, e.transport.texts)
	e.assertTempEmpty(t)
}

func TestHandle_Commands(t *testing.T) {
	e := newEnv(t, 10)

	require.True(t, e.o.Handle(context.Background(), Message{Username: "alice", Kind: KindCommand, Command: "help"}).OK())
	require.True(t, e.o.Handle(context.Background(), Message{Username: "alice", Kind: KindCommand, Command: "prompt"}).OK())

	require.Len(t, e.transport.texts, 2)
	assert.Equal(t, textReply{text: "*Voice chatter* help", markdown: true}, e.transport.texts[0])
	assert.Equal(t, textReply{text: "Be brief.", markdown: false}, e.transport.texts[1])
	assert.Empty(t, e.llm.calls)
	assert.Empty(t, e.records(t, "alice"))
}

func TestHandle_UnknownCommandIsChat(t *testing.T) {
	e := newEnv(t, 10)

	res := e.o.Handle(context.Background(), Message{Username: "alice", MessageID: 3, Kind: KindCommand, Command: "weather", Text: "/weather today"})
	require.True(t, res.OK())
	require.Len(t, e.llm.calls, 1)
	assert.Len(t, e.records(t, "alice"), 2)
}

func TestFailureString(t *testing.T) {
	assert.Equal(t, "SynthesisCanceled", SynthesisCanceled.String())
	assert.Equal(t, "None", None.String())
	assert.Equal(t, "Unknown", Failure(99).String())
}
