package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"

	"voice-chatter/internal/config"
	"voice-chatter/internal/llm"
	"voice-chatter/internal/storage"
	"voice-chatter/internal/stt"
	"voice-chatter/internal/transcode"
	"voice-chatter/internal/tts"
	"voice-chatter/internal/workspace"
)

const (
	rejectText      = "Sorry, you are not allowed to use this bot. Please contact %s for access."
	apologyText     = "Sorry, something went wrong. Please contact %s for help or try again."
	apologyChatText = "Sorry, something went wrong with the chat API call. Please contact %s for help or try again."
	apologyTTSText  = "Sorry, something went wrong during speech synthesis. Please contact %s for help or try again."
	defaultHelpText = "Send me a text or a voice message and I will answer."
)

type Authorizer interface {
	IsAllowed(username string) bool
}

type ProfileSource interface {
	Lookup(username string) config.Profile
}

type Transcoder interface {
	Transcode(ctx context.Context, in, out string, opts transcode.Options) error
}

// Deps is the application context shared by every turn. It is built once at
// startup.
type Deps struct {
	Auth           Authorizer
	Profiles       ProfileSource
	Store          storage.Store
	LLM            llm.Client
	STT            stt.Transcriber
	TTS            tts.Synthesizer
	Transcoder     Transcoder
	Workspace      *workspace.Workspace
	Transport      Transport
	MaxHistory     int
	SupportContact string
	HelpText       string
	Logger         *slog.Logger
}

type Orchestrator struct {
	d Deps
}

func New(d Deps) (*Orchestrator, error) {
	var missing []string
	for name, ok := range map[string]bool{
		"auth":       d.Auth != nil,
		"profiles":   d.Profiles != nil,
		"store":      d.Store != nil,
		"llm":        d.LLM != nil,
		"stt":        d.STT != nil,
		"tts":        d.TTS != nil,
		"transcoder": d.Transcoder != nil,
		"workspace":  d.Workspace != nil,
		"transport":  d.Transport != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("pipeline: missing dependencies: %s", strings.Join(missing, ", "))
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if strings.TrimSpace(d.HelpText) == "" {
		d.HelpText = defaultHelpText
	}
	return &Orchestrator{d: d}, nil
}

// Handle runs one turn to completion. Replies go through the transport; the
// returned Result is for logging and tests.
func (o *Orchestrator) Handle(ctx context.Context, msg Message) Result {
	log := o.d.Logger.With(
		"turn", uuid.NewString(),
		"user", msg.Username,
		"message_id", msg.MessageID,
		"kind", msg.Kind.String(),
	)

	if !o.d.Auth.IsAllowed(msg.Username) {
		log.Warn("unauthorized access attempt")
		o.reply(ctx, log, msg, fmt.Sprintf(rejectText, o.d.SupportContact), false)
		return Result{Failure: Unauthorized}
	}

	var res Result
	switch msg.Kind {
	case KindVoice:
		log.Info("received voice message")
		res = o.handleVoice(ctx, log, msg)
	case KindCommand:
		log.Info("received command", "command", msg.Command)
		res = o.handleCommand(ctx, log, msg)
	default:
		log.Info("received text message", "text", msg.Text)
		res = o.handleText(ctx, log, msg)
	}
	if !res.OK() {
		log.Error("turn failed", "failure", res.Failure.String(), "err", res.Err)
	}
	return res
}

func (o *Orchestrator) handleCommand(ctx context.Context, log *slog.Logger, msg Message) Result {
	var text string
	markdown := false
	switch msg.Command {
	case "start", "help":
		text, markdown = o.d.HelpText, true
	case "prompt":
		text = o.d.Profiles.Lookup(msg.Username).SystemPrompt
	default:
		return o.handleText(ctx, log, msg)
	}
	if err := o.d.Transport.ReplyText(ctx, msg, text, markdown); err != nil {
		return Result{Failure: DeliveryFailed, Err: err}
	}
	return Result{}
}

func (o *Orchestrator) handleText(ctx context.Context, log *slog.Logger, msg Message) Result {
	resp, res := o.converse(ctx, log, msg, msg.Text)
	if !res.OK() {
		o.apologize(ctx, log, msg, res)
		return res
	}
	if err := o.d.Transport.ReplyText(ctx, msg, resp.Content, false); err != nil {
		return Result{Failure: DeliveryFailed, Err: err}
	}
	return Result{}
}

func (o *Orchestrator) handleVoice(ctx context.Context, log *slog.Logger, msg Message) Result {
	turn, err := o.d.Workspace.Begin(msg.Username, msg.MessageID)
	if err != nil {
		res := Result{Failure: DownloadFailed, Err: err}
		o.apologize(ctx, log, msg, res)
		return res
	}
	defer turn.Cleanup()

	res := o.runVoice(ctx, log, msg, turn)
	if !res.OK() && res.Failure != DeliveryFailed {
		o.apologize(ctx, log, msg, res)
	}
	return res
}

func (o *Orchestrator) runVoice(ctx context.Context, log *slog.Logger, msg Message, turn *workspace.Turn) Result {
	data, err := o.d.Transport.DownloadVoice(ctx, msg.VoiceFileID)
	if err != nil {
		return Result{Failure: DownloadFailed, Err: err}
	}
	input := turn.Input()
	if err := os.WriteFile(input, data, 0o644); err != nil {
		return Result{Failure: DownloadFailed, Err: fmt.Errorf("save voice: %w", err)}
	}
	log.Debug("voice saved", "path", input, "bytes", len(data))

	format := o.d.STT.Format()
	intermediate := turn.Intermediate(format.Name)
	if err := o.d.Transcoder.Transcode(ctx, input, intermediate, format); err != nil {
		logTranscodeError(log, err)
		return Result{Failure: TranscodeFailed, Err: err}
	}
	audio, err := os.ReadFile(intermediate)
	if err != nil {
		return Result{Failure: TranscodeFailed, Err: err}
	}

	transcript, err := o.d.STT.Transcribe(ctx, intermediate, audio)
	if errors.Is(err, stt.ErrEmptyTranscript) {
		return Result{Failure: EmptyTranscript, Err: err}
	}
	if err != nil {
		return Result{Failure: TranscriptionFailed, Err: err}
	}
	log.Info("transcribed", "transcript", transcript)

	resp, res := o.converse(ctx, log, msg, transcript)
	if !res.OK() {
		return res
	}

	voice := o.d.Profiles.Lookup(msg.Username).Voice
	wavPath := turn.ReplyWAV()
	if err := o.d.TTS.Synthesize(ctx, resp.Content, voice, wavPath); err != nil {
		var ce *tts.CanceledError
		if errors.As(err, &ce) {
			log.Warn("speech synthesis canceled", "result", tts.Reason(err).String(), "reason", string(ce.Reason), "detail", ce.Detail, "voice", voice)
		}
		return Result{Failure: SynthesisCanceled, Err: err}
	}
	duration, err := tts.Duration(wavPath)
	if err != nil {
		log.Warn("cannot read reply duration", "err", err)
	}

	oggPath := turn.ReplyVoice()
	if err := o.d.Transcoder.Transcode(ctx, wavPath, oggPath, transcode.VoiceNote); err != nil {
		logTranscodeError(log, err)
		return Result{Failure: TranscodeFailed, Err: err, replyStage: true}
	}
	if err := o.d.Transport.ReplyVoice(ctx, msg, oggPath, duration); err != nil {
		return Result{Failure: DeliveryFailed, Err: err}
	}
	log.Info("voice reply sent", "duration", duration)
	return Result{}
}

// converse loads the bounded history, asks the model and persists the pair.
// Nothing is written unless the model produced an answer.
func (o *Orchestrator) converse(ctx context.Context, log *slog.Logger, msg Message, text string) (llm.Response, Result) {
	profile := o.d.Profiles.Lookup(msg.Username)
	history := storage.Tail(o.d.Store.Load(msg.Username), o.d.MaxHistory)

	resp, err := llm.Complete(ctx, o.d.LLM, llm.ChatRequest{
		SystemPrompt: profile.SystemPrompt,
		History:      history,
		Text:         text,
	})
	if errors.Is(err, llm.ErrEmptyCompletion) {
		return llm.Response{}, Result{Failure: EmptyCompletion, Err: err}
	}
	if err != nil {
		return llm.Response{}, Result{Failure: CompletionFailed, Err: err}
	}
	if strings.TrimSpace(resp.Content) == "" {
		return llm.Response{}, Result{Failure: EmptyCompletion, Err: llm.ErrEmptyCompletion}
	}
	log.Info("completion",
		"model", resp.Model,
		"history", len(history),
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"total_tokens", resp.TotalTokens,
	)

	if err := o.d.Store.Append(msg.Username, msg.MessageID, text, resp.Content); err != nil {
		log.Error("failed to persist chat history", "err", err)
	}
	return resp, Result{}
}

func (o *Orchestrator) apologize(ctx context.Context, log *slog.Logger, msg Message, res Result) {
	text := apologyText
	if res.replyStage {
		text = apologyTTSText
	}
	switch res.Failure {
	case EmptyCompletion, CompletionFailed:
		text = apologyChatText
	case SynthesisCanceled:
		text = apologyTTSText
	}
	o.reply(ctx, log, msg, fmt.Sprintf(text, o.d.SupportContact), false)
}

func (o *Orchestrator) reply(ctx context.Context, log *slog.Logger, msg Message, text string, markdown bool) {
	if err := o.d.Transport.ReplyText(ctx, msg, text, markdown); err != nil {
		log.Error("failed to send reply", "err", err)
	}
}

func logTranscodeError(log *slog.Logger, err error) {
	var te *transcode.Error
	if errors.As(err, &te) {
		log.Error("ffmpeg failed", "exit_code", te.ExitCode, "stderr", strings.TrimSpace(te.Stderr), "args", te.Args)
	}
}
