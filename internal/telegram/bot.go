package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"voice-chatter/internal/pipeline"
)

// Handler runs one turn for an inbound message.
type Handler interface {
	Handle(ctx context.Context, msg pipeline.Message) pipeline.Result
}

// Bot is the Telegram side of the pipeline: it turns updates into
// pipeline messages and implements pipeline.Transport.
type Bot struct {
	api        *tgbotapi.BotAPI
	s          sender
	files      fileLinker
	httpClient *http.Client
	logger     *slog.Logger
}

func New(botToken string, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := botAPISender{api: api}
	return &Bot{
		api:        api,
		s:          s,
		files:      s,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}, nil
}

// Username is the bot's own account name.
func (b *Bot) Username() string {
	if b.api == nil {
		return ""
	}
	return b.api.Self.UserName
}

// Start long-polls for updates and handles them one at a time until ctx is
// done.
func (b *Bot) Start(ctx context.Context, h Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.dispatch(ctx, h, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, h Handler, update tgbotapi.Update) {
	msg, ok := toMessage(update.Message)
	if !ok {
		return
	}
	res := h.Handle(ctx, msg)
	b.logger.Debug("update handled",
		"update_id", update.UpdateID,
		"user", msg.Username,
		"failure", res.Failure.String(),
	)
}

// toMessage keeps text, command and voice messages; everything else is
// ignored.
func toMessage(m *tgbotapi.Message) (pipeline.Message, bool) {
	if m == nil || m.From == nil || m.Chat == nil {
		return pipeline.Message{}, false
	}
	out := pipeline.Message{
		Username:  m.From.UserName,
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Text:      m.Text,
	}
	switch {
	case m.Voice != nil:
		out.Kind = pipeline.KindVoice
		out.VoiceFileID = m.Voice.FileID
	case m.IsCommand():
		out.Kind = pipeline.KindCommand
		out.Command = m.Command()
	case m.Text != "":
		out.Kind = pipeline.KindText
	default:
		return pipeline.Message{}, false
	}
	return out, true
}

func (b *Bot) ReplyText(_ context.Context, to pipeline.Message, text string, markdown bool) error {
	msg := tgbotapi.NewMessage(to.ChatID, text)
	msg.ReplyToMessageID = to.MessageID
	if markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := b.s.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (b *Bot) ReplyVoice(_ context.Context, to pipeline.Message, path string, duration time.Duration) error {
	voice := tgbotapi.NewVoice(to.ChatID, tgbotapi.FilePath(path))
	voice.ReplyToMessageID = to.MessageID
	voice.Duration = int(math.Ceil(duration.Seconds()))
	if _, err := b.s.Send(voice); err != nil {
		return fmt.Errorf("failed to send voice: %w", err)
	}
	return nil
}

func (b *Bot) DownloadVoice(ctx context.Context, fileID string) ([]byte, error) {
	link, err := b.files.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, errors.New("failed to build download request")
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		// The file link embeds the bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	return data, nil
}
