package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"
	log "log/slog"

	"voice-chatter/internal/auth"
	"voice-chatter/internal/config"
	"voice-chatter/internal/llm"
	"voice-chatter/internal/pipeline"
	"voice-chatter/internal/scheduler"
	"voice-chatter/internal/storage"
	"voice-chatter/internal/stt"
	"voice-chatter/internal/telegram"
	"voice-chatter/internal/transcode"
	"voice-chatter/internal/tts"
	"voice-chatter/internal/workspace"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	cli.Parse()

	level, ok := logLevelMap[*logLevel]
	if !ok {
		level = log.LevelInfo
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	})))

	if err := godotenv.Load(*envFile); err != nil {
		log.Warn(".env file not loaded", "path", *envFile, "err", err)
	}

	cfg, err := config.New()
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("bot stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := log.Default()

	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return err
	}

	var allowRepo auth.Repository
	if cfg.AllowlistFilePath != "" {
		allowRepo = auth.NewFileRepository(cfg.AllowlistFilePath)
	}
	authSvc, err := auth.NewWithRepo(allowRepo, profiles.Whitelist)
	if err != nil {
		return err
	}
	if authSvc.Len() == 0 {
		logger.Warn("allow-list is empty, every user will be rejected")
	}

	llmClient, err := llm.NewFactory(cfg).CreateClient(cfg.LLMProvider, cfg.OpenAIModel)
	if err != nil {
		return err
	}

	transcriber, closeSTT, err := newTranscriber(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSTT()

	ws := workspace.New(cfg.TempDir, logger)
	sched := scheduler.New(ws, cfg.TempSweepSchedule, cfg.TempMaxAge, logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()
	if sched.IsRunning() {
		logger.Info("next temp sweep", "at", sched.Next())
	}

	bot, err := telegram.New(cfg.TelegramBotToken, logger)
	if err != nil {
		return err
	}

	orch, err := pipeline.New(pipeline.Deps{
		Auth:           authSvc,
		Profiles:       profiles,
		Store:          storage.NewChatLog(cfg.ChatsDir, logger),
		LLM:            llmClient,
		STT:            transcriber,
		TTS:            newSynthesizer(cfg),
		Transcoder:     transcode.New(cfg.FFmpegPath),
		Workspace:      ws,
		Transport:      bot,
		MaxHistory:     cfg.MaxHistory,
		SupportContact: cfg.SupportContact,
		HelpText:       readHelp(cfg.HelpPath),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	logger.Info("bot started",
		"bot", bot.Username(),
		"llm", cfg.LLMProvider,
		"stt", cfg.STTProvider,
		"tts", cfg.TTSProvider,
		"users", authSvc.Len(),
	)
	bot.Start(ctx, orch)
	return nil
}

func newTranscriber(ctx context.Context, cfg *config.Config) (stt.Transcriber, func(), error) {
	if cfg.STTProvider == config.STTGoogle {
		g, err := stt.NewGoogle(ctx, cfg.GoogleSpeechLanguage, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return g, func() {
			if err := g.Close(); err != nil {
				log.Warn("failed to close speech client", "err", err)
			}
		}, nil
	}
	oc := llm.NewOpenAIConfig(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenRouterReferrer, cfg.OpenRouterTitle)
	return stt.NewOpenAI(oc, cfg.STTModel), func() {}, nil
}

func newSynthesizer(cfg *config.Config) tts.Synthesizer {
	if cfg.TTSProvider == config.TTSOpenAI {
		oc := llm.NewOpenAIConfig(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenRouterReferrer, cfg.OpenRouterTitle)
		return tts.NewOpenAI(oc, cfg.OpenAITTSModel)
	}
	return tts.NewAzure(cfg.AzureSpeechKey, cfg.AzureSpeechRegion)
}

func readHelp(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("help file not found or unreadable", "path", path, "err", err)
		return ""
	}
	return string(data)
}
