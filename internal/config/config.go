package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type STTProvider string

const (
	STTOpenAI STTProvider = "openai"
	STTGoogle STTProvider = "google"
)

type TTSProvider string

const (
	TTSAzure  TTSProvider = "azure"
	TTSOpenAI TTSProvider = "openai"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Speech-to-text
	STTProvider           STTProvider `env:"STT_PROVIDER" envDefault:"openai"`
	STTModel              string      `env:"STT_MODEL" envDefault:"whisper-1"`
	GoogleSpeechLanguage  string      `env:"GOOGLE_SPEECH_LANGUAGE" envDefault:"en-US"`
	GoogleCredentialsFile string      `env:"GOOGLE_CREDENTIALS_FILE"`

	// Speech synthesis
	TTSProvider       TTSProvider `env:"TTS_PROVIDER" envDefault:"azure"`
	AzureSpeechKey    string      `env:"AZURE_SPEECH_KEY"`
	AzureSpeechRegion string      `env:"AZURE_SPEECH_REGION"`
	OpenAITTSModel    string      `env:"OPENAI_TTS_MODEL" envDefault:"tts-1"`

	// Users
	ProfilesPath      string `env:"PROFILES_PATH" envDefault:"config/users.yaml"`
	AllowlistFilePath string `env:"ALLOWLIST_FILE_PATH"`
	SupportContact    string `env:"SUPPORT_CONTACT" envDefault:"@admin"`
	HelpPath          string `env:"HELP_PATH" envDefault:"README.md"`

	// Storage
	ChatsDir   string `env:"CHATS_DIR" envDefault:"chats"`
	TempDir    string `env:"TEMP_DIR" envDefault:"temp"`
	MaxHistory int    `env:"MAX_HISTORY" envDefault:"10"`

	// Transcoding
	FFmpegPath        string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	TempSweepSchedule string        `env:"TEMP_SWEEP_SCHEDULE" envDefault:"@hourly"`
	TempMaxAge        time.Duration `env:"TEMP_MAX_AGE" envDefault:"1h"`
}

// New parses the environment into a Config and validates it.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("MAX_HISTORY must be >= 0, got %d", c.MaxHistory))
	}
	if c.TempMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("TEMP_MAX_AGE must be positive, got %s", c.TempMaxAge))
	}

	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for llm provider openai"))
		}
	case ProviderYandex:
		if c.YandexOAuthToken == "" || c.YandexFolderID == "" {
			errs = append(errs, errors.New("YANDEX_OAUTH_TOKEN and YANDEX_FOLDER_ID are required for llm provider yandex"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider: %s", c.LLMProvider))
	}

	switch c.STTProvider {
	case STTOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for stt provider openai"))
		}
	case STTGoogle:
	default:
		errs = append(errs, fmt.Errorf("unknown stt provider: %s", c.STTProvider))
	}

	switch c.TTSProvider {
	case TTSAzure:
		if c.AzureSpeechKey == "" || c.AzureSpeechRegion == "" {
			errs = append(errs, errors.New("AZURE_SPEECH_KEY and AZURE_SPEECH_REGION are required for tts provider azure"))
		}
	case TTSOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for tts provider openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown tts provider: %s", c.TTSProvider))
	}

	return errors.Join(errs...)
}
