package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the per-user part of the configuration.
type Profile struct {
	SystemPrompt string
	Voice        string
}

// Profiles mirrors the users file:
//
//	user_whitelist: [alice]
//	system_prompts: {alice: "You are a helpful assistant."}
//	tts_voices: {alice: en-US-JennyNeural}
type Profiles struct {
	Whitelist           []string          `yaml:"user_whitelist"`
	SystemPrompts       map[string]string `yaml:"system_prompts"`
	Voices              map[string]string `yaml:"tts_voices"`
	DefaultSystemPrompt string            `yaml:"default_system_prompt"`
	DefaultVoice        string            `yaml:"default_tts_voice"`
}

const (
	defaultSystemPrompt = "You are a helpful assistant."
	defaultVoice        = "en-US-JennyNeural"
)

// LoadProfiles reads the users file. A missing file yields empty profiles
// (nobody is allowed) rather than an error.
func LoadProfiles(path string) (*Profiles, error) {
	p := &Profiles{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read profiles %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse profiles %s: %w", path, err)
		}
	}
	p.applyDefaults()
	return p, nil
}

func (p *Profiles) applyDefaults() {
	if p.SystemPrompts == nil {
		p.SystemPrompts = map[string]string{}
	}
	if p.Voices == nil {
		p.Voices = map[string]string{}
	}
	if p.DefaultSystemPrompt == "" {
		p.DefaultSystemPrompt = defaultSystemPrompt
	}
	if p.DefaultVoice == "" {
		p.DefaultVoice = defaultVoice
	}
}

// Lookup resolves the prompt and voice of a user, falling back to defaults.
func (p *Profiles) Lookup(username string) Profile {
	out := Profile{SystemPrompt: p.DefaultSystemPrompt, Voice: p.DefaultVoice}
	if s, ok := p.SystemPrompts[username]; ok && s != "" {
		out.SystemPrompt = s
	}
	if v, ok := p.Voices[username]; ok && v != "" {
		out.Voice = v
	}
	return out
}
