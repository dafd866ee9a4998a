package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GenerationParams tunes one artifact type's completion call.
type GenerationParams struct {
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens"`
}

// ProviderFile is the optional YAML document referenced by LLM_CONFIG_FILE.
// Environment variables written as ${VAR} are expanded before parsing, so API
// keys do not need to live in the file itself.
//
//	base_url: https://api.openai.com/v1
//	api_key: ${OPENAI_API_KEY}
//	model: gpt-4o-mini
//	vision_model: gpt-4o
//	timeout: 45s
//	artifacts:
//	  summary: {temperature: 0.5, max_tokens: 3000}
//	  quiz:    {temperature: 0.7}
type ProviderFile struct {
	BaseURL     string                      `yaml:"base_url"`
	APIKey      string                      `yaml:"api_key"`
	Model       string                      `yaml:"model"`
	VisionModel string                      `yaml:"vision_model"`
	Timeout     string                      `yaml:"timeout"`
	Artifacts   map[string]GenerationParams `yaml:"artifacts"`
}

// LoadProviderFile reads and parses a provider YAML file.
func LoadProviderFile(path string) (ProviderFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProviderFile{}, fmt.Errorf("config: read provider file: %w", err)
	}
	var pf ProviderFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &pf); err != nil {
		return ProviderFile{}, fmt.Errorf("config: parse provider file: %w", err)
	}
	for name := range pf.Artifacts {
		switch name {
		case "summary", "quiz", "flashcards", "chat", "answer":
		default:
			return ProviderFile{}, fmt.Errorf("config: provider file: unknown artifact %q", name)
		}
	}
	return pf, nil
}

// applyFile overlays non-empty provider file fields on top of env values.
func (l *LLMConfig) applyFile(path string) error {
	pf, err := LoadProviderFile(path)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(pf.BaseURL); v != "" {
		l.BaseURL = v
	}
	if v := strings.TrimSpace(pf.APIKey); v != "" {
		l.APIKey = v
	}
	if v := strings.TrimSpace(pf.Model); v != "" {
		l.Model = v
	}
	if v := strings.TrimSpace(pf.VisionModel); v != "" {
		l.VisionModel = v
	}
	if pf.Timeout != "" {
		d, err := time.ParseDuration(pf.Timeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("config: provider file: invalid timeout %q", pf.Timeout)
		}
		l.Timeout = d
	}
	l.Artifacts = pf.Artifacts
	return nil
}
