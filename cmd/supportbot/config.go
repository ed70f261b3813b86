package main

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/chative-support/server/internal/agent/model"
	"github.com/chative-support/server/internal/api"
	"github.com/chative-support/server/internal/core"
	"github.com/chative-support/server/internal/session"
	"github.com/chative-support/server/internal/telemetry"
	"github.com/chative-support/server/pkg/database"
	logx "github.com/chative-support/server/pkg/logger"
	pkgredis "github.com/chative-support/server/pkg/redis"
)

// BaseConfig is what every command needs: logging and the relational store.
// It must stay exported: envconfig skips unexported embedded structs.
type BaseConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`
	Database    database.Config
}

// appConfig defines all configurable parameters of the chatbot, sourced from
// environment variables (loaded from .env for local runs).
type appConfig struct {
	BaseConfig

	// Infrastructure
	Redis     pkgredis.Config
	Telemetry telemetry.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	General      model.ChatModelConfig
	Agent        model.AgentModelConfig
	Graph        model.GraphConfig
	RAG          model.RAGConfig
	Tagging      model.TaggingConfig
	Conversation model.ConversationConfig
	// TranscriptTurns bounds how many turns Recent returns.
	TranscriptTurns int `envconfig:"CONVERSATION_MAX_TURNS" default:"20"`

	Session session.Config
	HTTP    api.Config
}

// loadEnv reads envFile when it exists and then binds the environment into cfg.
func loadEnv(envFile string, cfg any) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("process environment config: %w", err)
	}
	return nil
}

func (c *BaseConfig) initLogger() {
	logx.Init(logx.LoggerOpts{Environment: c.Environment, Level: c.LogLevel})
}

func loadBaseConfig(envFile string) (*BaseConfig, error) {
	var cfg BaseConfig
	if err := loadEnv(envFile, &cfg); err != nil {
		return nil, err
	}
	cfg.initLogger()
	return &cfg, nil
}

func loadAppConfig(envFile string) (*appConfig, error) {
	var cfg appConfig
	if err := loadEnv(envFile, &cfg); err != nil {
		return nil, err
	}
	cfg.initLogger()
	return &cfg, nil
}

// durations parses the string durations of the agent configs.
type durations struct {
	conversation time.Duration
	embedCache   time.Duration
	tagging      time.Duration
}

func (c *appConfig) durations() (durations, error) {
	var (
		d   durations
		err error
	)
	if d.conversation, err = c.Conversation.ParsedTTL(); err != nil {
		return d, fmt.Errorf("invalid CONVERSATION_TTL %q: %w", c.Conversation.TTL, err)
	}
	if d.embedCache, err = parseDuration(c.RAG.CacheTTL); err != nil {
		return d, fmt.Errorf("invalid RAG_CACHE_TTL %q: %w", c.RAG.CacheTTL, err)
	}
	if d.tagging, err = parseDuration(c.Tagging.Timeout); err != nil {
		return d, fmt.Errorf("invalid TAGGING_TIMEOUT %q: %w", c.Tagging.Timeout, err)
	}
	return d, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
