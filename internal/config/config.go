package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	// ProviderKeyword classifies offline by theme characters; no API key needed.
	ProviderKeyword = "keyword"
)

const (
	DefaultBatchSize    = 200
	DefaultBatchDelayMS = 200
)

type Config struct {
	LLMProvider   string `yaml:"llm_provider"`
	LLMModel      string `yaml:"llm_model"`
	LLMBatchSize  int    `yaml:"llm_batch_size"`
	LLMPromptPath string `yaml:"llm_prompt_path"`
	// LLMBatchDelayMS is nil when unset; an explicit 0 disables pacing.
	LLMBatchDelayMS *int `yaml:"llm_batch_delay_ms"`
	GeminiAPIKey     string `yaml:"gemini_api_key"`
	GeminiBaseURL    string `yaml:"gemini_base_url"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`

	HTTPAddr                   string `yaml:"http_addr"`
	MaxUploadMB                int    `yaml:"max_upload_mb"`
	SessionIdleMinutes         int    `yaml:"session_idle_minutes"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	DBPath    string `yaml:"db_path"`
	OutputDir string `yaml:"output_dir"`

	InboxDir      string `yaml:"inbox_dir"`
	InboxSchedule string `yaml:"inbox_schedule"`
	Timezone      string `yaml:"timezone"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// Load reads config.yaml (or CONFIG_PATH), applies environment overrides and
// defaults, and validates the result.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("Loaded config")
	}

	var errs []error
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	errs = append(errs, envOverrideInt(&cfg.LLMBatchSize, "LLM_BATCH_SIZE"))
	errs = append(errs, envOverrideIntPtr(&cfg.LLMBatchDelayMS, "LLM_BATCH_DELAY_MS"))
	envOverride(&cfg.LLMPromptPath, "LLM_PROMPT_PATH")
	// API_KEY is accepted as a legacy alias for GEMINI_API_KEY.
	envOverride(&cfg.GeminiAPIKey, "API_KEY")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	envOverride(&cfg.GeminiBaseURL, "GEMINI_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.AnthropicBaseURL, "ANTHROPIC_BASE_URL")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	errs = append(errs, envOverrideInt(&cfg.MaxUploadMB, "MAX_UPLOAD_MB"))
	errs = append(errs, envOverrideInt(&cfg.SessionIdleMinutes, "SESSION_IDLE_MINUTES"))
	errs = append(errs, envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"))
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.OutputDir, "OUTPUT_DIR")
	envOverrideAllowEmpty(&cfg.InboxDir, "INBOX_DIR")
	envOverrideAllowEmpty(&cfg.InboxSchedule, "INBOX_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	if c.LLMProvider == "" {
		c.LLMProvider = ProviderGemini
	}
	if c.LLMModel == "" {
		c.LLMModel = DefaultModel(c.LLMProvider)
	}
	if c.LLMBatchSize == 0 {
		c.LLMBatchSize = DefaultBatchSize
	}
	if c.LLMBatchDelayMS == nil {
		delay := DefaultBatchDelayMS
		c.LLMBatchDelayMS = &delay
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = 20
	}
	if c.SessionIdleMinutes == 0 {
		c.SessionIdleMinutes = 120
	}
	if c.ExternalHTTPTimeoutSeconds == 0 {
		c.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if c.DBPath == "" {
		c.DBPath = "./shenbaosift.db"
	}
	if c.OutputDir == "" {
		c.OutputDir = "./results"
	}
	if c.InboxDir != "" && c.InboxSchedule == "" {
		c.InboxSchedule = "@every 5m"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
}

func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("gemini_api_key is required when llm_provider=gemini")
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	case ProviderKeyword:
	default:
		return fmt.Errorf("llm_provider must be one of gemini, anthropic, openai, keyword, got '%s'", c.LLMProvider)
	}

	if c.LLMBatchSize < 1 {
		return fmt.Errorf("invalid llm_batch_size '%d': must be >= 1", c.LLMBatchSize)
	}
	if c.LLMBatchDelayMS != nil && *c.LLMBatchDelayMS < 0 {
		return fmt.Errorf("invalid llm_batch_delay_ms '%d': must be >= 0", *c.LLMBatchDelayMS)
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("invalid max_upload_mb '%d': must be >= 1", c.MaxUploadMB)
	}
	if c.SessionIdleMinutes < 1 {
		return fmt.Errorf("invalid session_idle_minutes '%d': must be >= 1", c.SessionIdleMinutes)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.LLMPromptPath != "" {
		if _, err := os.Stat(c.LLMPromptPath); err != nil {
			return fmt.Errorf("invalid llm_prompt_path '%s': %w", c.LLMPromptPath, err)
		}
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
		c.Location = loc
	}

	if c.InboxDir != "" {
		if _, err := cron.ParseStandard(c.InboxSchedule); err != nil {
			return fmt.Errorf("invalid inbox_schedule '%s': %w", c.InboxSchedule, err)
		}
	}
	if c.SlackBotToken != "" && c.SlackChannelID == "" {
		return fmt.Errorf("slack_channel_id is required when slack_bot_token is set")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be 'console' or 'json', got '%s'", c.LogFormat)
	}
	return nil
}

// DefaultModel is the model used when llm_model is left empty.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-5-20250929"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderKeyword:
		return "theme-characters"
	default:
		return "gemini-2.5-flash"
	}
}

func (c Config) BatchDelay() time.Duration {
	if c.LLMBatchDelayMS == nil {
		return DefaultBatchDelayMS * time.Millisecond
	}
	return time.Duration(*c.LLMBatchDelayMS) * time.Millisecond
}

func (c Config) SessionIdle() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func (c Config) InboxConfigured() bool {
	return c.InboxDir != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideIntPtr(field **int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = &parsed
	}
	return nil
}
