package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// configEnvKeys lists every variable Load reads.
var configEnvKeys = []string{
	"CONFIG_PATH", "LLM_PROVIDER", "LLM_MODEL", "LLM_BATCH_SIZE", "LLM_BATCH_DELAY_MS",
	"LLM_PROMPT_PATH", "API_KEY", "GEMINI_API_KEY", "GEMINI_BASE_URL", "ANTHROPIC_API_KEY",
	"ANTHROPIC_BASE_URL", "OPENAI_API_KEY", "OPENAI_BASE_URL", "HTTP_ADDR", "MAX_UPLOAD_MB",
	"SESSION_IDLE_MINUTES", "EXTERNAL_HTTP_TIMEOUT_SECONDS", "DB_PATH", "OUTPUT_DIR",
	"INBOX_DIR", "INBOX_SCHEDULE", "TIMEZONE", "SLACK_BOT_TOKEN", "SLACK_CHANNEL_ID",
	"LOG_LEVEL", "LOG_FORMAT",
}

// clearConfigEnv unsets every config variable for the duration of the test.
// Unsetting matters: INBOX_DIR and INBOX_SCHEDULE treat an empty value as set.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func setMinimalValidConfigEnv(t *testing.T) {
	t.Helper()
	clearConfigEnv(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	t.Setenv("GEMINI_API_KEY", "gm-test")
	t.Setenv("TIMEZONE", "UTC")
}

func TestLoadFromEnvWithDefaults(t *testing.T) {
	setMinimalValidConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLMProvider != ProviderGemini {
		t.Fatalf("unexpected provider default: %q", cfg.LLMProvider)
	}
	if cfg.LLMModel != "gemini-2.5-flash" {
		t.Fatalf("unexpected model default: %q", cfg.LLMModel)
	}
	if cfg.LLMBatchSize != DefaultBatchSize {
		t.Fatalf("unexpected batch size default: %d", cfg.LLMBatchSize)
	}
	if cfg.BatchDelay() != 200*time.Millisecond {
		t.Fatalf("unexpected batch delay default: %s", cfg.BatchDelay())
	}
	if cfg.DBPath != "./shenbaosift.db" {
		t.Fatalf("unexpected db path default: %q", cfg.DBPath)
	}
	if cfg.OutputDir != "./results" {
		t.Fatalf("unexpected output dir default: %q", cfg.OutputDir)
	}
	if cfg.ExternalHTTPTimeoutSeconds != defaultExternalHTTPTimeoutSeconds {
		t.Fatalf("unexpected external HTTP timeout default: %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.MaxUploadBytes() != 20<<20 {
		t.Fatalf("unexpected upload limit: %d", cfg.MaxUploadBytes())
	}
	if cfg.Location == nil || cfg.Location.String() != "UTC" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
	if cfg.InboxConfigured() || cfg.SlackConfigured() {
		t.Fatalf("inbox and slack must be off by default")
	}
}

func TestLoadAcceptsLegacyAPIKeyVariable(t *testing.T) {
	setMinimalValidConfigEnv(t)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "legacy-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GeminiAPIKey != "legacy-key" {
		t.Fatalf("expected API_KEY to populate gemini key, got %q", cfg.GeminiAPIKey)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := `
llm_provider: "anthropic"
anthropic_api_key: "yaml-anthropic"
llm_batch_size: 50
llm_batch_delay_ms: 500
db_path: "/tmp/yaml.db"
inbox_dir: "` + dir + `"
inbox_schedule: "*/10 * * * *"
slack_bot_token: "xoxb-yaml"
slack_channel_id: "C123"
log_format: "json"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("LLM_BATCH_SIZE", "25")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("TIMEZONE", "Asia/Shanghai")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLMProvider != ProviderOpenAI {
		t.Fatalf("expected env provider override, got %q", cfg.LLMProvider)
	}
	if cfg.LLMModel != "gpt-4o-mini" {
		t.Fatalf("expected openai default model, got %q", cfg.LLMModel)
	}
	if cfg.AnthropicAPIKey != "yaml-anthropic" {
		t.Fatalf("expected yaml anthropic key kept, got %q", cfg.AnthropicAPIKey)
	}
	if cfg.LLMBatchSize != 25 {
		t.Fatalf("expected env batch size, got %d", cfg.LLMBatchSize)
	}
	if cfg.BatchDelay() != 500*time.Millisecond {
		t.Fatalf("expected yaml batch delay, got %s", cfg.BatchDelay())
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("expected env db path, got %q", cfg.DBPath)
	}
	if !cfg.InboxConfigured() || cfg.InboxSchedule != "*/10 * * * *" {
		t.Fatalf("unexpected inbox config: dir=%q schedule=%q", cfg.InboxDir, cfg.InboxSchedule)
	}
	if !cfg.SlackConfigured() {
		t.Fatalf("expected slack configured")
	}
	if cfg.Location == nil || cfg.Location.String() != "Asia/Shanghai" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
}

func TestBatchDelayZeroDisablesPacing(t *testing.T) {
	setMinimalValidConfigEnv(t)
	t.Setenv("LLM_BATCH_DELAY_MS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchDelay() != 0 {
		t.Fatalf("expected explicit 0 to disable pacing, got %s", cfg.BatchDelay())
	}

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("llm_batch_delay_ms: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("LLM_BATCH_DELAY_MS", "")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchDelay() != 0 {
		t.Fatalf("expected yaml 0 to disable pacing, got %s", cfg.BatchDelay())
	}

	t.Setenv("LLM_BATCH_DELAY_MS", "-1")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "invalid llm_batch_delay_ms") {
		t.Fatalf("expected negative delay to be rejected, got %v", err)
	}
}

func TestProviderBaseURLsFromEnv(t *testing.T) {
	setMinimalValidConfigEnv(t)
	t.Setenv("GEMINI_BASE_URL", "http://gemini.local/")
	t.Setenv("ANTHROPIC_BASE_URL", "http://anthropic.local/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GeminiBaseURL != "http://gemini.local/" || cfg.AnthropicBaseURL != "http://anthropic.local/" {
		t.Fatalf("unexpected base URLs: gemini=%q anthropic=%q", cfg.GeminiBaseURL, cfg.AnthropicBaseURL)
	}
}

func TestInboxScheduleDefaultsWhenDirSet(t *testing.T) {
	setMinimalValidConfigEnv(t)
	t.Setenv("INBOX_DIR", t.TempDir())
	t.Setenv("INBOX_SCHEDULE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InboxSchedule != "@every 5m" {
		t.Fatalf("unexpected inbox schedule default: %q", cfg.InboxSchedule)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing gemini key",
			env:     map[string]string{"GEMINI_API_KEY": ""},
			wantErr: "gemini_api_key is required",
		},
		{
			name:    "missing anthropic key",
			env:     map[string]string{"LLM_PROVIDER": "anthropic", "ANTHROPIC_API_KEY": ""},
			wantErr: "anthropic_api_key is required",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"LLM_PROVIDER": "cohere"},
			wantErr: "llm_provider must be one of",
		},
		{
			name:    "bad batch size",
			env:     map[string]string{"LLM_BATCH_SIZE": "-3"},
			wantErr: "invalid llm_batch_size",
		},
		{
			name:    "non numeric batch size",
			env:     map[string]string{"LLM_BATCH_SIZE": "lots"},
			wantErr: "invalid LLM_BATCH_SIZE",
		},
		{
			name:    "short http timeout",
			env:     map[string]string{"EXTERNAL_HTTP_TIMEOUT_SECONDS": "2"},
			wantErr: "invalid external_http_timeout_seconds",
		},
		{
			name:    "bad timezone",
			env:     map[string]string{"TIMEZONE": "Mars/Olympus"},
			wantErr: "invalid timezone",
		},
		{
			name:    "bad inbox schedule",
			env:     map[string]string{"INBOX_DIR": "/tmp", "INBOX_SCHEDULE": "whenever"},
			wantErr: "invalid inbox_schedule",
		},
		{
			name:    "slack without channel",
			env:     map[string]string{"SLACK_BOT_TOKEN": "xoxb-test", "SLACK_CHANNEL_ID": ""},
			wantErr: "slack_channel_id is required",
		},
		{
			name:    "missing prompt file",
			env:     map[string]string{"LLM_PROMPT_PATH": "/nonexistent/prompt.txt"},
			wantErr: "invalid llm_prompt_path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimalValidConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestKeywordProviderNeedsNoKey(t *testing.T) {
	setMinimalValidConfigEnv(t)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("LLM_PROVIDER", "Keyword")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLMProvider != ProviderKeyword {
		t.Fatalf("expected provider to be normalized, got %q", cfg.LLMProvider)
	}
}
