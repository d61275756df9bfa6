// Package app wires configuration, storage and integrations behind the
// command-line entry points.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"shenbaosift/internal/batch"
	"shenbaosift/internal/config"
	"shenbaosift/internal/httpx"
	"shenbaosift/internal/integrations/llm"
	slackbot "shenbaosift/internal/integrations/slack"
	"shenbaosift/internal/logging"
	"shenbaosift/internal/storage/sqlite"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var now = time.Now

// Execute runs the command line and returns the process exit code.
func Execute() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		return 1
	}
	return 0
}

type rootOptions struct {
	configPath string
	logOut     io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logOut: os.Stderr}
	root := &cobra.Command{
		Use:           "shenbaosift",
		Short:         "Sift Shen Bao article titles for 志怪 and 异事 stories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml (overrides CONFIG_PATH)")

	root.AddCommand(
		newServeCmd(opts),
		newClassifyCmd(opts),
		newRunsCmd(opts),
	)
	return root
}

// env is everything a command needs once configuration is loaded.
type env struct {
	cfg        config.Config
	db         *sql.DB
	classifier llm.Classifier
	recorder   *recorder
}

func (e *env) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *env) newOrchestrator() *batch.Orchestrator {
	return batch.New(e.classifier,
		batch.WithBatchSize(e.cfg.LLMBatchSize),
		batch.WithDelay(e.cfg.BatchDelay()),
	)
}

// loadConfig reads configuration and sets up logging and the shared HTTP
// client. It does not touch the database.
func loadConfig(opts *rootOptions) (config.Config, error) {
	if opts.configPath != "" {
		if err := os.Setenv("CONFIG_PATH", opts.configPath); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat, opts.logOut); err != nil {
		return config.Config{}, err
	}
	timeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Info().
		Str("provider", cfg.LLMProvider).
		Str("model", cfg.LLMModel).
		Int("batch_size", cfg.LLMBatchSize).
		Dur("batch_delay", cfg.BatchDelay()).
		Dur("http_timeout", timeout).
		Str("db", cfg.DBPath).
		Bool("slack", cfg.SlackConfigured()).
		Bool("inbox", cfg.InboxConfigured()).
		Msg("config loaded")
	return cfg, nil
}

func setup(ctx context.Context, opts *rootOptions) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	classifier, err := llm.New(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	var n notifier
	if cfg.SlackConfigured() {
		n = slackbot.New(cfg.SlackBotToken, cfg.SlackChannelID, httpx.ExternalHTTPClient())
	}

	provider, model := describe(classifier, cfg)
	return &env{
		cfg:        cfg,
		db:         db,
		classifier: classifier,
		recorder:   newRecorder(db, n, provider, model),
	}, nil
}

type described interface {
	Provider() string
	Model() string
}

func describe(c llm.Classifier, cfg config.Config) (string, string) {
	if d, ok := c.(described); ok {
		return d.Provider(), d.Model()
	}
	return cfg.LLMProvider, cfg.LLMModel
}

type usageReporter interface {
	Usage() llm.Usage
}

// logUsage reports the token totals of c, when it keeps any.
func logUsage(c llm.Classifier, msg string) {
	u, ok := c.(usageReporter)
	if !ok {
		return
	}
	usage := u.Usage()
	log.Info().
		Int64("tokens_in", usage.InputTokens).
		Int64("tokens_out", usage.OutputTokens).
		Int64("tokens_cache_read", usage.CacheReadInputTokens).
		Int64("tokens_cache_write", usage.CacheCreationInputTokens).
		Int64("tokens_total", usage.TotalTokens()).
		Msg(msg)
}
