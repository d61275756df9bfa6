package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shenbaosift/internal/inbox"
	"shenbaosift/internal/logging"
	"shenbaosift/internal/session"
	"shenbaosift/internal/web"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload page and API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			if addr != "" {
				e.cfg.HTTPAddr = addr
			}
			return serve(ctx, e)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http_addr)")
	return cmd
}

func serve(ctx context.Context, e *env) error {
	registry := session.NewRegistry(
		func() session.Runner { return e.newOrchestrator() },
		session.WithOnFinish(e.recorder.sessionHook(ctx)),
	)

	scheduler := cron.New(
		cron.WithLocation(e.cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(logging.CronLogger{})),
		cron.WithLogger(logging.CronLogger{}),
	)
	idle := e.cfg.SessionIdle()
	if _, err := scheduler.AddFunc("@every 1m", func() {
		registry.Prune(time.Now(), idle)
	}); err != nil {
		return err
	}
	var scanner *inbox.Scanner
	if e.cfg.InboxConfigured() {
		if err := os.MkdirAll(e.cfg.InboxDir, 0o755); err != nil {
			return err
		}
		scanner = inbox.New(inbox.Options{
			Dir:       e.cfg.InboxDir,
			OutputDir: e.cfg.OutputDir,
			DB:        e.db,
			Runner:    e.newOrchestrator(),
			Provider:  e.recorder.provider,
			Model:     e.recorder.model,
			OnRun:     e.recorder.Record,
		})
		if _, err := scanner.Schedule(ctx, scheduler, e.cfg.InboxSchedule); err != nil {
			return err
		}
	} else {
		log.Info().Msg("inbox disabled (inbox_dir not set)")
	}

	srv := &http.Server{
		Addr:              e.cfg.HTTPAddr,
		Handler:           web.NewServer(ctx, registry, e.db, e.cfg.MaxUploadBytes()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})
	if scanner != nil {
		g.Go(func() error {
			if err := scanner.Watch(gctx, inbox.DefaultSettle); err != nil {
				log.Warn().Err(err).Msg("inbox watcher unavailable, relying on schedule")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	logUsage(e.classifier, "token usage since start")
	return err
}
