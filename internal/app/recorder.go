package app

import (
	"context"
	"database/sql"

	"shenbaosift/internal/domain"
	"shenbaosift/internal/session"
	"shenbaosift/internal/storage/sqlite"

	"github.com/rs/zerolog/log"
)

type notifier interface {
	Notify(ctx context.Context, run domain.RunRecord, matched []domain.Record) error
}

// recorder persists finished runs and forwards them to Slack. Neither step
// can fail a run; errors are only logged.
type recorder struct {
	db       *sql.DB
	notifier notifier
	provider string
	model    string
}

func newRecorder(db *sql.DB, n notifier, provider, model string) *recorder {
	return &recorder{db: db, notifier: n, provider: provider, model: model}
}

func (r *recorder) Record(ctx context.Context, run domain.RunRecord, matched []domain.Record) {
	if run.LLMProvider == "" {
		run.LLMProvider = r.provider
	}
	if run.LLMModel == "" {
		run.LLMModel = r.model
	}
	if r.db != nil {
		id, err := sqlite.InsertRun(r.db, run)
		if err != nil {
			log.Error().Err(err).Str("source", string(run.Source)).Str("file", run.SourceName).Msg("storing run history")
		} else {
			run.ID = id
		}
	}
	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, run, matched); err != nil {
			log.Error().Err(err).Str("run", run.ID).Msg("slack notify failed")
		}
	}
}

// sessionHook records web analyses. It runs on the analysis goroutine.
func (r *recorder) sessionHook(ctx context.Context) func(session.Outcome) {
	return func(o session.Outcome) {
		r.Record(ctx, runFromOutcome(o), o.Result.Matched)
	}
}

func runFromOutcome(o session.Outcome) domain.RunRecord {
	run := domain.RunRecord{
		Source:       domain.RunSourceWeb,
		SourceName:   o.FileName,
		TotalRecords: len(o.Records),
		TotalBatches: o.Result.Batches,
		MatchedCount: len(o.Result.Matched),
		Status:       domain.RunStatusDone,
		StartedAt:    o.StartedAt,
		FinishedAt:   o.FinishedAt,
	}
	if o.Err != nil {
		run.Status = domain.RunStatusError
		run.Error = domain.UserMessage(o.Err)
		run.MatchedCount = 0
	}
	return run
}
