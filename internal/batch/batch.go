// Package batch runs records through a classifier in fixed-size batches,
// one batch at a time, and filters the records by the accumulated matches.
package batch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"shenbaosift/internal/domain"

	"github.com/rs/zerolog/log"
)

const (
	DefaultSize  = 200
	DefaultDelay = 200 * time.Millisecond
)

// ErrSequenceConsumed is yielded when a sequence returned by Steps is ranged
// over a second time. Start a new run with a fresh call to Steps instead.
var ErrSequenceConsumed = errors.New("batch sequence already consumed")

type Classifier interface {
	Classify(ctx context.Context, titles []string) ([]string, error)
}

type Phase int

const (
	// PhaseStarted is yielded right before a batch is sent to the classifier.
	PhaseStarted Phase = iota
	// PhaseClassified is yielded once the classifier answered for the batch.
	PhaseClassified
)

type Step struct {
	Phase    Phase
	Progress domain.Progress
	Batch    []domain.Record
	Matched  []string        // titles returned for this batch
	Partial  domain.MatchSet // every match so far; a copy the caller may keep
}

type Result struct {
	Matched  []domain.Record
	MatchSet domain.MatchSet
	Batches  int
}

type Orchestrator struct {
	classifier Classifier
	size       int
	delay      time.Duration
}

type Option func(*Orchestrator)

// WithBatchSize sets how many records go into one classifier call. Values
// below 1 keep the default.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.size = n
		}
	}
}

// WithDelay sets the pause between consecutive batches. It paces calls to
// the external service and has no effect on results.
func WithDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.delay = d
		}
	}
}

func New(classifier Classifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		classifier: classifier,
		size:       DefaultSize,
		delay:      DefaultDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) BatchSize() int {
	return o.size
}

// Plan returns how many batches n records split into.
func Plan(n, size int) int {
	if size < 1 {
		size = DefaultSize
	}
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Steps returns a lazy, single-use sequence over the run. For every batch it
// yields a PhaseStarted step, calls the classifier, then yields a
// PhaseClassified step, and waits the configured delay before the next batch.
// The first error is yielded once and ends the sequence. Stopping the range
// early stops issuing classifier calls.
func (o *Orchestrator) Steps(ctx context.Context, records []domain.Record) iter.Seq2[Step, error] {
	var consumed atomic.Bool
	return func(yield func(Step, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(Step{}, ErrSequenceConsumed)
			return
		}

		total := Plan(len(records), o.size)
		set := domain.NewMatchSet()
		for i := 0; i < total; i++ {
			start := i * o.size
			end := min(start+o.size, len(records))
			chunk := records[start:end]
			progress := domain.Progress{Current: i + 1, Total: total}

			if !yield(Step{Phase: PhaseStarted, Progress: progress, Batch: chunk}, nil) {
				return
			}

			matched, err := o.classifier.Classify(ctx, domain.Titles(chunk))
			if err != nil {
				yield(Step{Progress: progress, Batch: chunk}, fmt.Errorf("batch %d of %d: %w", i+1, total, err))
				return
			}
			set.Add(matched...)

			step := Step{
				Phase:    PhaseClassified,
				Progress: progress,
				Batch:    chunk,
				Matched:  matched,
				Partial:  set.Clone(),
			}
			if !yield(step, nil) {
				return
			}

			if i < total-1 {
				if err := sleep(ctx, o.delay); err != nil {
					yield(Step{Progress: progress}, err)
					return
				}
			}
		}
	}
}

// Run drives Steps to completion. On success the result holds the original
// records whose title was matched, in input order with duplicates kept. Any
// error aborts the run and no partial result is returned.
func (o *Orchestrator) Run(ctx context.Context, records []domain.Record, onProgress func(domain.Progress)) (Result, error) {
	started := time.Now()
	final := domain.NewMatchSet()
	batches := 0
	for step, err := range o.Steps(ctx, records) {
		if err != nil {
			log.Warn().Err(err).Int("records", len(records)).Int("batches_done", batches).Msg("batch run aborted")
			return Result{}, err
		}
		switch step.Phase {
		case PhaseStarted:
			log.Debug().Int("batch", step.Progress.Current).Int("of", step.Progress.Total).Int("size", len(step.Batch)).Msg("batch start")
			if onProgress != nil {
				onProgress(step.Progress)
			}
		case PhaseClassified:
			final = step.Partial
			batches++
		}
	}

	matched := Filter(records, final)
	log.Info().
		Int("records", len(records)).
		Int("batches", batches).
		Int("titles", final.Len()).
		Int("matched", len(matched)).
		Dur("elapsed", time.Since(started)).
		Msg("batch run done")
	return Result{Matched: matched, MatchSet: final, Batches: batches}, nil
}

// Filter keeps records whose title is in set, preserving order and duplicates.
func Filter(records []domain.Record, set domain.MatchSet) []domain.Record {
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if set.Has(r.Title) {
			out = append(out, r)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
