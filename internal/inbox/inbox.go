// Package inbox classifies files dropped into a directory on a schedule and
// writes the matched articles into the configured output directory.
package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"shenbaosift/internal/batch"
	"shenbaosift/internal/csvcodec"
	"shenbaosift/internal/domain"
	"shenbaosift/internal/storage/sqlite"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const matchedSuffix = ".matched.csv"

type Runner interface {
	Run(ctx context.Context, records []domain.Record, onProgress func(domain.Progress)) (batch.Result, error)
}

type Options struct {
	Dir       string
	OutputDir string
	DB        *sql.DB
	Runner    Runner
	Provider  string
	Model     string
	// OnRun is called after every attempted file with the run summary and the
	// matched records (nil on failure).
	OnRun func(ctx context.Context, run domain.RunRecord, matched []domain.Record)
}

// ScanResult tracks separate counters for each outcome of a scan.
type ScanResult struct {
	Found       int
	Processed   int
	AlreadyDone int
	Rejected    int
	Failed      int
	Errors      []string
}

type Scanner struct {
	opts Options
	now  func() time.Time

	scanMu sync.Mutex // one scan at a time across cron and watcher

	mu       sync.Mutex
	rejected map[string]bool // refs of files that could not be parsed
}

func New(opts Options) *Scanner {
	return &Scanner{
		opts:     opts,
		now:      time.Now,
		rejected: make(map[string]bool),
	}
}

// Scan processes every .csv or .xlsx file in the inbox directory that has no
// successful run recorded for its current size and modification time.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	var result ScanResult
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		return result, fmt.Errorf("reading inbox: %w", err)
	}
	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return result, fmt.Errorf("creating output dir: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if entry.IsDir() || !isInput(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		result.Found++

		path := filepath.Join(s.opts.Dir, entry.Name())
		ref := SourceRef(path, info)
		if s.isRejected(ref) {
			result.Rejected++
			continue
		}
		exists, err := sqlite.SourceRefExists(s.opts.DB, ref)
		if err != nil {
			log.Error().Err(err).Str("ref", ref).Msg("checking inbox source ref")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		if exists {
			result.AlreadyDone++
			continue
		}

		switch err := s.processFile(ctx, path, ref); {
		case err == nil:
			result.Processed++
		case isParseError(err):
			s.reject(ref)
			result.Rejected++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", entry.Name(), domain.UserMessage(err)))
		default:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Name(), err))
		}
	}
	return result, nil
}

func (s *Scanner) processFile(ctx context.Context, path, ref string) error {
	name := filepath.Base(path)
	started := s.now()
	run := domain.RunRecord{
		ID:          uuid.NewString(),
		Source:      domain.RunSourceInbox,
		SourceName:  name,
		SourceRef:   ref,
		LLMProvider: s.opts.Provider,
		LLMModel:    s.opts.Model,
		StartedAt:   started,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	records, err := csvcodec.Decode(name, data)
	if err != nil {
		s.finish(ctx, run, nil, err)
		return err
	}
	run.TotalRecords = len(records)

	res, err := s.opts.Runner.Run(ctx, records, nil)
	run.TotalBatches = res.Batches
	if err != nil {
		s.finish(ctx, run, nil, err)
		return err
	}

	out := filepath.Join(s.opts.OutputDir, MatchedName(name))
	if err := writeAtomic(out, res.Matched); err != nil {
		s.finish(ctx, run, nil, err)
		return err
	}
	run.MatchedCount = len(res.Matched)
	s.finish(ctx, run, res.Matched, nil)
	log.Info().Str("file", name).Str("output", out).Int("records", len(records)).Int("matched", len(res.Matched)).Msg("inbox file classified")
	return nil
}

func (s *Scanner) finish(ctx context.Context, run domain.RunRecord, matched []domain.Record, err error) {
	run.FinishedAt = s.now()
	run.Status = domain.RunStatusDone
	if err != nil {
		run.Status = domain.RunStatusError
		run.Error = domain.UserMessage(err)
		log.Error().Err(err).Str("file", run.SourceName).Msg("inbox file failed")
	}
	if s.opts.OnRun != nil {
		s.opts.OnRun(ctx, run, matched)
	}
}

// Schedule registers a scan on c using a standard cron expression or a
// descriptor such as "@every 5m".
func (s *Scanner) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		result, err := s.Scan(ctx)
		if err != nil {
			log.Error().Err(err).Str("dir", s.opts.Dir).Msg("inbox scan failed")
			return
		}
		if result.Found > 0 {
			log.Info().Msg(FormatScanSummary(result))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("invalid inbox_schedule '%s': %w", spec, err)
	}
	log.Info().Str("dir", s.opts.Dir).Str("schedule", spec).Msg("inbox scan scheduled")
	return id, nil
}

// FormatScanSummary returns a human-readable summary of a ScanResult.
func FormatScanSummary(r ScanResult) string {
	if r.Found == 0 {
		return "inbox: no input files"
	}
	var parts []string
	parts = append(parts, fmt.Sprintf("%d processed", r.Processed))
	if r.AlreadyDone > 0 {
		parts = append(parts, fmt.Sprintf("%d already done", r.AlreadyDone))
	}
	if r.Rejected > 0 {
		parts = append(parts, fmt.Sprintf("%d rejected", r.Rejected))
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	msg := fmt.Sprintf("inbox: found %d files: %s", r.Found, strings.Join(parts, ", "))
	if len(r.Errors) > 0 {
		msg += fmt.Sprintf(" (errors: %s)", strings.Join(r.Errors, "; "))
	}
	return msg
}

// SourceRef identifies one version of an inbox file.
func SourceRef(path string, info os.FileInfo) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fmt.Sprintf("%s@%d@%d", path, info.Size(), info.ModTime().Unix())
}

// MatchedName returns the output file name for an input file name.
func MatchedName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + matchedSuffix
}

func isInput(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, ".") || strings.HasSuffix(lower, matchedSuffix) {
		return false
	}
	switch filepath.Ext(lower) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

func isParseError(err error) bool {
	return err != nil && (errors.Is(err, domain.ErrEmptyInput) || errors.Is(err, domain.ErrNoRecordsFound))
}

func (s *Scanner) isRejected(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected[ref]
}

func (s *Scanner) reject(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[ref] = true
}

func writeAtomic(path string, records []domain.Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".matched-*")
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := csvcodec.Write(tmp, records); err != nil {
		tmp.Close()
		return fmt.Errorf("writing output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("moving output file into place: %w", err)
	}
	return nil
}
