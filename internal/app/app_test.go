package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shenbaosift/internal/batch"
	"shenbaosift/internal/csvcodec"
	"shenbaosift/internal/domain"
	"shenbaosift/internal/integrations/llm"
	"shenbaosift/internal/session"
	"shenbaosift/internal/storage/sqlite"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "Title,Author,日期\n狐女报恩,佚名,1880-01-01\n京报,佚名,1880-01-02\n怨鬼索命,佚名,1880-01-03"

// setOfflineEnv points configuration at a temp dir and the keyword provider
// so commands run without network access.
func setOfflineEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("LLM_PROVIDER", "keyword")
	t.Setenv("LLM_BATCH_SIZE", "2")
	t.Setenv("LLM_BATCH_DELAY_MS", "1")
	t.Setenv("DB_PATH", filepath.Join(dir, "runs.db"))
	t.Setenv("OUTPUT_DIR", filepath.Join(dir, "results"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("INBOX_DIR", "")
	return dir
}

func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestClassifyToStdout(t *testing.T) {
	dir := setOfflineEnv(t)
	in := filepath.Join(dir, "articles.csv")
	require.NoError(t, os.WriteFile(in, []byte(sampleCSV), 0o644))

	stdout, stderr, err := runCmd(t, "classify", in)
	require.NoError(t, err)
	assert.Equal(t,
		csvcodec.BOM+"Title,Author,日期\n\"狐女报恩\",\"佚名\",\"1880-01-01\"\n\"怨鬼索命\",\"佚名\",\"1880-01-03\"\n",
		stdout)
	assert.Contains(t, stderr, "(1 / 2批次)")
	assert.Contains(t, stderr, "(2 / 2批次)")
	assert.Contains(t, stderr, "从 3 篇文章中筛选出 2 篇")

	db, err := sqlite.InitDB(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer db.Close()
	runs, err := sqlite.ListRuns(db, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunSourceCLI, runs[0].Source)
	assert.Equal(t, "articles.csv", runs[0].SourceName)
	assert.Equal(t, "keyword", runs[0].LLMProvider)
	assert.Equal(t, 2, runs[0].TotalBatches)
	assert.Equal(t, 2, runs[0].MatchedCount)
}

func TestClassifyToFiles(t *testing.T) {
	dir := setOfflineEnv(t)
	in := filepath.Join(dir, "articles.csv")
	require.NoError(t, os.WriteFile(in, []byte(sampleCSV), 0o644))
	out := filepath.Join(dir, "out.csv")
	xlsx := filepath.Join(dir, "out.xlsx")

	stdout, _, err := runCmd(t, "classify", "-q", "-o", out, "--xlsx", xlsx, in)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	fromCSV, err := csvcodec.Parse(string(data))
	require.NoError(t, err)

	f, err := os.Open(xlsx)
	require.NoError(t, err)
	defer f.Close()
	fromXLSX, err := csvcodec.ParseXLSX(f)
	require.NoError(t, err)
	assert.Equal(t, fromCSV, fromXLSX)
	assert.Len(t, fromCSV, 2)
}

func TestClassifyRejectsEmptyFile(t *testing.T) {
	dir := setOfflineEnv(t)
	in := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(in, []byte("Title,Author,日期\n"), 0o644))

	_, _, err := runCmd(t, "classify", in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not find any articles")
}

func TestClassifyNeedsConfig(t *testing.T) {
	setOfflineEnv(t)
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")

	_, _, err := runCmd(t, "classify", "whatever.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini_api_key is required")
}

func TestRunsCommand(t *testing.T) {
	dir := setOfflineEnv(t)
	in := filepath.Join(dir, "articles.csv")
	require.NoError(t, os.WriteFile(in, []byte(sampleCSV), 0o644))
	_, _, err := runCmd(t, "classify", "-q", in)
	require.NoError(t, err)

	stdout, _, err := runCmd(t, "runs", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, stdout, "articles.csv")
	assert.Contains(t, stdout, "keyword/theme-characters")
	assert.Contains(t, stdout, "1 runs (0 failed), 3 articles, 2 matched")
}

type fakeNotifier struct {
	runs    []domain.RunRecord
	matched [][]domain.Record
	err     error
}

func (f *fakeNotifier) Notify(ctx context.Context, run domain.RunRecord, matched []domain.Record) error {
	f.runs = append(f.runs, run)
	f.matched = append(f.matched, matched)
	return f.err
}

func TestRecorderStoresAndNotifies(t *testing.T) {
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()
	n := &fakeNotifier{err: errors.New("slack down")}
	r := newRecorder(db, n, "gemini", "gemini-2.5-flash")

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	matched := []domain.Record{{Title: "狐女报恩"}}
	r.Record(context.Background(), domain.RunRecord{
		Source: domain.RunSourceWeb, SourceName: "a.csv", Status: domain.RunStatusDone,
		MatchedCount: 1, StartedAt: start, FinishedAt: start.Add(time.Second),
	}, matched)

	require.Len(t, n.runs, 1)
	assert.NotEmpty(t, n.runs[0].ID)
	assert.Equal(t, "gemini", n.runs[0].LLMProvider)
	assert.Equal(t, matched, n.matched[0])

	stored, err := sqlite.GetRunByID(db, n.runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", stored.LLMModel)
}

func TestRunFromOutcome(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ok := session.Outcome{
		FileName:   "a.csv",
		Records:    make([]domain.Record, 3),
		Result:     batch.Result{Matched: make([]domain.Record, 1), Batches: 1},
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}
	run := runFromOutcome(ok)
	assert.Equal(t, domain.RunStatusDone, run.Status)
	assert.Equal(t, domain.RunSourceWeb, run.Source)
	assert.Equal(t, 3, run.TotalRecords)
	assert.Equal(t, 1, run.MatchedCount)

	failed := ok
	failed.Result = batch.Result{}
	failed.Err = domain.NewClassificationError("gemini", errors.New("quota"))
	run = runFromOutcome(failed)
	assert.Equal(t, domain.RunStatusError, run.Status)
	assert.Equal(t, "classification failed (gemini): quota", run.Error)
	assert.Zero(t, run.MatchedCount)
}

func TestServeStopsOnCancel(t *testing.T) {
	dir := setOfflineEnv(t)
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("INBOX_DIR", filepath.Join(dir, "inbox"))

	ctx, cancel := context.WithCancel(context.Background())
	e, err := setup(ctx, &rootOptions{logOut: io.Discard})
	require.NoError(t, err)
	defer e.Close()

	done := make(chan error, 1)
	go func() { done <- serve(ctx, e) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.DirExists(t, filepath.Join(dir, "inbox"))
}

type countingClassifier struct {
	llm.Func
	usage llm.Usage
}

func (c countingClassifier) Usage() llm.Usage { return c.usage }

func TestLogUsage(t *testing.T) {
	var buf bytes.Buffer
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	logUsage(countingClassifier{
		Func:  llm.Static(),
		usage: llm.Usage{InputTokens: 120, OutputTokens: 30, CacheReadInputTokens: 80},
	}, "classify token usage")
	out := buf.String()
	assert.Contains(t, out, `"tokens_in":120`)
	assert.Contains(t, out, `"tokens_cache_read":80`)
	assert.Contains(t, out, `"tokens_total":150`)
	assert.Contains(t, out, "classify token usage")

	buf.Reset()
	logUsage(llm.KeywordClassifier{}, "classify token usage")
	assert.Empty(t, buf.String())
}
