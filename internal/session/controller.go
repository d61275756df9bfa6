// Package session holds the per-user view state: the loaded file, the
// running analysis and its results.
package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"shenbaosift/internal/batch"
	"shenbaosift/internal/csvcodec"
	"shenbaosift/internal/domain"

	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyRunning    = errors.New("analysis already running")
	ErrNoArticles        = errors.New("no articles to analyze")
	ErrNothingToDownload = errors.New("no results to download")
)

// DownloadName is the file name offered for the CSV export.
const DownloadName = "filtered_supernatural_articles.csv"

type Runner interface {
	Run(ctx context.Context, records []domain.Record, onProgress func(domain.Progress)) (batch.Result, error)
	BatchSize() int
}

// Outcome describes a finished analysis. It is handed to the OnFinish hook.
type Outcome struct {
	SessionID  string
	FileName   string
	Records    []domain.Record
	Result     batch.Result
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

type Snapshot struct {
	State    State           `json:"state"`
	FileName string          `json:"file_name,omitempty"`
	Total    int             `json:"total"`
	Progress domain.Progress `json:"progress"`
	Matched  []domain.Record `json:"matched"`
	Error    string          `json:"error,omitempty"`
}

type Controller struct {
	id       string
	runner   Runner
	onFinish func(Outcome)
	now      func() time.Time

	mu         sync.Mutex
	state      State
	fileName   string
	records    []domain.Record
	progress   domain.Progress
	matched    []domain.Record
	errMsg     string
	done       chan struct{}
	lastActive time.Time
}

type Option func(*Controller)

// WithOnFinish registers a hook called after every analysis, successful or not.
// It runs on the analysis goroutine after the state has been updated.
func WithOnFinish(fn func(Outcome)) Option {
	return func(c *Controller) {
		c.onFinish = fn
	}
}

func WithID(id string) Option {
	return func(c *Controller) {
		c.id = id
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func NewController(runner Runner, opts ...Option) *Controller {
	c := &Controller{
		runner: runner,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastActive = c.now()
	return c
}

func (c *Controller) ID() string {
	return c.id
}

// Load parses an uploaded file and replaces whatever the session held before.
// On a parse failure the session moves to Error with a message for the user.
func (c *Controller) Load(name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	if c.state == Running {
		return ErrAlreadyRunning
	}

	c.clearLocked()
	records, err := csvcodec.Decode(name, data)
	if err != nil {
		c.state = Error
		c.errMsg = domain.UserMessage(err)
		log.Info().Str("session", c.id).Str("file", name).Err(err).Msg("upload rejected")
		return err
	}
	c.state = Ready
	c.fileName = name
	c.records = records
	log.Info().Str("session", c.id).Str("file", name).Int("records", len(records)).Msg("file loaded")
	return nil
}

// Analyze starts a run over the loaded records in the background. It is
// allowed from Ready and from Done, where it starts over from scratch. After
// a failed run the session has to be reset first.
func (c *Controller) Analyze(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()

	switch c.state {
	case Running:
		return ErrAlreadyRunning
	case Ready, Done:
	default:
		return ErrNoArticles
	}
	if len(c.records) == 0 {
		return ErrNoArticles
	}

	records := c.records
	fileName := c.fileName
	done := make(chan struct{})
	c.state = Running
	c.matched = nil
	c.errMsg = ""
	c.progress = domain.Progress{Total: batch.Plan(len(records), c.runner.BatchSize())}
	c.done = done

	go c.run(ctx, fileName, records, done)
	return nil
}

func (c *Controller) run(ctx context.Context, fileName string, records []domain.Record, done chan struct{}) {
	defer close(done)

	started := c.now()
	res, err := c.runner.Run(ctx, records, c.setProgress)
	finished := c.now()

	c.mu.Lock()
	c.progress = domain.Progress{}
	if err != nil {
		c.state = Error
		c.matched = nil
		c.errMsg = domain.UserMessage(err)
	} else {
		c.state = Done
		c.matched = res.Matched
	}
	c.mu.Unlock()

	if err != nil {
		log.Error().Str("session", c.id).Str("file", fileName).Err(err).Msg("analysis failed")
	} else {
		log.Info().Str("session", c.id).Str("file", fileName).Int("matched", len(res.Matched)).Int("records", len(records)).Msg("analysis done")
	}

	if c.onFinish != nil {
		c.onFinish(Outcome{
			SessionID:  c.id,
			FileName:   fileName,
			Records:    records,
			Result:     res,
			Err:        err,
			StartedAt:  started,
			FinishedAt: finished,
		})
	}
}

func (c *Controller) setProgress(p domain.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running {
		c.progress = p
	}
}

// Reset clears the session. A running analysis cannot be interrupted, so
// Reset is refused until it finishes.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	if c.state == Running {
		return ErrAlreadyRunning
	}
	c.clearLocked()
	return nil
}

func (c *Controller) clearLocked() {
	c.state = Empty
	c.fileName = ""
	c.records = nil
	c.progress = domain.Progress{}
	c.matched = nil
	c.errMsg = ""
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	matched := make([]domain.Record, len(c.matched))
	copy(matched, c.matched)
	return Snapshot{
		State:    c.state,
		FileName: c.fileName,
		Total:    len(c.records),
		Progress: c.progress,
		Matched:  matched,
		Error:    c.errMsg,
	}
}

// Download returns the matched records as a UTF-8 CSV with BOM.
func (c *Controller) Download() ([]byte, error) {
	matched, err := c.downloadable()
	if err != nil {
		return nil, err
	}
	return csvcodec.Serialize(matched), nil
}

func (c *Controller) DownloadXLSX() ([]byte, error) {
	matched, err := c.downloadable()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := csvcodec.WriteXLSX(&buf, matched); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Controller) downloadable() ([]domain.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked()
	if c.state != Done || len(c.matched) == 0 {
		return nil, ErrNothingToDownload
	}
	return append([]domain.Record(nil), c.matched...), nil
}

// Wait blocks until the current analysis, including its OnFinish hook, has
// returned. It returns immediately when nothing was started.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) activity() (State, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastActive
}

func (c *Controller) touchLocked() {
	c.lastActive = c.now()
}
