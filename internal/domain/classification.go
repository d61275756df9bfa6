package domain

import "time"

type RunStatus string

const (
	RunStatusDone  RunStatus = "done"
	RunStatusError RunStatus = "error"
)

type RunSource string

const (
	RunSourceWeb   RunSource = "web"
	RunSourceCLI   RunSource = "cli"
	RunSourceInbox RunSource = "inbox"
)

// RunRecord summarizes one finished classification run. Article records are
// never persisted, only the counts.
type RunRecord struct {
	ID           string    `json:"id"`
	Source       RunSource `json:"source"`
	SourceName   string    `json:"source_name"` // uploaded file name
	SourceRef    string    `json:"source_ref"`  // inbox dedup key, empty otherwise
	LLMProvider  string    `json:"llm_provider"`
	LLMModel     string    `json:"llm_model"`
	TotalRecords int       `json:"total_records"`
	TotalBatches int       `json:"total_batches"`
	MatchedCount int       `json:"matched_count"`
	Status       RunStatus `json:"status"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
