package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceReport accumulates per-source pipeline counts for one run.
// Unchanged marks a run short-circuited by an ETag match: the feed was not
// re-downloaded and every count stays zero.
type SourceReport struct {
	Fetched    int      `json:"fetched"`
	Normalized int      `json:"normalized"`
	Upserted   int      `json:"upserted"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors"`
	Unchanged  bool     `json:"unchanged,omitempty"`
	ETag       string   `json:"etag,omitempty"`
}

// AddError appends an error message to the report.
func (r *SourceReport) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// WinnerPolicyResult summarizes the cross-source winner policy pass.
type WinnerPolicyResult struct {
	Deduplicated int64 `json:"deduplicated"`
	Deactivated  int64 `json:"deactivated"`
	Winners      int64 `json:"winners"`
}

// RunReport is the structured result of one orchestrator run. RunID
// correlates log lines and ingest_log rows belonging to the same run.
type RunReport struct {
	RunID             string                   `json:"runId"`
	OK                bool                     `json:"ok"`
	TookMS            int64                    `json:"tookMs"`
	TriggeredAt       time.Time                `json:"triggeredAt"`
	Sources           map[Source]*SourceReport `json:"sources"`
	WinnerPolicy      *WinnerPolicyResult      `json:"winnerPolicy,omitempty"`
	WinnerPolicyError string                   `json:"winnerPolicyError,omitempty"`
}

// NewRunReport creates an empty report stamped with the trigger time.
func NewRunReport(at time.Time) *RunReport {
	return &RunReport{
		RunID:       uuid.NewString(),
		OK:          true,
		TriggeredAt: at,
		Sources:     make(map[Source]*SourceReport),
	}
}

// Finalize computes OK and TookMS from the accumulated per-source reports.
func (r *RunReport) Finalize(started time.Time) {
	r.TookMS = time.Since(started).Milliseconds()
	for _, sr := range r.Sources {
		if len(sr.Errors) > 0 {
			r.OK = false
		}
	}
	if r.WinnerPolicyError != "" {
		r.OK = false
	}
}
