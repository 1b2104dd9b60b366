package model

import "time"

// RunStatus represents the current state of a parse run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusPartial  RunStatus = "partial" // source failed mid-read; records up to the failure were kept
	RunStatusFailed   RunStatus = "failed"
)

// Run represents a single pass over an address file.
type Run struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	SchemaName  string     `json:"schema_name"`
	Verified    bool       `json:"verified"`
	Status      RunStatus  `json:"status"`
	Stats       Stats      `json:"stats"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Stats counts what happened to the lines of a run.
type Stats struct {
	Lines        int `json:"lines"`
	Formatted    int `json:"formatted"`
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	VerifyErrors int `json:"verify_errors"`
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Lines:        s.Lines + o.Lines,
		Formatted:    s.Formatted + o.Formatted,
		Accepted:     s.Accepted + o.Accepted,
		Rejected:     s.Rejected + o.Rejected,
		VerifyErrors: s.VerifyErrors + o.VerifyErrors,
	}
}
