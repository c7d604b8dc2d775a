// Package audit keeps a journal of destructive panel actions: single and
// bulk deletes, restores and re-creations. Entries are written after the
// case service answered, whatever the outcome.
package audit

import (
	"context"
	"time"
)

// Action names a journaled operation.
type Action string

// Journaled actions.
const (
	ActionDelete     Action = "delete"
	ActionBulkDelete Action = "bulk_delete"
	ActionRestore    Action = "restore"
	ActionRecreate   Action = "recreate"
)

// Outcome is the result of a journaled operation.
type Outcome string

// Outcomes.
const (
	OutcomeOK          Outcome = "ok"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnsupported Outcome = "unsupported"
)

// Entry is one journal line.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Subject   string    `json:"subject,omitempty"`
	Action    Action    `json:"action"`
	CaseID    int64     `json:"case_id"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	SessionID string
	CaseID    int64
	Limit     int
}

// Store persists journal entries.
type Store interface {
	// Append writes a single entry.
	Append(ctx context.Context, e Entry) error

	// List returns matching entries, newest first.
	List(ctx context.Context, f Filter) ([]Entry, error)
}

const defaultListLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return defaultListLimit
	}
	return f.Limit
}
