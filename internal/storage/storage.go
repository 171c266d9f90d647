package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no execution matches an id or prefix.
	ErrNotFound = errors.New("execution not found")
	// ErrAmbiguous is returned when an id prefix matches more than one execution.
	ErrAmbiguous = errors.New("ambiguous execution prefix")
)

// Execution is the ledger entry for one handled submission. It records
// metadata only; code and program output are never stored.
type Execution struct {
	ID         string    `json:"id"`
	Language   string    `json:"language"`
	Mode       string    `json:"mode"`
	Rubric     string    `json:"rubric,omitempty"`
	ExitStatus string    `json:"exit_status"`
	HTTPStatus int       `json:"http_status"`
	DurationMs int64     `json:"duration_ms"`
	Score      *float64  `json:"score,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExecutionListOptions controls filtering and pagination for ListExecutions.
type ExecutionListOptions struct {
	ExitStatus string
	Mode       string
	Limit      int
	Offset     int
}

// StatusCount is one row of a Summary.
type StatusCount struct {
	ExitStatus string `json:"exit_status"`
	Count      int64  `json:"count"`
}

// Store is the persistence interface for the execution ledger.
type Store interface {
	// RecordExecution inserts an entry. The ID field must be set by the caller.
	RecordExecution(ctx context.Context, e *Execution) error

	// GetExecution returns an entry by ID or ID prefix.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// ListExecutions returns entries ordered by created_at descending.
	ListExecutions(ctx context.Context, opts ExecutionListOptions) ([]Execution, error)

	// Summary counts entries per exit status.
	Summary(ctx context.Context) ([]StatusCount, error)

	// Prune deletes entries created before the cutoff and reports how many.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close releases resources.
	Close() error
}
