// Package storage defines the persistence interface for execution history.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL.
// History is an optional audit trail: the sandbox itself never reads it.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ExecutionRecord is one sandbox evaluation as persisted.
type ExecutionRecord struct {
	ID         uuid.UUID `json:"id"`
	SessionID  string    `json:"session_id"`
	Code       string    `json:"code"`
	Output     string    `json:"output"`
	Errors     string    `json:"errors,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Truncated  bool      `json:"truncated"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExecutionStore persists and queries execution records.
type ExecutionStore interface {
	Save(ctx context.Context, rec *ExecutionRecord) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]ExecutionRecord, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the unified persistence interface. Both backends implement it.
type Store interface {
	Executions() ExecutionStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}
