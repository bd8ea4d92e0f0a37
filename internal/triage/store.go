package triage

import "context"

// Store is the persistence interface for triage records.
type Store interface {
	Get(ctx context.Context, id string) (*Record, bool, error)
	Put(ctx context.Context, rec *Record) error
	// ListRecent returns up to limit records, newest first.
	ListRecent(ctx context.Context, limit int) ([]*Record, error)
}

// Cache holds results keyed by normalized symptom text.
type Cache interface {
	Get(key string) (*Result, bool)
	Set(key string, r *Result)
}

// Notifier is told about urgent records.
type Notifier interface {
	Notify(ctx context.Context, rec *Record) error
}
