// Package storage persists transcripts of streamed assistant messages.
package storage

import (
	"context"
)

// Driver defines the interface for persisting and retrieving transcripts in a
// storage backend.
type Driver interface {
	// Put stores a transcript. Returns true if the transcript was newly
	// inserted, false if one with the same ID already exists, in which case
	// Put is a no-op.
	Put(ctx context.Context, t *Transcript) (bool, error)

	// Get retrieves a transcript by its message ID.
	Get(ctx context.Context, id string) (*Transcript, error)

	// List returns transcripts, most recently completed first.
	List(ctx context.Context, opts ListOptions) ([]*Transcript, error)

	// Close closes the store and releases any resources.
	Close() error
}

// ListOptions filters List.
type ListOptions struct {
	// Limit caps the number of results. Zero means no limit.
	Limit int

	// Provider keeps only transcripts from this provider when set.
	Provider string
}
