// Package gateway defines the contract between the collection core and the
// backing document store, plus decorators shared by every store.
package gateway

import (
	"context"

	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// Record is a document as returned by the store.
type Record struct {
	ID         string          `json:"id"`
	Kind       models.Kind     `json:"kind"`
	AuthorID   string          `json:"author_id"`
	AuthorName string          `json:"author_name"`
	Content    models.Content  `json:"content"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
	Counters   models.Counters `json:"counters"`

	// Hints seeds client flags (e.g. "liked") when the store knows them.
	Hints models.Flags `json:"hints,omitempty"`
}

// ToItem converts the record into a collection item.
func (r Record) ToItem() *models.CollectionItem {
	item := &models.CollectionItem{
		ID:         r.ID,
		Kind:       r.Kind,
		AuthorID:   r.AuthorID,
		AuthorName: r.AuthorName,
		Content:    r.Content.Clone(),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Counters:   r.Counters.Clone(),
		LocalFlags: r.Hints.Clone(),
	}
	return item
}

// Page is one slice of a cursor-paged query.
type Page struct {
	Records    []Record
	NextCursor models.Cursor
}

// Payload is the body of a create call.
type Payload struct {
	Author   models.Author
	Content  models.Content
	Counters models.Counters
}

// CounterResult is the outcome of a counter mutation. Authoritative is nil
// when the store only acknowledges the write.
type CounterResult struct {
	Authoritative *int64
}

// Gateway performs paged queries and single-document mutations. It must be
// safe for concurrent use by many collections.
type Gateway interface {
	// QueryPage returns up to pageSize records after cursor, newest first.
	QueryPage(ctx context.Context, kind models.Kind, filter models.Filter, cursor models.Cursor, pageSize int) (Page, error)

	// CreateRecord stores a new document and returns it with its server id.
	CreateRecord(ctx context.Context, kind models.Kind, payload Payload) (Record, error)

	// MutateCounter adds delta to a named counter.
	MutateCounter(ctx context.Context, id string, counter string, delta int64) (CounterResult, error)

	// DeleteRecord removes a document.
	DeleteRecord(ctx context.Context, id string) error
}

// Int64 returns a pointer to v, for building CounterResults.
func Int64(v int64) *int64 {
	return &v
}
