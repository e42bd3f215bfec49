package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
	"github.com/kimhsiao/churchhouse/backend/internal/uuid"
)

// Gateway operation names used by Memory failure injection and hooks.
const (
	OpQueryPage     = "query_page"
	OpCreateRecord  = "create_record"
	OpMutateCounter = "mutate_counter"
	OpDeleteRecord  = "delete_record"
)

// Memory is an in-process document store. It backs tests and offline demos.
type Memory struct {
	mu       sync.Mutex
	records  map[string]Record
	failures map[string][]error
	hooks    map[string]func(ctx context.Context) error
	calls    map[string]int
	now      func() time.Time

	// AckOnly makes MutateCounter return acknowledgements without counter
	// values.
	AckOnly bool
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]Record),
		failures: make(map[string][]error),
		hooks:    make(map[string]func(ctx context.Context) error),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

// Seed inserts records as-is.
func (m *Memory) Seed(records ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if rec.Counters == nil {
			rec.Counters = models.Counters{}
		}
		m.records[rec.ID] = rec
	}
}

// Import stores rec under its own id, replacing any existing record.
func (m *Memory) Import(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = m.now().UnixMilli()
	}
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = rec.CreatedAt
	}
	m.Seed(copyRecord(rec))
	return copyRecord(rec), nil
}

// Get returns a stored record.
func (m *Memory) Get(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

// FailNext queues err to be returned by the next call to op.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// SetHook installs fn to run before op. A hook may block until the test
// releases it; a returned error fails the call.
func (m *Memory) SetHook(op string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		delete(m.hooks, op)
		return
	}
	m.hooks[op] = fn
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Memory) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	hook := m.hooks[op]
	var injected error
	if queue := m.failures[op]; len(queue) > 0 {
		injected = queue[0]
		m.failures[op] = queue[1:]
	}
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	if injected != nil {
		return injected
	}
	return ctx.Err()
}

// QueryPage implements Gateway.
func (m *Memory) QueryPage(ctx context.Context, kind models.Kind, filter models.Filter, cursor models.Cursor, pageSize int) (Page, error) {
	if err := m.enter(ctx, OpQueryPage); err != nil {
		return Page{}, err
	}

	var afterTS int64
	var afterID string
	if !cursor.IsEmpty() {
		ts, id, err := ParseKeysetCursor(cursor)
		if err != nil {
			return Page{}, errors.Wrap(errors.ErrInvalid, "query page", err)
		}
		afterTS, afterID = ts, id
	}

	m.mu.Lock()
	matched := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		if !Matches(rec, kind, filter) {
			continue
		}
		if !cursor.IsEmpty() && !After(rec, afterTS, afterID) {
			continue
		}
		matched = append(matched, copyRecord(rec))
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return Before(matched[i], matched[j]) })

	page := Page{}
	if pageSize > 0 && len(matched) > pageSize {
		matched = matched[:pageSize]
	}
	page.Records = matched
	if pageSize > 0 && len(matched) == pageSize {
		last := matched[len(matched)-1]
		page.NextCursor = KeysetCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// CreateRecord implements Gateway.
func (m *Memory) CreateRecord(ctx context.Context, kind models.Kind, payload Payload) (Record, error) {
	if err := m.enter(ctx, OpCreateRecord); err != nil {
		return Record{}, err
	}

	now := m.now().UnixMilli()
	counters := payload.Counters.Clone()
	rec := Record{
		ID:         uuid.New(),
		Kind:       kind,
		AuthorID:   payload.Author.ID,
		AuthorName: payload.Author.Name,
		Content:    payload.Content.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
		Counters:   counters,
	}

	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()

	return copyRecord(rec), nil
}

// MutateCounter implements Gateway. Counters never drop below zero.
func (m *Memory) MutateCounter(ctx context.Context, id string, counter string, delta int64) (CounterResult, error) {
	if err := m.enter(ctx, OpMutateCounter); err != nil {
		return CounterResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return CounterResult{}, errors.Newf(errors.ErrNotFound, "record %s not found", id)
	}
	if rec.Counters == nil {
		rec.Counters = models.Counters{}
	}
	value := rec.Counters[counter] + delta
	if value < 0 {
		value = 0
	}
	rec.Counters[counter] = value
	rec.UpdatedAt = m.now().UnixMilli()
	m.records[id] = rec

	if m.AckOnly {
		return CounterResult{}, nil
	}
	return CounterResult{Authoritative: Int64(value)}, nil
}

// DeleteRecord implements Gateway.
func (m *Memory) DeleteRecord(ctx context.Context, id string) error {
	if err := m.enter(ctx, OpDeleteRecord); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return errors.Newf(errors.ErrNotFound, "record %s not found", id)
	}
	delete(m.records, id)
	return nil
}

func copyRecord(rec Record) Record {
	rec.Content = rec.Content.Clone()
	rec.Counters = rec.Counters.Clone()
	rec.Hints = rec.Hints.Clone()
	return rec
}
