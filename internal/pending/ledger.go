// Package pending tracks optimistic mutations that have been applied locally
// and are waiting on the store.
package pending

import (
	"sort"
	"sync"
	"time"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/logging"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
	"github.com/kimhsiao/churchhouse/backend/internal/uuid"
)

// Ledger holds at most one pending mutation per item and interaction (or per
// item for create/delete). It is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	byID    map[string]*models.PendingMutation
	byKey   map[string]string
	maxSize int

	completed int
	failed    int
	rejected  int

	now func() time.Time
}

// NewLedger creates a ledger. maxSize <= 0 means unbounded.
func NewLedger(maxSize int) *Ledger {
	return &Ledger{
		byID:    make(map[string]*models.PendingMutation),
		byKey:   make(map[string]string),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Begin records m. A second mutation with the same key is rejected with
// MUTATION_PENDING; the returned copy carries the assigned id.
func (l *Ledger) Begin(m models.PendingMutation) (*models.PendingMutation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := m.Key()
	if _, busy := l.byKey[key]; busy {
		l.rejected++
		return nil, errors.Newf(errors.ErrMutationPending, "a %s mutation is already pending for %s", describe(m), m.ItemID)
	}
	if l.maxSize > 0 && len(l.byID) >= l.maxSize {
		l.rejected++
		return nil, errors.Newf(errors.ErrMutationPending, "too many pending mutations (max %d)", l.maxSize)
	}

	if m.ID == "" {
		m.ID = uuid.NewScoped("mut")
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = l.now().UnixMilli()
	}
	stored := m
	l.byID[m.ID] = &stored
	l.byKey[key] = m.ID

	logging.Debug("Pending mutation recorded", map[string]interface{}{
		"mutation_id": m.ID,
		"item_id":     m.ItemID,
		"class":       string(m.Class),
		"interaction": string(m.Interaction),
	})

	out := stored
	return &out, nil
}

func describe(m models.PendingMutation) string {
	if m.Interaction != "" {
		return string(m.Interaction)
	}
	return string(m.Class)
}

func (l *Ledger) remove(id string) (*models.PendingMutation, error) {
	m, ok := l.byID[id]
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "pending mutation %s not found", id)
	}
	delete(l.byID, id)
	delete(l.byKey, m.Key())
	return m, nil
}

// Complete removes a mutation the store confirmed.
func (l *Ledger) Complete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.remove(id)
	if err != nil {
		return err
	}
	l.completed++
	logging.Debug("Pending mutation completed", map[string]interface{}{
		"mutation_id": id,
		"item_id":     m.ItemID,
	})
	return nil
}

// Fail removes a mutation the store rejected. The caller rolls it back.
func (l *Ledger) Fail(id string, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.remove(id)
	if err != nil {
		return err
	}
	l.failed++
	logging.Warn("Pending mutation failed", map[string]interface{}{
		"mutation_id": id,
		"item_id":     m.ItemID,
		"class":       string(m.Class),
		"error":       errString(cause),
	})
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Pending reports whether a mutation with key is in flight.
func (l *Ledger) Pending(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byKey[key]
	return ok
}

// Get returns a copy of a pending mutation.
func (l *Ledger) Get(id string) (*models.PendingMutation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.byID[id]
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "pending mutation %s not found", id)
	}
	out := *m
	return &out, nil
}

// List returns copies of every pending mutation, oldest first.
func (l *Ledger) List() []*models.PendingMutation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	items := make([]*models.PendingMutation, 0, len(l.byID))
	for _, m := range l.byID {
		out := *m
		items = append(items, &out)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt < items[j].CreatedAt
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// Size returns the number of pending mutations.
func (l *Ledger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

// Clear drops every pending mutation without resolving it.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.byID = make(map[string]*models.PendingMutation)
	l.byKey = make(map[string]string)
}

// GetStats returns ledger statistics.
func (l *Ledger) GetStats() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return map[string]int{
		"pending":   len(l.byID),
		"completed": l.completed,
		"failed":    l.failed,
		"rejected":  l.rejected,
	}
}
