package collection

import (
	"time"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// Snapshot is a deep copy of a collection's observable state.
type Snapshot struct {
	ViewID           string                   `json:"view_id"`
	Kind             models.Kind              `json:"kind"`
	Items            []*models.CollectionItem `json:"items"`
	Cursor           models.Cursor            `json:"cursor,omitempty"`
	Exhausted        bool                     `json:"exhausted"`
	Loaded           bool                     `json:"loaded"`
	IsLoadingInitial bool                     `json:"is_loading_initial"`
	IsLoadingMore    bool                     `json:"is_loading_more"`
	IsRefreshing     bool                     `json:"is_refreshing"`
	LastError        *errors.AppError         `json:"-"`
	Generation       uint64                   `json:"generation"`
	Filter           models.Filter            `json:"filter"`
	PendingCount     int                      `json:"pending_count"`
	Released         bool                     `json:"released,omitempty"`
}

// HasMore reports whether LoadMore could fetch another page.
func (s Snapshot) HasMore() bool {
	return s.Loaded && !s.Exhausted && len(s.Items) > 0
}

// IsLoading reports whether any fetch is in flight.
func (s Snapshot) IsLoading() bool {
	return s.IsLoadingInitial || s.IsLoadingMore || s.IsRefreshing
}

// Mine returns the items authored by userID.
func (s Snapshot) Mine(userID string) []*models.CollectionItem {
	var out []*models.CollectionItem
	for _, item := range s.Items {
		if item.IsOwnedBy(userID) {
			out = append(out, item)
		}
	}
	return out
}

// Find returns the item with id, or nil.
func (s Snapshot) Find(id string) *models.CollectionItem {
	for _, item := range s.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// EventType names a state change.
type EventType string

const (
	EventLoading          EventType = "loading"
	EventLoaded           EventType = "loaded"
	EventAppended         EventType = "appended"
	EventFetchFailed      EventType = "fetch_failed"
	EventItemCreated      EventType = "item_created"
	EventItemConfirmed    EventType = "item_confirmed"
	EventItemDropped      EventType = "item_dropped"
	EventItemRemoved      EventType = "item_removed"
	EventItemRestored     EventType = "item_restored"
	EventMutationApplied  EventType = "mutation_applied"
	EventMutationSettled  EventType = "mutation_settled"
	EventMutationReverted EventType = "mutation_reverted"
	EventErrorDismissed   EventType = "error_dismissed"
	EventReleased         EventType = "released"
)

// Event is published to subscribers after every state change.
type Event struct {
	ViewID     string      `json:"view_id"`
	Kind       models.Kind `json:"kind"`
	Type       EventType   `json:"type"`
	ItemID     string      `json:"item_id,omitempty"`
	Generation uint64      `json:"generation"`
	At         time.Time   `json:"at"`
}
