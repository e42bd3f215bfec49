// Package models provides data model definitions for the ChurchHouse core.
package models

import (
	"time"
)

// Kind identifies which social collection an item belongs to.
type Kind string

const (
	KindPost       Kind = "post"
	KindPrayer     Kind = "prayer"
	KindChapel     Kind = "chapel"
	KindFellowship Kind = "fellowship"
)

// Kinds lists every collection kind.
func Kinds() []Kind {
	return []Kind{KindPost, KindPrayer, KindChapel, KindFellowship}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPost, KindPrayer, KindChapel, KindFellowship:
		return true
	}
	return false
}

// Counters maps a counter name to a non-negative value.
type Counters map[string]int64

// Clone returns an independent copy.
func (c Counters) Clone() Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Flags maps a client-side flag name (e.g. "liked") to its value.
type Flags map[string]bool

// Clone returns an independent copy.
func (f Flags) Clone() Flags {
	out := make(Flags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Content is the kind-specific body of an item. Fields that do not apply to a
// kind stay zero.
type Content struct {
	Title           string   `json:"title,omitempty"`
	Text            string   `json:"text,omitempty"`
	Category        string   `json:"category,omitempty"`
	Audience        string   `json:"audience,omitempty"`
	FellowshipID    string   `json:"fellowship_id,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Hashtags        []string `json:"hashtags,omitempty"`
	Mentions        []string `json:"mentions,omitempty"`
	Anonymous       bool     `json:"anonymous,omitempty"`
	Urgent          bool     `json:"urgent,omitempty"`
	Private         bool     `json:"private,omitempty"`
	MaxParticipants int      `json:"max_participants,omitempty"`
	Status          string   `json:"status,omitempty"`
	Live            bool     `json:"live,omitempty"`
}

// Clone returns a copy that shares no slices with c.
func (c Content) Clone() Content {
	out := c
	out.Tags = append([]string(nil), c.Tags...)
	out.Hashtags = append([]string(nil), c.Hashtags...)
	out.Mentions = append([]string(nil), c.Mentions...)
	return out
}

// CollectionItem is one social entity held in a collection.
type CollectionItem struct {
	ID         string   `json:"id"`
	Kind       Kind     `json:"kind"`
	AuthorID   string   `json:"author_id"`
	AuthorName string   `json:"author_name"`
	Content    Content  `json:"content"`
	CreatedAt  int64    `json:"created_at"` // unix milliseconds
	UpdatedAt  int64    `json:"updated_at"`
	Counters   Counters `json:"counters"`
	LocalFlags Flags    `json:"local_flags,omitempty"`

	// Local is set while a client-created item awaits confirmation.
	Local bool `json:"local,omitempty"`
}

// Clone returns a deep copy.
func (i *CollectionItem) Clone() *CollectionItem {
	if i == nil {
		return nil
	}
	out := *i
	out.Content = i.Content.Clone()
	out.Counters = i.Counters.Clone()
	out.LocalFlags = i.LocalFlags.Clone()
	return &out
}

// Counter returns a counter value, zero when absent.
func (i *CollectionItem) Counter(name string) int64 {
	return i.Counters[name]
}

// Flag returns a local flag value, false when absent.
func (i *CollectionItem) Flag(name string) bool {
	return i.LocalFlags[name]
}

// IsOwnedBy reports whether userID authored the item. An empty user id owns
// nothing.
func (i *CollectionItem) IsOwnedBy(userID string) bool {
	return userID != "" && i.AuthorID == userID
}

// CreatedAtTime returns CreatedAt as time.Time.
func (i *CollectionItem) CreatedAtTime() time.Time {
	return time.UnixMilli(i.CreatedAt)
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (i *CollectionItem) UpdatedAtTime() time.Time {
	return time.UnixMilli(i.UpdatedAt)
}
