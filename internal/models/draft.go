package models

import "strings"

// Author identifies the session user creating content.
type Author struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ProfilePic string `json:"profile_pic,omitempty"`
}

// Draft is a caller's request to create an item.
type Draft struct {
	Kind    Kind    `json:"kind"`
	Author  Author  `json:"author"`
	Content Content `json:"content"`
}

// Feed types accepted by Filter.Type.
const (
	FeedDiscovery  = "discovery"
	FeedFollowing  = "following"
	FeedFellowship = "fellowship"
)

// Filter narrows a collection query. The collection core passes it through to
// the gateway untouched.
type Filter struct {
	Type         string `json:"type,omitempty" yaml:"type,omitempty"`
	FellowshipID string `json:"fellowship_id,omitempty" yaml:"fellowship_id,omitempty"`
	AuthorID     string `json:"author_id,omitempty" yaml:"author_id,omitempty"`
	Category     string `json:"category,omitempty" yaml:"category,omitempty"`
	Audience     string `json:"audience,omitempty" yaml:"audience,omitempty"`
	Status       string `json:"status,omitempty" yaml:"status,omitempty"`
	Tag          string `json:"tag,omitempty" yaml:"tag,omitempty"`
	LiveOnly     bool   `json:"live_only,omitempty" yaml:"live_only,omitempty"`
}

// IsZero reports whether the filter selects everything.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Normalize trims whitespace and lower-cases enumerated fields.
func (f Filter) Normalize() Filter {
	f.Type = strings.ToLower(strings.TrimSpace(f.Type))
	f.FellowshipID = strings.TrimSpace(f.FellowshipID)
	f.AuthorID = strings.TrimSpace(f.AuthorID)
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	f.Audience = strings.ToLower(strings.TrimSpace(f.Audience))
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	f.Tag = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f.Tag), "#"))
	return f
}

// Cursor is an opaque continuation token issued by a gateway. The empty
// cursor means "first page" when sent and "no further page" when received.
type Cursor string

// IsEmpty reports whether the cursor carries no position.
func (c Cursor) IsEmpty() bool {
	return c == ""
}
