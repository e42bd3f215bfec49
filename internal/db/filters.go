package db

import (
	"fmt"
	"strings"

	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// Filter represents a single query filter condition.
type Filter interface {
	// SQL returns the SQL fragment for this filter
	SQL() string

	// Args returns the arguments for this filter
	Args() []interface{}

	// Valid checks if the filter is valid
	Valid() bool
}

// KindFilter restricts rows to one collection kind.
type KindFilter struct {
	Kind models.Kind
}

// Valid checks if the kind is known.
func (f *KindFilter) Valid() bool { return f.Kind.Valid() }

// SQL returns the SQL fragment for kind filtering.
func (f *KindFilter) SQL() string { return "r.kind = ?" }

// Args returns the arguments for kind filtering.
func (f *KindFilter) Args() []interface{} { return []interface{}{string(f.Kind)} }

// FeedFilter applies the audience rules of a post feed type.
type FeedFilter struct {
	Type         string
	FellowshipID string
}

// Valid checks the feed type. A fellowship feed needs a fellowship id.
func (f *FeedFilter) Valid() bool {
	switch f.Type {
	case models.FeedFollowing:
		return true
	case models.FeedFellowship:
		return f.FellowshipID != ""
	}
	return false
}

// SQL returns the SQL fragment for feed filtering.
func (f *FeedFilter) SQL() string {
	if f.Type == models.FeedFellowship {
		return "(r.audience = 'fellowship' AND r.fellowship_id = ?)"
	}
	return "r.audience IN ('public', 'followers')"
}

// Args returns the arguments for feed filtering.
func (f *FeedFilter) Args() []interface{} {
	if f.Type == models.FeedFellowship {
		return []interface{}{f.FellowshipID}
	}
	return nil
}

var equalityColumns = map[string]bool{
	"author_id":     true,
	"fellowship_id": true,
	"category":      true,
	"audience":      true,
	"status":        true,
}

// EqualsFilter matches a whitelisted column against a value.
type EqualsFilter struct {
	Column string
	Value  string
}

// Valid checks the column is filterable and the value is set.
func (f *EqualsFilter) Valid() bool {
	return equalityColumns[f.Column] && f.Value != ""
}

// SQL returns the SQL fragment for equality filtering.
func (f *EqualsFilter) SQL() string { return "r." + f.Column + " = ?" }

// Args returns the arguments for equality filtering.
func (f *EqualsFilter) Args() []interface{} { return []interface{}{f.Value} }

// TagFilter matches a tag or hashtag, case-insensitively.
type TagFilter struct {
	Tag string
}

// Valid checks the tag is non-blank.
func (f *TagFilter) Valid() bool { return strings.TrimSpace(f.Tag) != "" }

// SQL returns the SQL fragment for tag filtering.
func (f *TagFilter) SQL() string {
	return "(LOWER(',' || r.tags || ',') LIKE ? OR LOWER(',' || r.hashtags || ',') LIKE ?)"
}

// Args returns the arguments for tag filtering.
func (f *TagFilter) Args() []interface{} {
	pattern := "%," + strings.ToLower(strings.TrimSpace(f.Tag)) + ",%"
	return []interface{}{pattern, pattern}
}

// LiveFilter keeps only live chapels.
type LiveFilter struct{}

// Valid always holds.
func (f *LiveFilter) Valid() bool { return true }

// SQL returns the SQL fragment for live filtering.
func (f *LiveFilter) SQL() string { return "r.is_live = 1" }

// Args returns no arguments.
func (f *LiveFilter) Args() []interface{} { return nil }

// KeysetFilter resumes a newest-first scan after a (created_at, id) position.
type KeysetFilter struct {
	CreatedAt int64
	ID        string
}

// Valid checks the position is set.
func (f *KeysetFilter) Valid() bool { return f.CreatedAt > 0 && f.ID != "" }

// SQL returns the SQL fragment for keyset pagination.
func (f *KeysetFilter) SQL() string {
	return "(r.created_at < ? OR (r.created_at = ? AND r.id < ?))"
}

// Args returns the arguments for keyset pagination.
func (f *KeysetFilter) Args() []interface{} {
	return []interface{}{f.CreatedAt, f.CreatedAt, f.ID}
}

// FilterBuilder builds SQL filter conditions from multiple filters.
type FilterBuilder struct {
	filters []Filter
}

// NewFilterBuilder creates a new FilterBuilder.
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{filters: make([]Filter, 0)}
}

// Add appends f when it is valid.
func (fb *FilterBuilder) Add(f Filter) *FilterBuilder {
	if f.Valid() {
		fb.filters = append(fb.filters, f)
	}
	return fb
}

// Kind adds a kind filter.
func (fb *FilterBuilder) Kind(kind models.Kind) *FilterBuilder {
	return fb.Add(&KindFilter{Kind: kind})
}

// Equals adds an equality filter.
func (fb *FilterBuilder) Equals(column, value string) *FilterBuilder {
	return fb.Add(&EqualsFilter{Column: column, Value: value})
}

// After adds a keyset position.
func (fb *FilterBuilder) After(createdAt int64, id string) *FilterBuilder {
	return fb.Add(&KeysetFilter{CreatedAt: createdAt, ID: id})
}

// HasFilters returns true if any filters have been added.
func (fb *FilterBuilder) HasFilters() bool {
	return len(fb.filters) > 0
}

// Count returns the number of filters.
func (fb *FilterBuilder) Count() int {
	return len(fb.filters)
}

// Build builds the SQL WHERE clause and returns the arguments.
func (fb *FilterBuilder) Build() (string, []interface{}) {
	if !fb.HasFilters() {
		return "", nil
	}

	var sqlParts []string
	var args []interface{}
	for _, filter := range fb.filters {
		sqlParts = append(sqlParts, filter.SQL())
		args = append(args, filter.Args()...)
	}
	return strings.Join(sqlParts, " AND "), args
}

// String returns a string representation of the filters (for debugging).
func (fb *FilterBuilder) String() string {
	if !fb.HasFilters() {
		return "(no filters)"
	}

	var parts []string
	for _, filter := range fb.filters {
		parts = append(parts, fmt.Sprintf("%T", filter))
	}
	return strings.Join(parts, ", ")
}

// FiltersFor converts a collection filter into a FilterBuilder for kind.
func FiltersFor(kind models.Kind, filter models.Filter) *FilterBuilder {
	fb := NewFilterBuilder().Kind(kind)
	if filter.Type != "" && filter.Type != models.FeedDiscovery {
		fb.Add(&FeedFilter{Type: filter.Type, FellowshipID: filter.FellowshipID})
	}
	fb.Equals("fellowship_id", filter.FellowshipID).
		Equals("author_id", filter.AuthorID).
		Equals("category", filter.Category).
		Equals("audience", filter.Audience).
		Equals("status", filter.Status).
		Add(&TagFilter{Tag: filter.Tag})
	if filter.LiveOnly {
		fb.Add(&LiveFilter{})
	}
	return fb
}

// JoinList stores a string list as a comma-separated column.
func JoinList(values []string) string {
	clean := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			clean = append(clean, v)
		}
	}
	return strings.Join(clean, ",")
}

// SplitList parses a comma-separated column.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
