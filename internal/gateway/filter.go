package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// Matches applies filter to a record in memory. Stores without a query
// language (memory, redis) share it; the SQLite store translates the same
// rules into SQL.
func Matches(rec Record, kind models.Kind, filter models.Filter) bool {
	if rec.Kind != kind {
		return false
	}
	c := rec.Content

	switch filter.Type {
	case models.FeedFellowship:
		if c.Audience != "fellowship" || c.FellowshipID != filter.FellowshipID {
			return false
		}
	case models.FeedFollowing:
		if c.Audience != "public" && c.Audience != "followers" {
			return false
		}
	}

	if filter.FellowshipID != "" && c.FellowshipID != filter.FellowshipID {
		return false
	}
	if filter.AuthorID != "" && rec.AuthorID != filter.AuthorID {
		return false
	}
	if filter.Category != "" && c.Category != filter.Category {
		return false
	}
	if filter.Audience != "" && c.Audience != filter.Audience {
		return false
	}
	if filter.Status != "" && c.Status != filter.Status {
		return false
	}
	if filter.LiveOnly && !c.Live {
		return false
	}
	if filter.Tag != "" && !containsFold(c.Tags, filter.Tag) && !containsFold(c.Hashtags, filter.Tag) {
		return false
	}
	return true
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// Before reports whether a sorts ahead of b in feed order (newest first, id
// descending on ties).
func Before(a, b Record) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

// KeysetCursor encodes a (createdAt, id) position.
func KeysetCursor(createdAt int64, id string) models.Cursor {
	return models.Cursor(strconv.FormatInt(createdAt, 10) + ":" + id)
}

// ParseKeysetCursor decodes a cursor built by KeysetCursor.
func ParseKeysetCursor(c models.Cursor) (int64, string, error) {
	raw := string(c)
	ts, id, ok := strings.Cut(raw, ":")
	if !ok || id == "" {
		return 0, "", fmt.Errorf("malformed cursor %q", raw)
	}
	createdAt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed cursor %q: %w", raw, err)
	}
	return createdAt, id, nil
}

// After reports whether rec sorts strictly after the cursor position.
func After(rec Record, createdAt int64, id string) bool {
	return Before(Record{CreatedAt: createdAt, ID: id}, rec)
}
