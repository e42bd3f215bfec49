package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

func TestFiltersForSkipsInvalid(t *testing.T) {
	fb := FiltersFor(models.KindPost, models.Filter{Type: models.FeedFellowship})
	// fellowship feed without an id is dropped
	assert.Equal(t, 1, fb.Count())

	sql, args := fb.Build()
	assert.Equal(t, "r.kind = ?", sql)
	assert.Equal(t, []interface{}{"post"}, args)
}

func TestFiltersForCombines(t *testing.T) {
	fb := FiltersFor(models.KindChapel, models.Filter{
		AuthorID: "u1",
		Category: "worship",
		Tag:      "Youth",
		LiveOnly: true,
	})
	sql, args := fb.Build()
	assert.Contains(t, sql, "r.author_id = ?")
	assert.Contains(t, sql, "r.category = ?")
	assert.Contains(t, sql, "r.is_live = 1")
	assert.Equal(t, []interface{}{"chapel", "u1", "worship", "%,youth,%", "%,youth,%"}, args)
	assert.Equal(t, "*db.KindFilter, *db.EqualsFilter, *db.EqualsFilter, *db.TagFilter, *db.LiveFilter", fb.String())
}

func TestEqualsFilterRejectsUnknownColumn(t *testing.T) {
	f := &EqualsFilter{Column: "id; DROP TABLE records", Value: "x"}
	assert.False(t, f.Valid())
	assert.False(t, (&EqualsFilter{Column: "status", Value: ""}).Valid())
}

func TestKeysetFilter(t *testing.T) {
	fb := NewFilterBuilder().After(10, "b")
	sql, args := fb.Build()
	assert.Equal(t, "(r.created_at < ? OR (r.created_at = ? AND r.id < ?))", sql)
	assert.Equal(t, []interface{}{int64(10), int64(10), "b"}, args)

	assert.False(t, NewFilterBuilder().After(0, "").HasFilters())
}

func TestListColumns(t *testing.T) {
	assert.Equal(t, "a,b", JoinList([]string{" a ", "", "b"}))
	assert.Equal(t, []string{"a", "b"}, SplitList("a, b,"))
	assert.Nil(t, SplitList(""))
}
