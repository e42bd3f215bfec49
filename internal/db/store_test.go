package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/gateway"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	s := NewStore(database.DB)
	t.Cleanup(func() { s.Close() })
	return s
}

func importPosts(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Import(context.Background(), gateway.Record{
			ID:        string(rune('a' + i)),
			Kind:      models.KindPost,
			AuthorID:  "u1",
			Content:   models.Content{Text: "hello", Audience: "public", Hashtags: []string{"grace"}},
			CreatedAt: int64(1000 + i),
			Counters:  models.Counters{"likes": int64(i)},
		})
		require.NoError(t, err)
	}
}

func TestStoreQueryPageKeyset(t *testing.T) {
	s := newTestStore(t)
	importPosts(t, s, 5)
	ctx := context.Background()

	first, err := s.QueryPage(ctx, models.KindPost, models.Filter{}, "", 2)
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.Equal(t, "e", first.Records[0].ID)
	assert.Equal(t, int64(4), first.Records[0].Counters["likes"])
	assert.Equal(t, []string{"grace"}, first.Records[0].Content.Hashtags)

	second, err := s.QueryPage(ctx, models.KindPost, models.Filter{}, first.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, "c", second.Records[0].ID)

	third, err := s.QueryPage(ctx, models.KindPost, models.Filter{}, second.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, third.Records, 1)
	assert.True(t, third.NextCursor.IsEmpty())
}

func TestStoreQueryPageFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Import(ctx, gateway.Record{ID: "p1", Kind: models.KindPost, AuthorID: "u1",
		Content: models.Content{Audience: "fellowship", FellowshipID: "f1"}, CreatedAt: 3})
	require.NoError(t, err)
	_, err = s.Import(ctx, gateway.Record{ID: "p2", Kind: models.KindPost, AuthorID: "u2",
		Content: models.Content{Audience: "public", Tags: []string{"Hope"}}, CreatedAt: 2})
	require.NoError(t, err)
	_, err = s.Import(ctx, gateway.Record{ID: "c1", Kind: models.KindChapel, AuthorID: "u1",
		Content: models.Content{Live: true}, CreatedAt: 1})
	require.NoError(t, err)

	page, err := s.QueryPage(ctx, models.KindPost, models.Filter{Type: models.FeedFellowship, FellowshipID: "f1"}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "p1", page.Records[0].ID)

	page, err = s.QueryPage(ctx, models.KindPost, models.Filter{Type: models.FeedFollowing}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "p2", page.Records[0].ID)

	page, err = s.QueryPage(ctx, models.KindPost, models.Filter{Tag: "hope"}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	page, err = s.QueryPage(ctx, models.KindChapel, models.Filter{LiveOnly: true, AuthorID: "u1"}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.True(t, page.Records[0].Content.Live)
}

func TestStoreCreateAndDelete(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.UnixMilli(5000) }
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, models.KindPrayer, gateway.Payload{
		Author:   models.Author{ID: "u1", Name: "Ruth"},
		Content:  models.Content{Title: "Healing", Category: "healing"},
		Counters: models.Counters{"prayers": 0, "supports": 0},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(5000), rec.CreatedAt)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ruth", got.AuthorName)
	assert.Equal(t, models.Counters{"prayers": 0, "supports": 0}, got.Counters)

	require.NoError(t, s.DeleteRecord(ctx, rec.ID))
	_, err = s.Get(ctx, rec.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	err = s.DeleteRecord(ctx, rec.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStoreMutateCounter(t *testing.T) {
	s := newTestStore(t)
	importPosts(t, s, 1)
	ctx := context.Background()

	res, err := s.MutateCounter(ctx, "a", "likes", 1)
	require.NoError(t, err)
	require.NotNil(t, res.Authoritative)
	assert.Equal(t, int64(1), *res.Authoritative)

	res, err = s.MutateCounter(ctx, "a", "likes", -5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), *res.Authoritative)

	res, err = s.MutateCounter(ctx, "a", "shares", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), *res.Authoritative)

	_, err = s.MutateCounter(ctx, "missing", "likes", 1)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStoreSetLive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Import(ctx, gateway.Record{ID: "c1", Kind: models.KindChapel, AuthorID: "u1", CreatedAt: 1})
	require.NoError(t, err)

	require.NoError(t, s.SetLive(ctx, "c1", true))
	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.Content.Live)

	assert.Error(t, s.SetLive(ctx, "missing", true))
}

func TestStoreQueryPageRejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	_, err := s.QueryPage(context.Background(), models.KindPost, models.Filter{}, "", 0)
	assert.True(t, errors.Is(err, errors.ErrInvalid))

	_, err = s.QueryPage(context.Background(), models.KindPost, models.Filter{}, "nope", 5)
	assert.True(t, errors.Is(err, errors.ErrInvalid))
}

func TestStoreDeleteRecordDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE records SET is_deleted = 1")).
		WithArgs(sqlmock.AnyArg(), "p1").
		WillReturnError(sqlmock.ErrCancelled)

	err = s.DeleteRecord(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDatabase))
	assert.True(t, errors.IsKind(err, errors.KindRemote))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreMutateCounterRollsBackOnMissingRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE records SET updated_at")).
		WithArgs(sqlmock.AnyArg(), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = s.MutateCounter(context.Background(), "gone", "likes", 1)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreQueryPagePrepareFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	mock.ExpectPrepare("SELECT").WillReturnError(sqlmock.ErrCancelled)

	_, err = s.QueryPage(context.Background(), models.KindPost, models.Filter{}, "", 10)
	assert.True(t, errors.Is(err, errors.ErrDatabase))
	assert.NoError(t, mock.ExpectationsWereMet())
}
