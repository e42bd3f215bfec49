package gateway

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

func seedPosts(m *Memory, n int) {
	for i := 0; i < n; i++ {
		m.Seed(Record{
			ID:        string(rune('a' + i)),
			Kind:      models.KindPost,
			AuthorID:  "u1",
			Content:   models.Content{Text: "post", Audience: "public"},
			CreatedAt: int64(1000 + i),
			Counters:  models.Counters{"likes": int64(i)},
		})
	}
}

func TestMemoryQueryPagePaginates(t *testing.T) {
	m := NewMemory()
	seedPosts(m, 5)
	ctx := context.Background()

	first, err := m.QueryPage(ctx, models.KindPost, models.Filter{}, "", 2)
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.Equal(t, "e", first.Records[0].ID)
	assert.Equal(t, "d", first.Records[1].ID)
	require.False(t, first.NextCursor.IsEmpty())

	second, err := m.QueryPage(ctx, models.KindPost, models.Filter{}, first.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(second.Records))

	third, err := m.QueryPage(ctx, models.KindPost, models.Filter{}, second.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(third.Records))
	assert.True(t, third.NextCursor.IsEmpty())
}

func TestMemoryQueryPageFilters(t *testing.T) {
	m := NewMemory()
	m.Seed(
		Record{ID: "p1", Kind: models.KindPost, Content: models.Content{Audience: "fellowship", FellowshipID: "f1"}, CreatedAt: 3},
		Record{ID: "p2", Kind: models.KindPost, Content: models.Content{Audience: "public", Hashtags: []string{"grace"}}, CreatedAt: 2},
		Record{ID: "c1", Kind: models.KindChapel, Content: models.Content{Live: true}, CreatedAt: 1},
	)
	ctx := context.Background()

	page, err := m.QueryPage(ctx, models.KindPost, models.Filter{Type: models.FeedFellowship, FellowshipID: "f1"}, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids(page.Records))

	page, err = m.QueryPage(ctx, models.KindPost, models.Filter{Tag: "Grace"}, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, ids(page.Records))

	page, err = m.QueryPage(ctx, models.KindChapel, models.Filter{LiveOnly: true}, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(page.Records))
}

func TestMemoryMutateCounterClampsAtZero(t *testing.T) {
	m := NewMemory()
	seedPosts(m, 1)

	res, err := m.MutateCounter(context.Background(), "a", "likes", -1)
	require.NoError(t, err)
	require.NotNil(t, res.Authoritative)
	assert.Equal(t, int64(0), *res.Authoritative)

	m.AckOnly = true
	res, err = m.MutateCounter(context.Background(), "a", "likes", 2)
	require.NoError(t, err)
	assert.Nil(t, res.Authoritative)

	rec, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.Counters["likes"])
}

func TestMemoryFailNextAndHooks(t *testing.T) {
	m := NewMemory()
	boom := stderrors.New("boom")
	m.FailNext(OpDeleteRecord, boom)

	err := m.DeleteRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, boom)

	err = m.DeleteRecord(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Equal(t, 2, m.Calls(OpDeleteRecord))

	release := make(chan struct{})
	m.SetHook(OpCreateRecord, func(ctx context.Context) error {
		<-release
		return nil
	})
	done := make(chan Record)
	go func() {
		rec, _ := m.CreateRecord(context.Background(), models.KindPost, Payload{Author: models.Author{ID: "u1"}})
		done <- rec
	}()

	select {
	case <-done:
		t.Fatal("create returned before hook was released")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	rec := <-done
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "u1", rec.AuthorID)
}

func TestKeysetCursorRoundTrip(t *testing.T) {
	ts, id, err := ParseKeysetCursor(KeysetCursor(42, "abc:def"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), ts)
	assert.Equal(t, "abc:def", id)

	_, _, err = ParseKeysetCursor("garbage")
	assert.Error(t, err)
}

func TestLimitedHonoursContext(t *testing.T) {
	m := NewMemory()
	seedPosts(m, 1)
	l := NewLimited(m, 0.001, 1)

	_, err := l.QueryPage(context.Background(), models.KindPost, models.Filter{}, "", 10)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.QueryPage(ctx, models.KindPost, models.Filter{}, "", 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimited))
	assert.Equal(t, 1, m.Calls(OpQueryPage))
}

func TestLimitedUnlimited(t *testing.T) {
	m := NewMemory()
	seedPosts(m, 1)
	l := NewLimited(m, 0, 0)
	for i := 0; i < 50; i++ {
		_, err := l.MutateCounter(context.Background(), "a", "likes", 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 50, m.Calls(OpMutateCounter))
}

func TestInstrumentedRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	m := NewMemory()
	seedPosts(m, 2)
	g, err := NewInstrumented(m, tp.Tracer("test"), noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	_, err = g.QueryPage(context.Background(), models.KindPost, models.Filter{}, "", 10)
	require.NoError(t, err)
	err = g.DeleteRecord(context.Background(), "missing")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "gateway.query_page", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "gateway.delete_record", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
