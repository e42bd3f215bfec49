package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/gateway"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
	"github.com/kimhsiao/churchhouse/backend/internal/uuid"
)

const recordColumns = `r.id, r.kind, r.author_id, r.author_name, r.title, r.text, r.category,
	r.audience, r.fellowship_id, r.status, r.tags, r.hashtags, r.mentions,
	r.anonymous, r.urgent, r.private, r.max_participants, r.is_live,
	r.created_at, r.updated_at,
	(SELECT COALESCE(json_group_object(c.name, c.value), '{}') FROM counters c WHERE c.record_id = r.id)`

// Store is the SQLite-backed gateway. It is safe for concurrent use.
type Store struct {
	db *sql.DB

	// Prepared statements are cached by query text and reused.
	stmtCache sync.Map // map[string]*sql.Stmt

	now func() time.Time
}

var _ gateway.Gateway = (*Store)(nil)

// NewStore creates a Store over an opened, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (s *Store) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// =====================================================
// Queries
// =====================================================

// QueryPage implements gateway.Gateway with keyset pagination over
// (created_at DESC, id DESC).
func (s *Store) QueryPage(ctx context.Context, kind models.Kind, filter models.Filter, cursor models.Cursor, pageSize int) (gateway.Page, error) {
	if pageSize <= 0 {
		return gateway.Page{}, errors.Newf(errors.ErrInvalid, "page size must be positive, got %d", pageSize)
	}

	fb := FiltersFor(kind, filter)
	if !cursor.IsEmpty() {
		createdAt, id, err := gateway.ParseKeysetCursor(cursor)
		if err != nil {
			return gateway.Page{}, errors.Wrap(errors.ErrInvalid, "query page", err)
		}
		fb.After(createdAt, id)
	}

	where, args := fb.Build()
	query := "SELECT " + recordColumns + " FROM records r WHERE r.is_deleted = 0"
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY r.created_at DESC, r.id DESC LIMIT ?"
	args = append(args, pageSize)

	stmt, err := s.PrepareStmt(ctx, query)
	if err != nil {
		return gateway.Page{}, errors.Wrap(errors.ErrDatabase, "query page", err)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return gateway.Page{}, errors.Wrap(errors.ErrDatabase, "query page", err)
	}
	defer rows.Close()

	page := gateway.Page{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return gateway.Page{}, errors.Wrap(errors.ErrDatabase, "scan record", err)
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return gateway.Page{}, errors.Wrap(errors.ErrDatabase, "query page", err)
	}

	if len(page.Records) == pageSize {
		last := page.Records[len(page.Records)-1]
		page.NextCursor = gateway.KeysetCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// Get retrieves a live record by id.
func (s *Store) Get(ctx context.Context, id string) (gateway.Record, error) {
	query := "SELECT " + recordColumns + " FROM records r WHERE r.id = ? AND r.is_deleted = 0"
	stmt, err := s.PrepareStmt(ctx, query)
	if err != nil {
		return gateway.Record{}, errors.Wrap(errors.ErrDatabase, "get record", err)
	}
	rec, err := scanRecord(stmt.QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return gateway.Record{}, errors.Newf(errors.ErrNotFound, "record %s not found", id)
	}
	if err != nil {
		return gateway.Record{}, errors.Wrap(errors.ErrDatabase, "get record", err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (gateway.Record, error) {
	var rec gateway.Record
	var kind, tags, hashtags, mentions, counters string
	var c models.Content
	err := row.Scan(
		&rec.ID, &kind, &rec.AuthorID, &rec.AuthorName, &c.Title, &c.Text, &c.Category,
		&c.Audience, &c.FellowshipID, &c.Status, &tags, &hashtags, &mentions,
		&c.Anonymous, &c.Urgent, &c.Private, &c.MaxParticipants, &c.Live,
		&rec.CreatedAt, &rec.UpdatedAt, &counters,
	)
	if err != nil {
		return gateway.Record{}, err
	}
	rec.Kind = models.Kind(kind)
	c.Tags = SplitList(tags)
	c.Hashtags = SplitList(hashtags)
	c.Mentions = SplitList(mentions)
	rec.Content = c

	rec.Counters = models.Counters{}
	if err := json.Unmarshal([]byte(counters), &rec.Counters); err != nil {
		return gateway.Record{}, fmt.Errorf("decode counters: %w", err)
	}
	return rec, nil
}

// =====================================================
// Mutations
// =====================================================

// CreateRecord implements gateway.Gateway.
func (s *Store) CreateRecord(ctx context.Context, kind models.Kind, payload gateway.Payload) (gateway.Record, error) {
	if !kind.Valid() {
		return gateway.Record{}, errors.Newf(errors.ErrInvalid, "unknown kind %q", kind)
	}
	now := s.now().UnixMilli()
	return s.insert(ctx, gateway.Record{
		ID:         uuid.New(),
		Kind:       kind,
		AuthorID:   payload.Author.ID,
		AuthorName: payload.Author.Name,
		Content:    payload.Content.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
		Counters:   payload.Counters.Clone(),
	})
}

// Import stores a record with its own id and timestamps. The CLI seeds
// fixtures through it.
func (s *Store) Import(ctx context.Context, rec gateway.Record) (gateway.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.now().UnixMilli()
	}
	if rec.UpdatedAt < rec.CreatedAt {
		rec.UpdatedAt = rec.CreatedAt
	}
	return s.insert(ctx, rec)
}

func (s *Store) insert(ctx context.Context, rec gateway.Record) (gateway.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return gateway.Record{}, errors.Wrap(errors.ErrDatabase, "begin create", err)
	}
	defer tx.Rollback()

	c := rec.Content
	_, err = tx.ExecContext(ctx, `
	INSERT INTO records (id, kind, author_id, author_name, title, text, category,
		audience, fellowship_id, status, tags, hashtags, mentions,
		anonymous, urgent, private, max_participants, is_live,
		is_deleted, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		rec.ID, string(rec.Kind), rec.AuthorID, rec.AuthorName, c.Title, c.Text, c.Category,
		c.Audience, c.FellowshipID, c.Status, JoinList(c.Tags), JoinList(c.Hashtags), JoinList(c.Mentions),
		c.Anonymous, c.Urgent, c.Private, c.MaxParticipants, c.Live,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return gateway.Record{}, errors.Wrap(errors.ErrConstraint, "insert record", err)
	}

	if rec.Counters == nil {
		rec.Counters = models.Counters{}
	}
	for name, value := range rec.Counters {
		if value < 0 {
			value = 0
			rec.Counters[name] = 0
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO counters (record_id, name, value) VALUES (?, ?, ?)",
			rec.ID, name, value,
		); err != nil {
			return gateway.Record{}, errors.Wrap(errors.ErrConstraint, "insert counter", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return gateway.Record{}, errors.Wrap(errors.ErrDatabase, "commit create", err)
	}
	return rec, nil
}

// MutateCounter implements gateway.Gateway. The stored value never drops
// below zero and the post-write value is returned as authoritative.
func (s *Store) MutateCounter(ctx context.Context, id string, counter string, delta int64) (gateway.CounterResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return gateway.CounterResult{}, errors.Wrap(errors.ErrDatabase, "begin mutate", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE records SET updated_at = ? WHERE id = ? AND is_deleted = 0",
		s.now().UnixMilli(), id,
	)
	if err != nil {
		return gateway.CounterResult{}, errors.Wrap(errors.ErrDatabase, "touch record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gateway.CounterResult{}, errors.Newf(errors.ErrNotFound, "record %s not found", id)
	}

	initial := delta
	if initial < 0 {
		initial = 0
	}
	var value int64
	err = tx.QueryRowContext(ctx, `
	INSERT INTO counters (record_id, name, value) VALUES (?, ?, ?)
	ON CONFLICT(record_id, name) DO UPDATE SET value = MAX(0, counters.value + ?)
	RETURNING value`,
		id, counter, initial, delta,
	).Scan(&value)
	if err != nil {
		return gateway.CounterResult{}, errors.Wrap(errors.ErrDatabase, "mutate counter", err)
	}

	if err := tx.Commit(); err != nil {
		return gateway.CounterResult{}, errors.Wrap(errors.ErrDatabase, "commit mutate", err)
	}
	return gateway.CounterResult{Authoritative: gateway.Int64(value)}, nil
}

// DeleteRecord implements gateway.Gateway as a soft delete.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0",
		s.now().UnixMilli(), id,
	)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "delete record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrNotFound, "record %s not found", id)
	}
	return nil
}

// SetLive flips a chapel's live flag.
func (s *Store) SetLive(ctx context.Context, id string, live bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET is_live = ?, updated_at = ? WHERE id = ? AND kind = 'chapel' AND is_deleted = 0",
		live, s.now().UnixMilli(), id,
	)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "set live", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrNotFound, "chapel %s not found", id)
	}
	return nil
}
