// Package redisgw implements the collection gateway on Redis.
//
// Layout per record:
//
//	<prefix>rec:<id>   JSON document (counters excluded)
//	<prefix>cnt:<id>   hash of counter name -> value
//	<prefix>idx:<kind> sorted set of ids scored by created_at
package redisgw

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/gateway"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
	"github.com/kimhsiao/churchhouse/backend/internal/uuid"
)

// DefaultPrefix namespaces every key.
const DefaultPrefix = "churchhouse:"

// scanBatch is how many index entries are read per round trip while a page
// is being filled.
const scanBatch = 64

// mutateCounterScript adds a delta to a counter, clamping at zero.
// KEYS[1] = record key, KEYS[2] = counter hash
// ARGV[1] = counter name, ARGV[2] = delta
// Returns -1 when the record does not exist.
var mutateCounterScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return -1
end
local v = redis.call("HINCRBY", KEYS[2], ARGV[1], ARGV[2])
if v < 0 then
    redis.call("HSET", KEYS[2], ARGV[1], 0)
    v = 0
end
return v
`)

// deleteRecordScript removes a record, its counters and its index entry.
// KEYS[1] = record key, KEYS[2] = counter hash, KEYS[3] = kind index
// ARGV[1] = record id
// Returns 0 when the record was already gone.
var deleteRecordScript = redis.NewScript(`
if redis.call("DEL", KEYS[1]) == 0 then
    return 0
end
redis.call("DEL", KEYS[2])
redis.call("ZREM", KEYS[3], ARGV[1])
return 1
`)

// Gateway stores records in Redis.
type Gateway struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ gateway.Gateway = (*Gateway)(nil)

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string) *Gateway {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Gateway{client: client, prefix: prefix, now: time.Now}
}

// Dial creates a client for addr and wraps it.
func Dial(addr, password string, db int) *Gateway {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return New(rdb, DefaultPrefix)
}

// Ping checks connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (g *Gateway) Close() error {
	return g.client.Close()
}

func (g *Gateway) recordKey(id string) string       { return g.prefix + "rec:" + id }
func (g *Gateway) counterKey(id string) string      { return g.prefix + "cnt:" + id }
func (g *Gateway) indexKey(kind models.Kind) string { return g.prefix + "idx:" + string(kind) }

func remote(op string, err error) error {
	return errors.Wrap(errors.ErrRemote, "redis "+op, err)
}

// QueryPage implements gateway.Gateway. Filters are applied client side while
// walking the kind index newest first.
func (g *Gateway) QueryPage(ctx context.Context, kind models.Kind, filter models.Filter, cursor models.Cursor, pageSize int) (gateway.Page, error) {
	if pageSize <= 0 {
		return gateway.Page{}, errors.Newf(errors.ErrInvalid, "page size must be positive, got %d", pageSize)
	}

	max := "+inf"
	var afterTS int64
	var afterID string
	if !cursor.IsEmpty() {
		ts, id, err := gateway.ParseKeysetCursor(cursor)
		if err != nil {
			return gateway.Page{}, errors.Wrap(errors.ErrInvalid, "query page", err)
		}
		afterTS, afterID = ts, id
		max = strconv.FormatInt(ts, 10)
	}

	page := gateway.Page{}
	var offset int64
	for len(page.Records) < pageSize {
		ids, err := g.client.ZRevRangeByScore(ctx, g.indexKey(kind), &redis.ZRangeBy{
			Max:    max,
			Min:    "-inf",
			Offset: offset,
			Count:  scanBatch,
		}).Result()
		if err != nil {
			return gateway.Page{}, remote("scan index", err)
		}
		if len(ids) == 0 {
			break
		}
		offset += int64(len(ids))

		records, err := g.load(ctx, ids)
		if err != nil {
			return gateway.Page{}, err
		}
		for _, rec := range records {
			if !cursor.IsEmpty() && !gateway.After(rec, afterTS, afterID) {
				continue
			}
			if !gateway.Matches(rec, kind, filter) {
				continue
			}
			page.Records = append(page.Records, rec)
			if len(page.Records) == pageSize {
				break
			}
		}
	}

	if len(page.Records) == pageSize {
		last := page.Records[len(page.Records)-1]
		page.NextCursor = gateway.KeysetCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

func (g *Gateway) load(ctx context.Context, ids []string) ([]gateway.Record, error) {
	docs := make([]*redis.StringCmd, len(ids))
	counters := make([]*redis.MapStringStringCmd, len(ids))
	_, err := g.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			docs[i] = p.Get(ctx, g.recordKey(id))
			counters[i] = p.HGetAll(ctx, g.counterKey(id))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, remote("load records", err)
	}

	records := make([]gateway.Record, 0, len(ids))
	for i := range ids {
		raw, err := docs[i].Bytes()
		if err == redis.Nil {
			// index entry outlived its document
			continue
		}
		if err != nil {
			return nil, remote("load record", err)
		}
		var rec gateway.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "decode record", err)
		}
		rec.Counters = models.Counters{}
		for name, v := range counters[i].Val() {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, errors.Wrap(errors.ErrInternal, fmt.Sprintf("decode counter %s", name), err)
			}
			rec.Counters[name] = n
		}
		records = append(records, rec)
	}
	return records, nil
}

// Get returns one record.
func (g *Gateway) Get(ctx context.Context, id string) (gateway.Record, error) {
	records, err := g.load(ctx, []string{id})
	if err != nil {
		return gateway.Record{}, err
	}
	if len(records) == 0 {
		return gateway.Record{}, errors.Newf(errors.ErrNotFound, "record %s not found", id)
	}
	return records[0], nil
}

// CreateRecord implements gateway.Gateway.
func (g *Gateway) CreateRecord(ctx context.Context, kind models.Kind, payload gateway.Payload) (gateway.Record, error) {
	if !kind.Valid() {
		return gateway.Record{}, errors.Newf(errors.ErrInvalid, "unknown kind %q", kind)
	}
	now := g.now().UnixMilli()
	return g.Import(ctx, gateway.Record{
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

// Import stores a record with its own id and timestamps.
func (g *Gateway) Import(ctx context.Context, rec gateway.Record) (gateway.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = g.now().UnixMilli()
	}
	if rec.UpdatedAt < rec.CreatedAt {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Counters == nil {
		rec.Counters = models.Counters{}
	}

	doc := rec
	doc.Counters = nil
	doc.Hints = nil
	raw, err := json.Marshal(doc)
	if err != nil {
		return gateway.Record{}, errors.Wrap(errors.ErrInternal, "encode record", err)
	}

	_, err = g.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, g.recordKey(rec.ID), raw, 0)
		if len(rec.Counters) > 0 {
			fields := make(map[string]interface{}, len(rec.Counters))
			for name, v := range rec.Counters {
				if v < 0 {
					v = 0
					rec.Counters[name] = 0
				}
				fields[name] = v
			}
			p.HSet(ctx, g.counterKey(rec.ID), fields)
		}
		p.ZAdd(ctx, g.indexKey(rec.Kind), redis.Z{Score: float64(rec.CreatedAt), Member: rec.ID})
		return nil
	})
	if err != nil {
		return gateway.Record{}, remote("create record", err)
	}
	return rec, nil
}

// MutateCounter implements gateway.Gateway.
func (g *Gateway) MutateCounter(ctx context.Context, id string, counter string, delta int64) (gateway.CounterResult, error) {
	value, err := mutateCounterScript.Run(ctx, g.client,
		[]string{g.recordKey(id), g.counterKey(id)}, counter, delta).Int64()
	if err != nil {
		return gateway.CounterResult{}, remote("mutate counter", err)
	}
	if value < 0 {
		return gateway.CounterResult{}, errors.Newf(errors.ErrNotFound, "record %s not found", id)
	}
	return gateway.CounterResult{Authoritative: gateway.Int64(value)}, nil
}

// DeleteRecord implements gateway.Gateway. Of several concurrent deletes
// of one record exactly one succeeds; the rest see NOT_FOUND.
func (g *Gateway) DeleteRecord(ctx context.Context, id string) error {
	rec, err := g.Get(ctx, id)
	if err != nil {
		return err
	}
	removed, err := deleteRecordScript.Run(ctx, g.client,
		[]string{g.recordKey(id), g.counterKey(id), g.indexKey(rec.Kind)}, id).Int64()
	if err != nil {
		return remote("delete record", err)
	}
	if removed == 0 {
		return errors.Newf(errors.ErrNotFound, "record %s not found", id)
	}
	return nil
}
