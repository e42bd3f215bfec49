package gateway

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// Limited throttles calls into the wrapped gateway with a shared token bucket.
type Limited struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewLimited wraps next. A non-positive rps disables throttling.
func NewLimited(next Gateway, rps float64, burst int) *Limited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (l *Limited) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.Wrap(errors.ErrRateLimited, "gateway rate limit", err)
	}
	return nil
}

// QueryPage implements Gateway.
func (l *Limited) QueryPage(ctx context.Context, kind models.Kind, filter models.Filter, cursor models.Cursor, pageSize int) (Page, error) {
	if err := l.wait(ctx); err != nil {
		return Page{}, err
	}
	return l.next.QueryPage(ctx, kind, filter, cursor, pageSize)
}

// CreateRecord implements Gateway.
func (l *Limited) CreateRecord(ctx context.Context, kind models.Kind, payload Payload) (Record, error) {
	if err := l.wait(ctx); err != nil {
		return Record{}, err
	}
	return l.next.CreateRecord(ctx, kind, payload)
}

// MutateCounter implements Gateway.
func (l *Limited) MutateCounter(ctx context.Context, id string, counter string, delta int64) (CounterResult, error) {
	if err := l.wait(ctx); err != nil {
		return CounterResult{}, err
	}
	return l.next.MutateCounter(ctx, id, counter, delta)
}

// DeleteRecord implements Gateway.
func (l *Limited) DeleteRecord(ctx context.Context, id string) error {
	if err := l.wait(ctx); err != nil {
		return err
	}
	return l.next.DeleteRecord(ctx, id)
}
