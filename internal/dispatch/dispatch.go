// Package dispatch is the boundary the desktop server, the CLI and the
// mobile bridge call into. Every operation returns a Result instead of an
// error and never panics.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/kimhsiao/churchhouse/backend/internal/collection"
	"github.com/kimhsiao/churchhouse/backend/internal/domain"
	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/logging"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// OperationError is the error half of a Result.
type OperationError struct {
	Kind        errors.ErrorKind `json:"kind"`
	Code        errors.ErrorCode `json:"code"`
	Message     string           `json:"message"`
	UserVisible bool             `json:"user_visible"`
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Result holds either a value or an error.
type Result[T any] struct {
	Value T               `json:"value"`
	Err   *OperationError `json:"error,omitempty"`
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// NewOperationError converts err for the boundary. Stale errors are not
// user-visible.
func NewOperationError(err error) *OperationError {
	if err == nil {
		return nil
	}
	app, ok := errors.As(err)
	if !ok {
		return &OperationError{
			Kind:        errors.KindInternal,
			Code:        errors.ErrInternal,
			Message:     err.Error(),
			UserVisible: true,
		}
	}
	msg := app.Message
	if app.Err != nil {
		msg = fmt.Sprintf("%s: %v", app.Message, app.Err)
	}
	kind := app.Kind()
	return &OperationError{
		Kind:        kind,
		Code:        app.Code,
		Message:     msg,
		UserVisible: kind != errors.KindStale,
	}
}

// Snapshot is the boundary form of collection.Snapshot.
type Snapshot struct {
	collection.Snapshot
	HasMore bool            `json:"has_more"`
	Error   *OperationError `json:"last_error,omitempty"`
}

func toSnapshot(s collection.Snapshot) Snapshot {
	out := Snapshot{Snapshot: s, HasMore: s.HasMore()}
	if s.LastError != nil {
		out.Error = NewOperationError(s.LastError)
	}
	return out
}

// OpenRequest configures a new view.
type OpenRequest struct {
	Filter      models.Filter `json:"filter"`
	PageSize    int           `json:"page_size,omitempty"`
	AutoRefresh bool          `json:"auto_refresh,omitempty"`
}

// Surface exposes the operations over a Registry.
type Surface struct {
	registry *collection.Registry
}

// NewSurface creates a new Surface.
func NewSurface(registry *collection.Registry) *Surface {
	return &Surface{registry: registry}
}

// Registry returns the underlying registry.
func (s *Surface) Registry() *collection.Registry {
	return s.registry
}

// call runs fn and converts its outcome, recovering from panics.
func call[T any](op string, fn func() (T, error)) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Operation panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"operation": op,
				"stack":     string(debug.Stack()),
			})
			var zero T
			res = Result[T]{Value: zero, Err: &OperationError{
				Kind:        errors.KindInternal,
				Code:        errors.ErrInternal,
				Message:     fmt.Sprintf("%s failed unexpectedly", op),
				UserVisible: true,
			}}
		}
	}()

	v, err := fn()
	if err != nil {
		opErr := NewOperationError(err)
		fields := map[string]interface{}{"operation": op, "code": string(opErr.Code)}
		switch opErr.Kind {
		case errors.KindStale, errors.KindValidation:
			logging.Debug("Operation rejected", fields)
		case errors.KindRemote:
			logging.Warn("Operation failed", fields)
		default:
			logging.Error("Operation failed", err, fields)
		}
		return Result[T]{Err: opErr}
	}
	return Result[T]{Value: v}
}

func (s *Surface) view(id string) (*collection.Collection, error) {
	return s.registry.Get(id)
}

// Open creates a view over kind.
func (s *Surface) Open(kind models.Kind, req OpenRequest) Result[collection.ViewInfo] {
	return call("open", func() (collection.ViewInfo, error) {
		if !kind.Valid() {
			return collection.ViewInfo{}, errors.Newf(errors.ErrInvalid, "unknown kind %q", kind)
		}
		c, err := s.registry.Open(kind, collection.OpenOptions{
			Filter:      req.Filter,
			PageSize:    req.PageSize,
			AutoRefresh: req.AutoRefresh,
		})
		if err != nil {
			return collection.ViewInfo{}, err
		}
		return collection.ViewInfo{ID: c.ID(), Kind: c.Kind(), AutoRefresh: c.AutoRefresh()}, nil
	})
}

// LoadInitial loads the first page of a view.
func (s *Surface) LoadInitial(ctx context.Context, viewID string, filter models.Filter) Result[Snapshot] {
	return call("load_initial", func() (Snapshot, error) {
		c, err := s.view(viewID)
		if err != nil {
			return Snapshot{}, err
		}
		if err := c.LoadInitial(ctx, filter); err != nil {
			return Snapshot{}, err
		}
		return toSnapshot(c.Snapshot()), nil
	})
}

// LoadMore appends the next page.
func (s *Surface) LoadMore(ctx context.Context, viewID string) Result[Snapshot] {
	return call("load_more", func() (Snapshot, error) {
		c, err := s.view(viewID)
		if err != nil {
			return Snapshot{}, err
		}
		if err := c.LoadMore(ctx); err != nil {
			return Snapshot{}, err
		}
		return toSnapshot(c.Snapshot()), nil
	})
}

// Refresh re-fetches the first page.
func (s *Surface) Refresh(ctx context.Context, viewID string) Result[Snapshot] {
	return call("refresh", func() (Snapshot, error) {
		c, err := s.view(viewID)
		if err != nil {
			return Snapshot{}, err
		}
		if err := c.Refresh(ctx); err != nil {
			return Snapshot{}, err
		}
		return toSnapshot(c.Snapshot()), nil
	})
}

// CreateItem creates an item in a view.
func (s *Surface) CreateItem(ctx context.Context, viewID string, draft models.Draft) Result[*models.CollectionItem] {
	return call("create_item", func() (*models.CollectionItem, error) {
		c, err := s.view(viewID)
		if err != nil {
			return nil, err
		}
		if draft.Kind == "" {
			draft.Kind = c.Kind()
		}
		return c.CreateItem(ctx, draft)
	})
}

// RemoveItem deletes an item and returns its id.
func (s *Surface) RemoveItem(ctx context.Context, viewID, itemID string) Result[string] {
	return call("remove_item", func() (string, error) {
		c, err := s.view(viewID)
		if err != nil {
			return "", err
		}
		if err := c.RemoveItem(ctx, itemID); err != nil {
			return "", err
		}
		return itemID, nil
	})
}

// ApplyMutation applies an interaction to an item.
func (s *Surface) ApplyMutation(ctx context.Context, viewID, itemID string, interaction models.Interaction) Result[*models.CollectionItem] {
	return call("apply_mutation", func() (*models.CollectionItem, error) {
		c, err := s.view(viewID)
		if err != nil {
			return nil, err
		}
		return c.ApplyMutation(ctx, itemID, interaction)
	})
}

// Snapshot returns the current state of a view.
func (s *Surface) Snapshot(viewID string) Result[Snapshot] {
	return call("snapshot", func() (Snapshot, error) {
		c, err := s.view(viewID)
		if err != nil {
			return Snapshot{}, err
		}
		return toSnapshot(c.Snapshot()), nil
	})
}

// DismissError clears a view's lastError.
func (s *Surface) DismissError(viewID string) Result[Snapshot] {
	return call("dismiss_error", func() (Snapshot, error) {
		c, err := s.view(viewID)
		if err != nil {
			return Snapshot{}, err
		}
		c.DismissError()
		return toSnapshot(c.Snapshot()), nil
	})
}

// Release releases a view.
func (s *Surface) Release(viewID string) Result[bool] {
	return call("release", func() (bool, error) {
		if err := s.registry.Release(viewID); err != nil {
			return false, err
		}
		return true, nil
	})
}

// Views lists the open views.
func (s *Surface) Views() Result[[]collection.ViewInfo] {
	return call("views", func() ([]collection.ViewInfo, error) {
		return s.registry.Views(), nil
	})
}

// Interactions lists the interactions kind supports.
func (s *Surface) Interactions(kind models.Kind) Result[[]models.Interaction] {
	return call("interactions", func() ([]models.Interaction, error) {
		spec, err := domain.For(kind)
		if err != nil {
			return nil, err
		}
		return spec.Interactions(), nil
	})
}

// Subscribe streams a view's change events. The returned function ends the
// subscription.
func (s *Surface) Subscribe(viewID string, buffer int) (<-chan collection.Event, func(), *OperationError) {
	c, err := s.view(viewID)
	if err != nil {
		return nil, nil, NewOperationError(err)
	}
	ch, cancel := c.Subscribe(buffer)
	return ch, cancel, nil
}
