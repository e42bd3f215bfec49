package collection

import (
	"sort"
	"sync"
	"time"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/gateway"
	"github.com/kimhsiao/churchhouse/backend/internal/logging"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
	"github.com/kimhsiao/churchhouse/backend/internal/reconcile"
	"github.com/kimhsiao/churchhouse/backend/internal/uuid"
)

// Config holds what every view opened by a Registry shares.
type Config struct {
	Gateway    gateway.Gateway
	PageSize   func(models.Kind) int
	Timeout    time.Duration
	Strategy   reconcile.Strategy
	MaxPending int
}

// OpenOptions configures a single view.
type OpenOptions struct {
	Filter      models.Filter
	PageSize    int
	AutoRefresh bool
}

// ViewInfo summarizes an open view.
type ViewInfo struct {
	ID          string      `json:"id"`
	Kind        models.Kind `json:"kind"`
	AutoRefresh bool        `json:"auto_refresh"`
	Items       int         `json:"items"`
	Loaded      bool        `json:"loaded"`
}

// Registry owns the open views of one process. Views are independent; the
// gateway is shared.
type Registry struct {
	cfg      Config
	resolver *reconcile.Resolver

	mu    sync.RWMutex
	views map[string]*Collection
}

// NewRegistry creates a new Registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		resolver: reconcile.NewResolver(cfg.Strategy),
		views:    make(map[string]*Collection),
	}
}

// Open creates a view over kind. Nothing is fetched until LoadInitial.
func (r *Registry) Open(kind models.Kind, opts OpenOptions) (*Collection, error) {
	size := opts.PageSize
	if size <= 0 && r.cfg.PageSize != nil {
		size = r.cfg.PageSize(kind)
	}
	c, err := New(Options{
		ID:          uuid.NewScoped(string(kind)),
		Kind:        kind,
		Gateway:     r.cfg.Gateway,
		PageSize:    size,
		Filter:      opts.Filter,
		Timeout:     r.cfg.Timeout,
		Resolver:    r.resolver,
		MaxPending:  r.cfg.MaxPending,
		AutoRefresh: opts.AutoRefresh,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.views[c.ID()] = c
	r.mu.Unlock()

	logging.Info("Collection view opened", map[string]interface{}{
		"view_id":      c.ID(),
		"kind":         string(kind),
		"page_size":    size,
		"auto_refresh": opts.AutoRefresh,
	})
	return c, nil
}

// Get returns an open view.
func (r *Registry) Get(id string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.views[id]
	if !ok {
		return nil, errors.Newf(errors.ErrViewNotFound, "view %s is not open", id)
	}
	return c, nil
}

// Release releases a view and forgets it.
func (r *Registry) Release(id string) error {
	r.mu.Lock()
	c, ok := r.views[id]
	delete(r.views, id)
	r.mu.Unlock()
	if !ok {
		return errors.Newf(errors.ErrViewNotFound, "view %s is not open", id)
	}
	c.Release()
	return nil
}

// ReleaseAll releases every open view.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	views := r.views
	r.views = make(map[string]*Collection)
	r.mu.Unlock()

	for _, c := range views {
		c.Release()
	}
}

// Views lists the open views ordered by id.
func (r *Registry) Views() []ViewInfo {
	r.mu.RLock()
	list := make([]*Collection, 0, len(r.views))
	for _, c := range r.views {
		list = append(list, c)
	}
	r.mu.RUnlock()

	out := make([]ViewInfo, 0, len(list))
	for _, c := range list {
		snap := c.Snapshot()
		out = append(out, ViewInfo{
			ID:          c.ID(),
			Kind:        c.Kind(),
			AutoRefresh: c.AutoRefresh(),
			Items:       len(snap.Items),
			Loaded:      snap.Loaded,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AutoRefreshViews returns the views that opted into background refreshes.
func (r *Registry) AutoRefreshViews() []*Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Collection
	for _, c := range r.views {
		if c.AutoRefresh() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
