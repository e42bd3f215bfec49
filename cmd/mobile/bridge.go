package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kimhsiao/churchhouse/backend/internal/app"
	"github.com/kimhsiao/churchhouse/backend/internal/collection"
	"github.com/kimhsiao/churchhouse/backend/internal/config"
	"github.com/kimhsiao/churchhouse/backend/internal/dispatch"
	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
	"github.com/kimhsiao/churchhouse/backend/internal/uuid"
)

// bridge adapts the dispatch surface to string-in, JSON-out calls. Every
// method returns a JSON document; failures are encoded as {"error": ...}.
type bridge struct {
	mu   sync.RWMutex
	rt   *app.App
	subs map[string]*subscription
}

// subscription buffers a view's events until the host polls them.
type subscription struct {
	events <-chan collection.Event
	cancel func()
}

var core = &bridge{subs: make(map[string]*subscription)}

func (b *bridge) init(configPath string) string {
	cfg, err := config.Load(configPath)
	if err != nil {
		return encodeErr(err)
	}
	return b.start(cfg)
}

// start assembles the runtime once; later calls are no-ops.
func (b *bridge) start(cfg *config.Config) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rt != nil {
		return encode(map[string]bool{"ok": true})
	}

	rt, err := app.New(context.Background(), cfg)
	if err != nil {
		return encodeErr(err)
	}
	if cfg.Scheduler.Enabled {
		rt.Scheduler.Start(context.Background())
	}
	b.rt = rt
	return encode(map[string]bool{"ok": true})
}

func (b *bridge) cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		sub.cancel()
		delete(b.subs, id)
	}
	if b.rt != nil {
		b.rt.Close(context.Background())
		b.rt = nil
	}
}

func (b *bridge) surface() (*dispatch.Surface, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.rt == nil {
		return nil, encodeErr(errors.New(errors.ErrInternal, "core not initialized"))
	}
	return b.rt.Surface, ""
}

func (b *bridge) open(kind, requestJSON string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	var req dispatch.OpenRequest
	if !decodeInto(requestJSON, &req) {
		return invalidJSON()
	}
	return encode(s.Open(models.Kind(kind), req))
}

func (b *bridge) loadInitial(viewID, filterJSON string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	var filter models.Filter
	if !decodeInto(filterJSON, &filter) {
		return invalidJSON()
	}
	return encode(s.LoadInitial(context.Background(), viewID, filter))
}

func (b *bridge) loadMore(viewID string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	return encode(s.LoadMore(context.Background(), viewID))
}

func (b *bridge) refresh(viewID string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	return encode(s.Refresh(context.Background(), viewID))
}

func (b *bridge) createItem(viewID, draftJSON string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	var draft models.Draft
	if !decodeInto(draftJSON, &draft) {
		return invalidJSON()
	}
	return encode(s.CreateItem(context.Background(), viewID, draft))
}

func (b *bridge) removeItem(viewID, itemID string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	return encode(s.RemoveItem(context.Background(), viewID, itemID))
}

func (b *bridge) applyMutation(viewID, itemID, interaction string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	return encode(s.ApplyMutation(context.Background(), viewID, itemID, models.Interaction(interaction)))
}

func (b *bridge) snapshot(viewID string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	return encode(s.Snapshot(viewID))
}

func (b *bridge) dismissError(viewID string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	return encode(s.DismissError(viewID))
}

func (b *bridge) release(viewID string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	return encode(s.Release(viewID))
}

func (b *bridge) views() string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	return encode(s.Views())
}

func (b *bridge) interactions(kind string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	return encode(s.Interactions(models.Kind(kind)))
}

// subscribe starts buffering a view's events and returns a subscription id.
func (b *bridge) subscribe(viewID string) string {
	s, failure := b.surface()
	if s == nil {
		return failure
	}
	events, cancel, opErr := s.Subscribe(viewID, 256)
	if opErr != nil {
		return encode(map[string]interface{}{"error": opErr})
	}
	id := uuid.NewScoped("sub")
	b.mu.Lock()
	b.subs[id] = &subscription{events: events, cancel: cancel}
	b.mu.Unlock()
	return encode(map[string]string{"subscription_id": id})
}

// poll drains the events buffered for a subscription without blocking.
// Closed is true once the view has been released.
func (b *bridge) poll(subID string) string {
	b.mu.RLock()
	sub, ok := b.subs[subID]
	b.mu.RUnlock()
	if !ok {
		return encodeErr(errors.New(errors.ErrNotFound, "unknown subscription"))
	}

	events := make([]collection.Event, 0)
drain:
	for {
		select {
		case ev, open := <-sub.events:
			if !open {
				b.unsubscribe(subID)
				return encode(map[string]interface{}{"events": events, "closed": true})
			}
			events = append(events, ev)
		default:
			break drain
		}
	}
	return encode(map[string]interface{}{"events": events, "closed": false})
}

func (b *bridge) unsubscribe(subID string) {
	b.mu.Lock()
	sub, ok := b.subs[subID]
	delete(b.subs, subID)
	b.mu.Unlock()
	if ok {
		sub.cancel()
	}
}

// =====================================================
// Encoding helpers
// =====================================================

func decodeInto(data string, v interface{}) bool {
	if data == "" {
		return true
	}
	return json.Unmarshal([]byte(data), v) == nil
}

func encode(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":{"kind":"internal","code":"INTERNAL_ERROR","message":"encode failed"}}`
	}
	return string(data)
}

func encodeErr(err error) string {
	return encode(map[string]interface{}{"error": dispatch.NewOperationError(err)})
}

func invalidJSON() string {
	return encodeErr(errors.New(errors.ErrInvalid, "invalid JSON argument"))
}
