// Package collection keeps a client-local, ordered, deduplicated view over a
// cursor-paged remote collection and applies optimistic mutations to it.
//
// Every Collection guards its state with a single mutex. Gateway calls run
// outside the lock; their continuations re-acquire it and check the
// collection's generation and liveness before writing.
package collection

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/kimhsiao/churchhouse/backend/internal/domain"
	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/gateway"
	"github.com/kimhsiao/churchhouse/backend/internal/logging"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
	"github.com/kimhsiao/churchhouse/backend/internal/pending"
	"github.com/kimhsiao/churchhouse/backend/internal/reconcile"
	"github.com/kimhsiao/churchhouse/backend/internal/uuid"
)

// Options configures a Collection.
type Options struct {
	// ID names the view. Generated when empty.
	ID       string
	Kind     models.Kind
	Gateway  gateway.Gateway
	PageSize int
	Filter   models.Filter

	// Timeout bounds every gateway call. Zero means no bound beyond the
	// caller's context.
	Timeout time.Duration

	// Resolver defaults to server-wins.
	Resolver *reconcile.Resolver
	// MaxPending caps in-flight mutations; zero is unbounded.
	MaxPending int

	// AutoRefresh opts the view into background refreshes.
	AutoRefresh bool

	Now func() time.Time
}

// Collection is one view over a remote collection.
type Collection struct {
	id          string
	kind        models.Kind
	spec        *domain.Spec
	gw          gateway.Gateway
	resolver    *reconcile.Resolver
	ledger      *pending.Ledger
	pageSize    int
	timeout     time.Duration
	autoRefresh bool
	now         func() time.Time

	// lifetime of the view; cancelled by Release
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	items          []*models.CollectionItem
	cursor         models.Cursor
	exhausted      bool
	loaded         bool
	loadingInitial bool
	loadingMore    bool
	refreshing     bool
	lastError      *errors.AppError
	generation     uint64
	epoch          uint64 // bumped whenever a first page replaces the list
	filter         models.Filter
	released       bool
	subs           map[int]chan Event
	nextSub        int
}

// New creates a Collection. It does not fetch anything.
func New(opts Options) (*Collection, error) {
	spec, err := domain.For(opts.Kind)
	if err != nil {
		return nil, err
	}
	if opts.Gateway == nil {
		return nil, errors.New(errors.ErrInvalid, "collection requires a gateway")
	}
	if opts.PageSize <= 0 {
		return nil, errors.Newf(errors.ErrInvalid, "page size must be positive, got %d", opts.PageSize)
	}
	filter := opts.Filter.Normalize()
	if err := spec.ValidateFilter(filter); err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewScoped(string(opts.Kind))
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = reconcile.NewResolver(reconcile.StrategyServerWins)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Collection{
		id:          id,
		kind:        opts.Kind,
		spec:        spec,
		gw:          opts.Gateway,
		resolver:    resolver,
		ledger:      pending.NewLedger(opts.MaxPending),
		pageSize:    opts.PageSize,
		timeout:     opts.Timeout,
		autoRefresh: opts.AutoRefresh,
		now:         now,
		ctx:         ctx,
		cancel:      cancel,
		filter:      filter,
		subs:        make(map[int]chan Event),
	}, nil
}

// ID returns the view id.
func (c *Collection) ID() string { return c.id }

// Kind returns the collection kind.
func (c *Collection) Kind() models.Kind { return c.kind }

// AutoRefresh reports whether the view opted into background refreshes.
func (c *Collection) AutoRefresh() bool { return c.autoRefresh }

// Ledger exposes the pending mutation ledger for inspection.
func (c *Collection) Ledger() *pending.Ledger { return c.ledger }

// =====================================================
// Fetch path
// =====================================================

// LoadInitial fetches the first page for filter and replaces the confirmed
// items. Unconfirmed local items stay in front.
func (c *Collection) LoadInitial(ctx context.Context, filter models.Filter) error {
	filter = filter.Normalize()
	if err := c.spec.ValidateFilter(filter); err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.checkLive(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.loadingInitial {
		c.mu.Unlock()
		return errors.New(errors.ErrInFlight, "initial load already in flight")
	}
	c.generation++
	gen := c.generation
	c.loadingInitial = true
	c.filter = filter
	c.publish(EventLoading, "")
	c.mu.Unlock()

	return c.fetchFirst(ctx, gen, filter, func() { c.loadingInitial = false })
}

// Refresh re-fetches the first page with the current filter. It supersedes
// any in-flight LoadInitial or LoadMore.
func (c *Collection) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkLive(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.refreshing {
		c.mu.Unlock()
		return errors.New(errors.ErrInFlight, "refresh already in flight")
	}
	c.generation++
	gen := c.generation
	c.refreshing = true
	filter := c.filter
	c.publish(EventLoading, "")
	c.mu.Unlock()

	return c.fetchFirst(ctx, gen, filter, func() { c.refreshing = false })
}

func (c *Collection) fetchFirst(ctx context.Context, gen uint64, filter models.Filter, done func()) error {
	callCtx, cancel := c.callContext(ctx)
	page, err := c.gw.QueryPage(callCtx, c.kind, filter, "", c.pageSize)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return releasedError()
	}
	done()
	if gen != c.generation {
		return staleError(gen, c.generation)
	}
	if err != nil {
		c.lastError = remoteError("load page", err)
		c.publish(EventFetchFailed, "")
		return c.lastError
	}

	locals := make([]*models.CollectionItem, 0)
	for _, item := range c.items {
		if item.Local {
			locals = append(locals, item)
		}
	}
	seen := make(map[string]bool, len(locals)+len(page.Records))
	for _, item := range locals {
		seen[item.ID] = true
	}
	items := locals
	for _, rec := range page.Records {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		items = append(items, c.fromRecord(rec))
	}

	c.items = items
	c.epoch++
	c.setCursor(page)
	c.loaded = true
	c.lastError = nil
	c.publish(EventLoaded, "")

	logging.Debug("Collection page loaded", map[string]interface{}{
		"view_id":    c.id,
		"kind":       string(c.kind),
		"generation": gen,
		"records":    len(page.Records),
		"exhausted":  c.exhausted,
	})
	return nil
}

// LoadMore appends the next page, skipping ids already present.
func (c *Collection) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkLive(); err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.loaded {
		c.mu.Unlock()
		return errors.New(errors.ErrNotLoaded, "collection has not been loaded")
	}
	if c.exhausted || len(c.items) == 0 {
		c.mu.Unlock()
		return errors.New(errors.ErrExhausted, "no further pages")
	}
	if c.loadingMore || c.loadingInitial {
		c.mu.Unlock()
		return errors.New(errors.ErrInFlight, "a load is already in flight")
	}
	gen := c.generation
	epoch := c.epoch
	cursor := c.cursor
	filter := c.filter
	c.loadingMore = true
	c.publish(EventLoading, "")
	c.mu.Unlock()

	callCtx, cancel := c.callContext(ctx)
	page, err := c.gw.QueryPage(callCtx, c.kind, filter, cursor, c.pageSize)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return releasedError()
	}
	c.loadingMore = false
	if gen != c.generation {
		return staleError(gen, c.generation)
	}
	// a refresh landed while this page was in flight; its cursor no longer applies
	if epoch != c.epoch {
		return errors.New(errors.ErrStale, "page requested against a list replaced by a refresh")
	}
	if err != nil {
		c.lastError = remoteError("load more", err)
		c.publish(EventFetchFailed, "")
		return c.lastError
	}

	seen := make(map[string]bool, len(c.items))
	for _, item := range c.items {
		seen[item.ID] = true
	}
	appended := 0
	for _, rec := range page.Records {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		c.items = append(c.items, c.fromRecord(rec))
		appended++
	}
	c.setCursor(page)
	c.lastError = nil
	c.publish(EventAppended, "")

	logging.Debug("Collection page appended", map[string]interface{}{
		"view_id":   c.id,
		"records":   len(page.Records),
		"appended":  appended,
		"exhausted": c.exhausted,
	})
	return nil
}

func (c *Collection) setCursor(page gateway.Page) {
	c.cursor = page.NextCursor
	c.exhausted = len(page.Records) < c.pageSize || page.NextCursor.IsEmpty()
	if c.exhausted {
		c.cursor = ""
	}
}

func (c *Collection) fromRecord(rec gateway.Record) *models.CollectionItem {
	item := rec.ToItem()
	if item.Counters == nil {
		item.Counters = models.Counters{}
	}
	c.resolver.Overlay(item, c.ledger.List())
	return item
}

// DismissError clears lastError.
func (c *Collection) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released || c.lastError == nil {
		return
	}
	c.lastError = nil
	c.publish(EventErrorDismissed, "")
}

// =====================================================
// Mutations
// =====================================================

// CreateItem validates draft, shows a temporary item immediately and swaps
// it for the stored item once the store confirms.
func (c *Collection) CreateItem(ctx context.Context, draft models.Draft) (*models.CollectionItem, error) {
	prepared, err := c.spec.Prepare(draft)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if err := c.checkLive(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	now := c.now().UnixMilli()
	temp := &models.CollectionItem{
		ID:         uuid.NewTemporary(),
		Kind:       c.kind,
		AuthorID:   prepared.Author.ID,
		AuthorName: prepared.Author.Name,
		Content:    prepared.Content.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
		Counters:   c.spec.InitialCounters(),
		LocalFlags: c.spec.InitialFlags(),
		Local:      true,
	}
	m, err := c.ledger.Begin(models.PendingMutation{ItemID: temp.ID, Class: models.MutationItemCreate})
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.items = append([]*models.CollectionItem{temp}, c.items...)
	c.publish(EventItemCreated, temp.ID)
	c.mu.Unlock()

	callCtx, cancel := c.callContext(ctx)
	rec, err := c.gw.CreateRecord(callCtx, c.kind, gateway.Payload{
		Author:   prepared.Author,
		Content:  prepared.Content,
		Counters: c.spec.InitialCounters(),
	})
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, releasedError()
	}
	if err != nil {
		_ = c.ledger.Fail(m.ID, err)
		if i := c.indexOf(temp.ID); i >= 0 {
			c.removeAt(i)
		}
		c.publish(EventItemDropped, temp.ID)
		return nil, remoteError("create item", err)
	}
	_ = c.ledger.Complete(m.ID)

	confirmed := rec.ToItem()
	if confirmed.Counters == nil {
		confirmed.Counters = models.Counters{}
	}
	if len(confirmed.LocalFlags) == 0 {
		if i := c.indexOf(temp.ID); i >= 0 {
			confirmed.LocalFlags = c.items[i].LocalFlags.Clone()
		} else {
			confirmed.LocalFlags = temp.LocalFlags.Clone()
		}
	}

	// a refresh may already have brought the stored copy in
	if i := c.indexOf(confirmed.ID); i >= 0 {
		c.removeAt(i)
	}
	if i := c.indexOf(temp.ID); i >= 0 {
		c.removeAt(i)
	}
	// lands behind every item that is still pending, not at the temp's old slot
	c.insertAt(c.localCount(), confirmed)
	c.publish(EventItemConfirmed, confirmed.ID)

	logging.Info("Item created", map[string]interface{}{
		"view_id": c.id,
		"kind":    string(c.kind),
		"temp_id": temp.ID,
		"item_id": confirmed.ID,
	})
	return confirmed.Clone(), nil
}

// RemoveItem removes an item optimistically and deletes it in the store.
func (c *Collection) RemoveItem(ctx context.Context, id string) error {
	c.mu.Lock()
	if err := c.checkLive(); err != nil {
		c.mu.Unlock()
		return err
	}
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return errors.Newf(errors.ErrItemNotFound, "item %s not in collection", id)
	}
	removed := c.items[idx]
	if removed.Local {
		c.mu.Unlock()
		return errors.Newf(errors.ErrItemUnconfirmed, "item %s is not confirmed yet", id)
	}
	m, err := c.ledger.Begin(models.PendingMutation{ItemID: id, Class: models.MutationItemDelete})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.removeAt(idx)
	c.publish(EventItemRemoved, id)
	c.mu.Unlock()

	callCtx, cancel := c.callContext(ctx)
	err = c.gw.DeleteRecord(callCtx, id)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return releasedError()
	}
	if err != nil {
		_ = c.ledger.Fail(m.ID, err)
		if c.indexOf(id) < 0 {
			at := idx
			if at > len(c.items) {
				at = len(c.items)
			}
			if lc := c.localCount(); at < lc {
				at = lc
			}
			c.insertAt(at, removed)
			c.publish(EventItemRestored, id)
		}
		return remoteError("remove item", err)
	}

	_ = c.ledger.Complete(m.ID)
	if i := c.indexOf(id); i >= 0 {
		c.removeAt(i)
		c.publish(EventItemRemoved, id)
	}
	return nil
}

// ApplyMutation applies interaction to an item optimistically and sends the
// counter change to the store. On failure every field still holding the
// optimistic value is restored.
func (c *Collection) ApplyMutation(ctx context.Context, id string, interaction models.Interaction) (*models.CollectionItem, error) {
	rule, ok := c.spec.Rule(interaction)
	if !ok {
		return nil, errors.Newf(errors.ErrUnsupported, "%s does not support %q", c.kind, interaction)
	}

	c.mu.Lock()
	if err := c.checkLive(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return nil, errors.Newf(errors.ErrItemNotFound, "item %s not in collection", id)
	}
	item := c.items[idx]
	if item.Local {
		c.mu.Unlock()
		return nil, errors.Newf(errors.ErrItemUnconfirmed, "item %s is not confirmed yet", id)
	}

	plan := rule.Plan(item)
	m, err := c.ledger.Begin(models.PendingMutation{
		ItemID:      id,
		Class:       plan.Class,
		Interaction: interaction,
		Counter:     plan.Counter,
		Delta:       plan.Delta,
		Applied:     plan.Applied,
		Inverse:     plan.Inverse,
	})
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	plan.Applied.ApplyTo(item)
	c.publish(EventMutationApplied, id)
	c.mu.Unlock()

	callCtx, cancel := c.callContext(ctx)
	res, err := c.gw.MutateCounter(callCtx, id, plan.Counter, plan.Delta)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, releasedError()
	}
	current := c.find(id)
	if err != nil {
		_ = c.ledger.Fail(m.ID, err)
		if current != nil {
			c.resolver.Rollback(current, m)
			c.publish(EventMutationReverted, id)
		}
		return nil, remoteError(string(interaction), err)
	}

	_ = c.ledger.Complete(m.ID)
	if current == nil {
		return nil, nil
	}
	c.resolver.Confirm(current, m, res.Authoritative)
	c.publish(EventMutationSettled, id)
	return current.Clone(), nil
}

// =====================================================
// Observation and lifetime
// =====================================================

// Snapshot returns a deep copy of the current state.
func (c *Collection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]*models.CollectionItem, len(c.items))
	for i, item := range c.items {
		items[i] = item.Clone()
	}
	var lastErr *errors.AppError
	if c.lastError != nil {
		e := *c.lastError
		lastErr = &e
	}
	return Snapshot{
		ViewID:           c.id,
		Kind:             c.kind,
		Items:            items,
		Cursor:           c.cursor,
		Exhausted:        c.exhausted,
		Loaded:           c.loaded,
		IsLoadingInitial: c.loadingInitial,
		IsLoadingMore:    c.loadingMore,
		IsRefreshing:     c.refreshing,
		LastError:        lastErr,
		Generation:       c.generation,
		Filter:           c.filter,
		PendingCount:     c.ledger.Size(),
		Released:         c.released,
	}
}

// Subscribe returns a channel of change events and a function that ends the
// subscription. Events are dropped when the buffer is full. The channel is
// closed on Release.
func (c *Collection) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Release tears the view down. In-flight calls are cancelled and their
// results discarded.
func (c *Collection) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	c.cancel()
	c.publish(EventReleased, "")
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.items = nil
	c.cursor = ""
	c.lastError = nil
	c.loadingInitial, c.loadingMore, c.refreshing = false, false, false
	c.ledger.Clear()

	logging.Debug("Collection released", map[string]interface{}{
		"view_id": c.id,
		"kind":    string(c.kind),
	})
}

// Released reports whether Release has been called.
func (c *Collection) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// =====================================================
// Helpers (callers hold c.mu)
// =====================================================

func (c *Collection) checkLive() error {
	if c.released {
		return releasedError()
	}
	return nil
}

func (c *Collection) publish(t EventType, itemID string) {
	ev := Event{
		ViewID:     c.id,
		Kind:       c.kind,
		Type:       t,
		ItemID:     itemID,
		Generation: c.generation,
		At:         c.now(),
	}
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Collection) indexOf(id string) int {
	for i, item := range c.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (c *Collection) find(id string) *models.CollectionItem {
	if i := c.indexOf(id); i >= 0 {
		return c.items[i]
	}
	return nil
}

func (c *Collection) localCount() int {
	n := 0
	for _, item := range c.items {
		if !item.Local {
			break
		}
		n++
	}
	return n
}

func (c *Collection) removeAt(i int) {
	c.items = append(c.items[:i], c.items[i+1:]...)
}

func (c *Collection) insertAt(i int, item *models.CollectionItem) {
	c.items = append(c.items, nil)
	copy(c.items[i+1:], c.items[i:])
	c.items[i] = item
}

// callContext derives a call context from the caller's context that is also
// cancelled by Release and bounded by the configured timeout.
func (c *Collection) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	if c.timeout <= 0 {
		return callCtx, func() {
			stop()
			cancel()
		}
	}
	timed, cancelTimeout := context.WithTimeout(callCtx, c.timeout)
	return timed, func() {
		cancelTimeout()
		stop()
		cancel()
	}
}

func releasedError() error {
	return errors.New(errors.ErrReleased, "collection was released")
}

func staleError(gen, current uint64) error {
	return errors.Newf(errors.ErrStale, "result of generation %d superseded by %d", gen, current)
}

func remoteError(op string, err error) *errors.AppError {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ErrRemoteTimeout, op+" timed out", err)
	}
	return errors.Remote(op+" failed", err)
}
