package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/kimhsiao/churchhouse/backend/internal/collection"
	"github.com/kimhsiao/churchhouse/backend/internal/gateway"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// =====================================================
// Test Helpers
// =====================================================

func createTestScheduler(t *testing.T) (*gateway.Memory, *collection.Registry, *Scheduler) {
	t.Helper()
	gw := gateway.NewMemory()
	registry := collection.NewRegistry(collection.Config{
		Gateway:  gw,
		PageSize: func(models.Kind) int { return 10 },
	})
	t.Cleanup(registry.ReleaseAll)

	s := NewScheduler(registry, &SchedulerConfig{
		RefreshInterval: 20 * time.Millisecond,
		RefreshTimeout:  time.Second,
	})
	return gw, registry, s
}

func chapel(id string, live bool) gateway.Record {
	return gateway.Record{
		ID:        id,
		Kind:      models.KindChapel,
		AuthorID:  "host",
		Content:   models.Content{Title: "Evening prayer", Live: live},
		CreatedAt: time.Now().UnixMilli(),
		Counters:  models.Counters{"participants": 0},
	}
}

// =====================================================
// Configuration
// =====================================================

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	if config.RefreshInterval != 30*time.Second {
		t.Errorf("RefreshInterval = %v, want 30s", config.RefreshInterval)
	}
	if config.RefreshTimeout != time.Minute {
		t.Errorf("RefreshTimeout = %v, want 1m", config.RefreshTimeout)
	}
}

func TestNewScheduler_nilConfig(t *testing.T) {
	s := NewScheduler(collection.NewRegistry(collection.Config{}), nil)
	if s.refreshInterval != 30*time.Second {
		t.Errorf("refreshInterval = %v, want 30s (default)", s.refreshInterval)
	}
	if !s.IsOnline() {
		t.Error("isOnline should be true by default")
	}
}

// =====================================================
// Start/Stop
// =====================================================

func TestScheduler_StartStop(t *testing.T) {
	_, _, s := createTestScheduler(t)

	s.Start(context.Background())
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Error("Start() should set isRunning to true")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("Stop() should set isRunning to false")
	}
}

func TestScheduler_Restart(t *testing.T) {
	gw, registry, s := createTestScheduler(t)
	view, err := registry.Open(models.KindChapel, collection.OpenOptions{AutoRefresh: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	s.Start(context.Background())
	s.Stop()
	s.Stop()

	gw.Seed(chapel("c1", true))
	n, err := s.RefreshNow(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RefreshNow() after Stop = %d, %v; want 1, nil", n, err)
	}

	gw.Seed(chapel("c2", true))
	s.Start(context.Background())
	defer s.Stop()
	if !s.IsRunning() {
		t.Fatal("second Start() should run the scheduler again")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(view.Snapshot().Items) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("restarted scheduler never refreshed the view")
}

func TestScheduler_Stop_withoutStart(t *testing.T) {
	_, _, s := createTestScheduler(t)
	s.Stop()
	if s.IsRunning() {
		t.Error("Stop() without Start should keep scheduler not running")
	}
}

// =====================================================
// Refresh rounds
// =====================================================

func TestRefreshNow_onlyAutoRefreshViews(t *testing.T) {
	gw, registry, s := createTestScheduler(t)
	ctx := context.Background()

	live, err := registry.Open(models.KindChapel, collection.OpenOptions{
		Filter:      models.Filter{LiveOnly: true},
		AutoRefresh: true,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	static, err := registry.Open(models.KindChapel, collection.OpenOptions{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := live.LoadInitial(ctx, models.Filter{LiveOnly: true}); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	gw.Seed(chapel("c1", true), chapel("c2", false))

	n, err := s.RefreshNow(ctx)
	if err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RefreshNow() refreshed %d views, want 1", n)
	}
	if got := len(live.Snapshot().Items); got != 1 {
		t.Errorf("live view has %d items, want 1", got)
	}
	if static.Snapshot().Loaded {
		t.Error("views without auto refresh must not be touched")
	}

	status := s.GetStatus()
	if status.LastRefreshTime == nil || status.Refreshed != 1 {
		t.Errorf("GetStatus() = %+v", status)
	}
}

func TestRefreshNow_countsFailures(t *testing.T) {
	gw, registry, s := createTestScheduler(t)
	if _, err := registry.Open(models.KindChapel, collection.OpenOptions{AutoRefresh: true}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	gw.FailNext(gateway.OpQueryPage, context.DeadlineExceeded)
	n, err := s.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	if n != 0 || s.GetStatus().Failed != 1 {
		t.Errorf("refreshed=%d status=%+v, want one failure", n, s.GetStatus())
	}
}

func TestScheduler_tickRefreshes(t *testing.T) {
	gw, registry, s := createTestScheduler(t)
	view, err := registry.Open(models.KindChapel, collection.OpenOptions{AutoRefresh: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	gw.Seed(chapel("c1", true))

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(view.Snapshot().Items) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("scheduler never refreshed the view")
}

func TestScheduler_offlineSkipsTicks(t *testing.T) {
	gw, registry, s := createTestScheduler(t)
	if _, err := registry.Open(models.KindChapel, collection.OpenOptions{AutoRefresh: true}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	s.SetOnlineStatus(false)
	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if calls := gw.Calls(gateway.OpQueryPage); calls != 0 {
		t.Errorf("offline scheduler made %d queries", calls)
	}
}
