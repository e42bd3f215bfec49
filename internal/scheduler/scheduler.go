// Package scheduler refreshes auto-refresh views in the background, e.g.
// the live chapel list.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/churchhouse/backend/internal/collection"
	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/logging"
)

// Source supplies the views to refresh on each tick.
type Source interface {
	AutoRefreshViews() []*collection.Collection
}

// Scheduler manages background refreshes.
type Scheduler struct {
	source          Source
	refreshInterval time.Duration
	refreshTimeout  time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.RWMutex
	isRunning       bool
	isOnline        bool
	lastRefreshTime time.Time
	inProgress      bool
	refreshed       int
	failed          int
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	RefreshInterval time.Duration // How often to refresh (default: 30 seconds)
	RefreshTimeout  time.Duration // Upper bound for one round (default: 1 minute)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		RefreshInterval: 30 * time.Second,
		RefreshTimeout:  1 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(source Source, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	timeout := config.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultSchedulerConfig().RefreshTimeout
	}

	return &Scheduler{
		source:          source,
		refreshInterval: config.RefreshInterval,
		refreshTimeout:  timeout,
		isOnline:        true, // Assume online initially
	}
}

// Start starts the background refresh loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.refreshLoop(ctx, stopCh)

	logging.Info("Background refresh scheduler started", map[string]interface{}{
		"interval": s.refreshInterval.String(),
	})
}

// Stop stops the scheduler and waits for the running round to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()

	logging.Info("Background refresh scheduler stopped", nil)
}

// SetOnlineStatus changes the online status of the scheduler.
// When offline, ticks are skipped.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasOnline := s.isOnline
	s.isOnline = isOnline

	if wasOnline != isOnline {
		logging.Info("Online status changed",
			map[string]interface{}{
				"was_online": wasOnline,
				"is_online":  isOnline,
			})
	}
}

func (s *Scheduler) refreshLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			if _, err := s.RefreshNow(ctx); err != nil {
				logging.Debug("Refresh round skipped", map[string]interface{}{"reason": err.Error()})
			}
		}
	}
}

// RefreshNow refreshes every auto-refresh view once and returns how many
// succeeded. A round already in progress makes it return ErrInFlight.
func (s *Scheduler) RefreshNow(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return 0, errors.New(errors.ErrInFlight, "refresh round already in progress")
	}
	s.inProgress = true
	// nil when stopped; a manual round then runs to completion
	stopCh := s.stopCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	roundCtx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()

	views := s.source.AutoRefreshViews()
	ok, failed := 0, 0
	for _, view := range views {
		select {
		case <-stopCh:
			return ok, nil
		default:
		}

		err := view.Refresh(roundCtx)
		switch {
		case err == nil:
			ok++
		case errors.IsKind(err, errors.KindStale), errors.Is(err, errors.ErrInFlight):
			// superseded by a caller or released mid-round
		default:
			failed++
			logging.Warn("Background refresh failed", map[string]interface{}{
				"view_id": view.ID(),
				"kind":    string(view.Kind()),
				"error":   err.Error(),
			})
		}
	}

	s.mu.Lock()
	s.lastRefreshTime = time.Now()
	s.refreshed += ok
	s.failed += failed
	s.mu.Unlock()

	if len(views) > 0 {
		logging.Debug("Refresh round completed", map[string]interface{}{
			"views":     len(views),
			"refreshed": ok,
			"failed":    failed,
		})
	}
	return ok, nil
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	IsRunning       bool       `json:"is_running"`
	IsOnline        bool       `json:"is_online"`
	LastRefreshTime *time.Time `json:"last_refresh_time,omitempty"`
	InProgress      bool       `json:"in_progress"`
	Refreshed       int        `json:"refreshed"`
	Failed          int        `json:"failed"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:  s.isRunning,
		IsOnline:   s.isOnline,
		InProgress: s.inProgress,
		Refreshed:  s.refreshed,
		Failed:     s.failed,
	}
	if !s.lastRefreshTime.IsZero() {
		t := s.lastRefreshTime
		status.LastRefreshTime = &t
	}
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
