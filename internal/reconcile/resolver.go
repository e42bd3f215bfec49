// Package reconcile settles optimistic mutations against what the store
// reports: confirmations, rollbacks and refreshed pages.
package reconcile

import (
	"sort"

	"github.com/kimhsiao/churchhouse/backend/internal/logging"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// Strategy decides who wins when the store and the optimistic patch disagree.
type Strategy string

const (
	// StrategyServerWins applies authoritative counter values and lets
	// refreshed pages replace optimistic state.
	StrategyServerWins Strategy = "server_wins"
	// StrategyOptimisticStands keeps optimistic values until the mutation
	// resolves, re-applying them over refreshed pages.
	StrategyOptimisticStands Strategy = "optimistic_stands"
)

// Resolutions reported in Outcome.
const (
	ResolutionServerWins     = "server_wins"
	ResolutionOptimisticKept = "optimistic_kept"
	ResolutionRolledBack     = "rolled_back"
	ResolutionSuperseded     = "superseded"
)

// Outcome describes what a reconciliation changed.
type Outcome struct {
	ItemID     string
	Resolution string
	Fields     []string
}

// Resolver applies a Strategy.
type Resolver struct {
	strategy Strategy
}

// NewResolver creates a new Resolver with the specified strategy.
func NewResolver(strategy Strategy) *Resolver {
	switch strategy {
	case StrategyServerWins, StrategyOptimisticStands:
	default:
		strategy = StrategyServerWins
	}
	return &Resolver{strategy: strategy}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Confirm settles a mutation the store accepted. authoritative is the
// counter value the store reported, nil for an acknowledgement.
func (r *Resolver) Confirm(item *models.CollectionItem, m *models.PendingMutation, authoritative *int64) Outcome {
	out := Outcome{ItemID: item.ID, Resolution: ResolutionOptimisticKept}
	if authoritative == nil || r.strategy != StrategyServerWins || m.Counter == "" {
		return out
	}

	value := *authoritative
	if value < 0 {
		value = 0
	}
	if item.Counters == nil {
		item.Counters = models.Counters{}
	}
	if item.Counters[m.Counter] != value {
		logging.Debug("Store counter differs from optimistic value", map[string]interface{}{
			"item_id":       item.ID,
			"counter":       m.Counter,
			"optimistic":    item.Counters[m.Counter],
			"authoritative": value,
		})
	}
	item.Counters[m.Counter] = value
	out.Resolution = ResolutionServerWins
	out.Fields = []string{"counter:" + m.Counter}
	return out
}

// Rollback restores every field the mutation patched whose current value is
// still the optimistic one. Fields changed since (by a refresh or by the
// store) are left alone.
func (r *Resolver) Rollback(item *models.CollectionItem, m *models.PendingMutation) Outcome {
	out := Outcome{ItemID: item.ID, Resolution: ResolutionRolledBack}

	for name, applied := range m.Applied.Counters {
		if item.Counter(name) != applied {
			continue
		}
		before, ok := m.Inverse.Counters[name]
		if !ok {
			continue
		}
		if item.Counters == nil {
			item.Counters = models.Counters{}
		}
		item.Counters[name] = before
		out.Fields = append(out.Fields, "counter:"+name)
	}
	for name, applied := range m.Applied.Flags {
		if item.Flag(name) != applied {
			continue
		}
		before, ok := m.Inverse.Flags[name]
		if !ok {
			continue
		}
		if item.LocalFlags == nil {
			item.LocalFlags = models.Flags{}
		}
		item.LocalFlags[name] = before
		out.Fields = append(out.Fields, "flag:"+name)
	}
	sort.Strings(out.Fields)

	if len(out.Fields) == 0 {
		out.Resolution = ResolutionSuperseded
	}
	logging.Info("Optimistic mutation rolled back", map[string]interface{}{
		"item_id":     item.ID,
		"interaction": string(m.Interaction),
		"resolution":  out.Resolution,
		"fields":      out.Fields,
	})
	return out
}

// Overlay re-applies pending patches to an item freshly read from the store.
// It is a no-op under StrategyServerWins. Returns the number of patches
// applied.
func (r *Resolver) Overlay(item *models.CollectionItem, pending []*models.PendingMutation) int {
	if r.strategy != StrategyOptimisticStands {
		return 0
	}
	n := 0
	for _, m := range pending {
		if m.ItemID != item.ID || m.Applied.IsEmpty() {
			continue
		}
		m.Applied.ApplyTo(item)
		n++
	}
	return n
}
