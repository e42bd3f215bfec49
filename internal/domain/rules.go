package domain

import (
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// Rule is the local effect of an interaction.
type Rule struct {
	Interaction models.Interaction
	Counter     string
	// Flag is set by the interaction; empty when none.
	Flag string
	// Toggle flips Flag and moves Counter by one in the matching direction.
	// Otherwise the counter is incremented and Flag set.
	Toggle bool
}

// Plan is a computed mutation: the patches to apply and undo, and the delta
// sent to the store.
type Plan struct {
	Class   models.MutationClass
	Counter string
	Delta   int64
	Applied models.Patch
	Inverse models.Patch
}

// Plan computes the mutation against item's current values. Counters never
// go below zero locally; the delta is still sent so the store can settle it.
func (r Rule) Plan(item *models.CollectionItem) Plan {
	current := item.Counter(r.Counter)
	p := Plan{
		Class:   models.MutationCounterIncrement,
		Counter: r.Counter,
		Delta:   1,
		Applied: models.Patch{Counters: models.Counters{}},
		Inverse: models.Patch{Counters: models.Counters{r.Counter: current}},
	}

	if r.Toggle {
		p.Class = models.MutationFlagToggle
		on := item.Flag(r.Flag)
		if on {
			p.Delta = -1
		}
		p.Applied.Flags = models.Flags{r.Flag: !on}
		p.Inverse.Flags = models.Flags{r.Flag: on}
	} else if r.Flag != "" {
		p.Applied.Flags = models.Flags{r.Flag: true}
		p.Inverse.Flags = models.Flags{r.Flag: item.Flag(r.Flag)}
	}

	next := current + p.Delta
	if next < 0 {
		next = 0
	}
	p.Applied.Counters[r.Counter] = next
	return p
}
