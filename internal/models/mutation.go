package models

// Interaction names a user action on an item (like, pray, join, ...).
type Interaction string

const (
	InteractionLike    Interaction = "like"
	InteractionShare   Interaction = "share"
	InteractionComment Interaction = "comment"
	InteractionPray    Interaction = "pray"
	InteractionSupport Interaction = "support"
	InteractionJoin    Interaction = "join"
)

// MutationClass is the shape of a pending change.
type MutationClass string

const (
	MutationCounterIncrement MutationClass = "counter_increment"
	MutationCounterDecrement MutationClass = "counter_decrement"
	MutationFlagToggle       MutationClass = "flag_toggle"
	MutationItemDelete       MutationClass = "item_delete"
	MutationItemCreate       MutationClass = "item_create"
)

// Patch holds absolute values for the counters and flags it touches.
type Patch struct {
	Counters Counters `json:"counters,omitempty"`
	Flags    Flags    `json:"flags,omitempty"`
}

// IsEmpty reports whether the patch touches nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Counters) == 0 && len(p.Flags) == 0
}

// ApplyTo writes the patch values onto item.
func (p Patch) ApplyTo(item *CollectionItem) {
	if len(p.Counters) > 0 && item.Counters == nil {
		item.Counters = make(Counters, len(p.Counters))
	}
	for name, v := range p.Counters {
		item.Counters[name] = v
	}
	if len(p.Flags) > 0 && item.LocalFlags == nil {
		item.LocalFlags = make(Flags, len(p.Flags))
	}
	for name, v := range p.Flags {
		item.LocalFlags[name] = v
	}
}

// Matches reports whether every field in the patch currently holds the patch
// value on item.
func (p Patch) Matches(item *CollectionItem) bool {
	for name, v := range p.Counters {
		if item.Counter(name) != v {
			return false
		}
	}
	for name, v := range p.Flags {
		if item.Flag(name) != v {
			return false
		}
	}
	return true
}

// PendingMutation is an optimistic change that has been applied locally but
// not yet confirmed by the store.
type PendingMutation struct {
	ID          string        `json:"id"`
	ItemID      string        `json:"item_id"`
	Class       MutationClass `json:"class"`
	Interaction Interaction   `json:"interaction,omitempty"`
	Counter     string        `json:"counter,omitempty"`
	Delta       int64         `json:"delta,omitempty"`
	Applied     Patch         `json:"applied"`
	Inverse     Patch         `json:"inverse"`
	CreatedAt   int64         `json:"created_at"`
}

// Key identifies the mutation for the pending guard.
func (m *PendingMutation) Key() string {
	return PendingKey(m.ItemID, m.Class, m.Interaction)
}

// PendingKey builds the guard key for an item and mutation.
func PendingKey(itemID string, class MutationClass, interaction Interaction) string {
	switch class {
	case MutationItemCreate, MutationItemDelete:
		return itemID + "|" + string(class)
	}
	return itemID + "|" + string(interaction)
}
