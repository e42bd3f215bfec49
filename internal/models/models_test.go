// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleItem() *CollectionItem {
	return &CollectionItem{
		ID:         "a",
		Kind:       KindPost,
		AuthorID:   "user-1",
		AuthorName: "Ruth",
		Content: Content{
			Text:     "Grace and peace #hope",
			Hashtags: []string{"hope"},
		},
		CreatedAt:  1_700_000_000_000,
		Counters:   Counters{"likes": 2},
		LocalFlags: Flags{"liked": true},
	}
}

func TestKindValid(t *testing.T) {
	for _, k := range Kinds() {
		assert.True(t, k.Valid(), "kind %s", k)
	}
	assert.False(t, Kind("sermon").Valid())
}

func TestCollectionItem_CloneIsDeep(t *testing.T) {
	item := sampleItem()
	clone := item.Clone()

	clone.Counters["likes"] = 99
	clone.LocalFlags["liked"] = false
	clone.Content.Hashtags[0] = "changed"

	assert.EqualValues(t, 2, item.Counters["likes"])
	assert.True(t, item.LocalFlags["liked"])
	assert.Equal(t, "hope", item.Content.Hashtags[0])

	var nilItem *CollectionItem
	assert.Nil(t, nilItem.Clone())
}

func TestCollectionItem_Accessors(t *testing.T) {
	item := sampleItem()

	assert.EqualValues(t, 2, item.Counter("likes"))
	assert.EqualValues(t, 0, item.Counter("shares"))
	assert.True(t, item.Flag("liked"))
	assert.False(t, item.Flag("shared"))
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), item.CreatedAtTime())
}

func TestCollectionItem_IsOwnedBy(t *testing.T) {
	item := sampleItem()

	assert.True(t, item.IsOwnedBy("user-1"))
	assert.False(t, item.IsOwnedBy("user-2"))
	assert.False(t, item.IsOwnedBy(""))

	item.AuthorID = ""
	assert.False(t, item.IsOwnedBy(""))
}

func TestPatch_ApplyAndMatch(t *testing.T) {
	item := &CollectionItem{ID: "x"}
	patch := Patch{
		Counters: Counters{"likes": 1},
		Flags:    Flags{"liked": true},
	}

	assert.False(t, patch.Matches(item))
	patch.ApplyTo(item)
	assert.True(t, patch.Matches(item))
	assert.EqualValues(t, 1, item.Counter("likes"))
	assert.True(t, item.Flag("liked"))

	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, patch.IsEmpty())
}

func TestPendingKey(t *testing.T) {
	like := &PendingMutation{ItemID: "a", Class: MutationFlagToggle, Interaction: InteractionLike}
	share := &PendingMutation{ItemID: "a", Class: MutationCounterIncrement, Interaction: InteractionShare}
	del := &PendingMutation{ItemID: "a", Class: MutationItemDelete}

	assert.Equal(t, "a|like", like.Key())
	assert.NotEqual(t, like.Key(), share.Key())
	assert.Equal(t, "a|item_delete", del.Key())
}

func TestFilter_Normalize(t *testing.T) {
	f := Filter{Type: " Fellowship ", Category: "Healing", Tag: "#Hope"}.Normalize()

	assert.Equal(t, FeedFellowship, f.Type)
	assert.Equal(t, "healing", f.Category)
	assert.Equal(t, "hope", f.Tag)
	assert.True(t, Filter{}.IsZero())
	assert.False(t, f.IsZero())
}

func TestCollectionItem_JSON(t *testing.T) {
	data, err := json.Marshal(sampleItem())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "a", decoded["id"])
	assert.Equal(t, "post", decoded["kind"])
	assert.NotContains(t, decoded, "local")
}
