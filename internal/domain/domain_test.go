package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

var author = models.Author{ID: "u1", Name: "Lydia"}

func mustSpec(t *testing.T, kind models.Kind) *Spec {
	t.Helper()
	s, err := For(kind)
	require.NoError(t, err)
	return s
}

func TestForUnknownKind(t *testing.T) {
	_, err := For("sermon")
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.Len(t, All(), 4)
}

func TestPostPrepare(t *testing.T) {
	s := mustSpec(t, models.KindPost)

	d, err := s.Prepare(models.Draft{Author: author, Content: models.Content{
		Text: "  Praise #Grace and #hope with @Paul #grace ",
	}})
	require.NoError(t, err)
	assert.Equal(t, models.KindPost, d.Kind)
	assert.Equal(t, "Praise #Grace and #hope with @Paul #grace", d.Content.Text)
	assert.Equal(t, []string{"grace", "hope"}, d.Content.Hashtags)
	assert.Equal(t, []string{"paul"}, d.Content.Mentions)
	assert.Equal(t, AudiencePublic, d.Content.Audience)
}

func TestPostPrepareRejects(t *testing.T) {
	s := mustSpec(t, models.KindPost)
	tests := []struct {
		name    string
		draft   models.Draft
		message string
	}{
		{"empty", models.Draft{Author: author, Content: models.Content{Text: "   "}}, "empty"},
		{"too long", models.Draft{Author: author, Content: models.Content{Text: strings.Repeat("a", MaxPostLength+1)}}, "too long"},
		{"flagged", models.Draft{Author: author, Content: models.Content{Text: "Not a SCAM"}}, "inappropriate"},
		{"no author", models.Draft{Content: models.Content{Text: "hi"}}, "author"},
		{"wrong kind", models.Draft{Kind: models.KindPrayer, Author: author, Content: models.Content{Text: "hi"}}, "does not match"},
		{"fellowship without id", models.Draft{Author: author, Content: models.Content{Text: "hi", Audience: "fellowship"}}, "fellowship id"},
		{"bad audience", models.Draft{Author: author, Content: models.Content{Text: "hi", Audience: "world"}}, "audience"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Prepare(tt.draft)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrValidation))
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	_, err := s.Prepare(models.Draft{Author: author, Content: models.Content{Text: strings.Repeat("é", MaxPostLength)}})
	assert.NoError(t, err, "length counts characters, not bytes")
}

func TestPrayerPrepare(t *testing.T) {
	s := mustSpec(t, models.KindPrayer)

	d, err := s.Prepare(models.Draft{Author: author, Content: models.Content{
		Title: "Surgery", Text: "Please pray for my mother", Category: "Healing", Anonymous: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, AnonymousAuthorName, d.Author.Name)
	assert.Equal(t, "u1", d.Author.ID)
	assert.Equal(t, "healing", d.Content.Category)
	assert.Equal(t, PrayerStatusActive, d.Content.Status)

	_, err = s.Prepare(models.Draft{Author: author, Content: models.Content{Title: "x", Text: "y", Category: "weather"}})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = s.Prepare(models.Draft{Author: author, Content: models.Content{
		Title: strings.Repeat("t", MaxPrayerTitle+1), Text: "y", Category: "other",
	}})
	assert.Error(t, err)

	_, err = s.Prepare(models.Draft{Author: author, Content: models.Content{
		Title: "t", Text: strings.Repeat("d", MaxPrayerDescription+1), Category: "other",
	}})
	assert.Error(t, err)
}

func TestChapelPrepare(t *testing.T) {
	s := mustSpec(t, models.KindChapel)

	d, err := s.Prepare(models.Draft{Author: author, Content: models.Content{
		Title: "Evening worship", Text: "Songs", Category: "worship", Live: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, MaxChapelParticipants, d.Content.MaxParticipants)
	assert.False(t, d.Content.Live, "new chapels start offline")

	_, err = s.Prepare(models.Draft{Author: author, Content: models.Content{
		Title: "x", Text: "y", Category: "worship", MaxParticipants: 51,
	}})
	assert.Error(t, err)

	_, err = s.Prepare(models.Draft{Author: author, Content: models.Content{
		Title: "x", Text: strings.Repeat("d", MaxChapelDescription+1), Category: "worship",
	}})
	assert.Error(t, err)
}

func TestFellowshipPrepare(t *testing.T) {
	s := mustSpec(t, models.KindFellowship)

	_, err := s.Prepare(models.Draft{Author: author, Content: models.Content{Title: "Grace Church", Text: "Sunday service", Category: "church"}})
	require.NoError(t, err)
	assert.Equal(t, models.Counters{CounterMembers: 1}, s.InitialCounters())
	assert.Equal(t, models.Flags{FlagJoined: true}, s.InitialFlags())

	_, err = s.Prepare(models.Draft{Author: author, Content: models.Content{Text: "no name", Category: "church"}})
	assert.Contains(t, err.Error(), "name")
}

func TestValidateFilter(t *testing.T) {
	post := mustSpec(t, models.KindPost)
	assert.NoError(t, post.ValidateFilter(models.Filter{}))
	assert.NoError(t, post.ValidateFilter(models.Filter{Type: models.FeedFellowship, FellowshipID: "f1"}))
	assert.Error(t, post.ValidateFilter(models.Filter{Type: models.FeedFellowship}))
	assert.Error(t, post.ValidateFilter(models.Filter{Type: "trending"}))

	prayer := mustSpec(t, models.KindPrayer)
	assert.NoError(t, prayer.ValidateFilter(models.Filter{Category: "family", Status: "active"}))
	assert.Error(t, prayer.ValidateFilter(models.Filter{Category: "weather"}))

	chapel := mustSpec(t, models.KindChapel)
	assert.NoError(t, chapel.ValidateFilter(models.Filter{LiveOnly: true, FellowshipID: "f1"}))
	assert.Error(t, chapel.ValidateFilter(models.Filter{Type: models.FeedFollowing}))
}

func TestInteractions(t *testing.T) {
	assert.Equal(t,
		[]models.Interaction{models.InteractionComment, models.InteractionLike, models.InteractionShare},
		mustSpec(t, models.KindPost).Interactions())
	assert.Equal(t,
		[]models.Interaction{models.InteractionPray, models.InteractionSupport},
		mustSpec(t, models.KindPrayer).Interactions())

	_, ok := mustSpec(t, models.KindChapel).Rule(models.InteractionLike)
	assert.False(t, ok)
}

func TestRulePlanToggle(t *testing.T) {
	rule, _ := mustSpec(t, models.KindPost).Rule(models.InteractionLike)
	item := &models.CollectionItem{ID: "p1", Counters: models.Counters{CounterLikes: 3}}

	plan := rule.Plan(item)
	assert.Equal(t, models.MutationFlagToggle, plan.Class)
	assert.Equal(t, int64(1), plan.Delta)
	assert.Equal(t, models.Patch{Counters: models.Counters{"likes": 4}, Flags: models.Flags{"liked": true}}, plan.Applied)
	assert.Equal(t, models.Patch{Counters: models.Counters{"likes": 3}, Flags: models.Flags{"liked": false}}, plan.Inverse)

	plan.Applied.ApplyTo(item)
	plan = rule.Plan(item)
	assert.Equal(t, int64(-1), plan.Delta)
	assert.Equal(t, int64(3), plan.Applied.Counters["likes"])
	assert.False(t, plan.Applied.Flags["liked"])
}

func TestRulePlanClampsAtZero(t *testing.T) {
	rule, _ := mustSpec(t, models.KindChapel).Rule(models.InteractionJoin)
	item := &models.CollectionItem{ID: "c1", LocalFlags: models.Flags{FlagJoined: true}}

	plan := rule.Plan(item)
	assert.Equal(t, int64(-1), plan.Delta)
	assert.Equal(t, int64(0), plan.Applied.Counters[CounterParticipants])
	assert.Equal(t, int64(0), plan.Inverse.Counters[CounterParticipants])
}

func TestRulePlanIncrement(t *testing.T) {
	rule, _ := mustSpec(t, models.KindPrayer).Rule(models.InteractionPray)
	item := &models.CollectionItem{ID: "r1", Counters: models.Counters{CounterPrayers: 5}, LocalFlags: models.Flags{FlagPrayed: true}}

	plan := rule.Plan(item)
	assert.Equal(t, models.MutationCounterIncrement, plan.Class)
	assert.Equal(t, int64(6), plan.Applied.Counters[CounterPrayers])
	assert.True(t, plan.Applied.Flags[FlagPrayed])
	assert.True(t, plan.Inverse.Flags[FlagPrayed])

	comment, _ := mustSpec(t, models.KindPost).Rule(models.InteractionComment)
	plan = comment.Plan(&models.CollectionItem{})
	assert.Nil(t, plan.Applied.Flags)
	assert.Equal(t, int64(1), plan.Applied.Counters[CounterComments])
}
