// Package domain holds the per-kind rules of the four social collections:
// draft validation and normalisation, filter checks, and the counter/flag
// effect of every interaction.
package domain

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// Audiences accepted on posts and prayer requests.
const (
	AudiencePublic     = "public"
	AudienceFollowers  = "followers"
	AudienceFellowship = "fellowship"
)

// Spec describes one collection kind.
type Spec struct {
	Kind       models.Kind
	Categories []string

	rules     map[models.Interaction]Rule
	counters  []string
	hints     models.Flags
	seed      models.Counters
	prepare   func(d *models.Draft) error
	filterFor func(f models.Filter) error
}

// Rule returns the interaction rule, if the kind supports it.
func (s *Spec) Rule(interaction models.Interaction) (Rule, bool) {
	r, ok := s.rules[interaction]
	return r, ok
}

// Interactions lists supported interactions in name order.
func (s *Spec) Interactions() []models.Interaction {
	out := make([]models.Interaction, 0, len(s.rules))
	for i := range s.rules {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// ValidCategory reports whether c is one of the kind's categories. Kinds
// without categories accept anything.
func (s *Spec) ValidCategory(c string) bool {
	if len(s.Categories) == 0 {
		return true
	}
	for _, known := range s.Categories {
		if known == c {
			return true
		}
	}
	return false
}

// InitialCounters returns the counters a freshly created item starts with.
func (s *Spec) InitialCounters() models.Counters {
	out := make(models.Counters, len(s.counters))
	for _, name := range s.counters {
		out[name] = s.seed[name]
	}
	return out
}

// InitialFlags returns the local flags the author of a new item starts with.
func (s *Spec) InitialFlags() models.Flags {
	return s.hints.Clone()
}

// Prepare normalises a draft and validates it. The returned draft is what
// gets sent to the store.
func (s *Spec) Prepare(draft models.Draft) (models.Draft, error) {
	if draft.Kind == "" {
		draft.Kind = s.Kind
	}
	if draft.Kind != s.Kind {
		return draft, errors.Newf(errors.ErrValidation, "draft kind %q does not match collection kind %q", draft.Kind, s.Kind)
	}
	draft.Author.ID = strings.TrimSpace(draft.Author.ID)
	draft.Author.Name = strings.TrimSpace(draft.Author.Name)
	if draft.Author.ID == "" {
		return draft, errors.New(errors.ErrValidation, "author is required")
	}

	draft.Content = draft.Content.Clone()
	c := &draft.Content
	c.Title = strings.TrimSpace(c.Title)
	c.Text = strings.TrimSpace(c.Text)
	c.Category = strings.ToLower(strings.TrimSpace(c.Category))
	c.Audience = strings.ToLower(strings.TrimSpace(c.Audience))
	c.FellowshipID = strings.TrimSpace(c.FellowshipID)
	c.Tags = cleanTags(c.Tags)

	if err := s.prepare(&draft); err != nil {
		return draft, err
	}
	return draft, nil
}

// ValidateFilter rejects filters that can never be satisfied for the kind.
func (s *Spec) ValidateFilter(f models.Filter) error {
	switch f.Type {
	case "", models.FeedDiscovery, models.FeedFollowing:
	case models.FeedFellowship:
		if f.FellowshipID == "" {
			return errors.New(errors.ErrValidation, "fellowship feed requires a fellowship id")
		}
	default:
		return errors.Newf(errors.ErrValidation, "unknown feed type %q", f.Type)
	}
	if f.Category != "" && !s.ValidCategory(f.Category) {
		return errors.Newf(errors.ErrValidation, "unknown %s category %q", s.Kind, f.Category)
	}
	if s.filterFor != nil {
		return s.filterFor(f)
	}
	return nil
}

var specs = map[models.Kind]*Spec{
	models.KindPost:       postSpec(),
	models.KindPrayer:     prayerSpec(),
	models.KindChapel:     chapelSpec(),
	models.KindFellowship: fellowshipSpec(),
}

// For returns the rules for kind.
func For(kind models.Kind) (*Spec, error) {
	s, ok := specs[kind]
	if !ok {
		return nil, errors.Newf(errors.ErrValidation, "unknown collection kind %q", kind)
	}
	return s, nil
}

// All returns every spec in kind order.
func All() []*Spec {
	out := make([]*Spec, 0, len(specs))
	for _, k := range models.Kinds() {
		out = append(out, specs[k])
	}
	return out
}

// =====================================================
// Shared checks
// =====================================================

func required(field, value string) error {
	if value == "" {
		return errors.Newf(errors.ErrValidation, "%s is required", field)
	}
	return nil
}

func maxLen(field, value string, n int) error {
	if utf8.RuneCountInString(value) > n {
		return errors.Newf(errors.ErrValidation, "%s is too long (max %d characters)", field, n)
	}
	return nil
}

func audience(c *models.Content) error {
	if c.Audience == "" {
		c.Audience = AudiencePublic
	}
	switch c.Audience {
	case AudiencePublic, AudienceFollowers:
		c.FellowshipID = ""
	case AudienceFellowship:
		if c.FellowshipID == "" {
			return errors.New(errors.ErrValidation, "fellowship audience requires a fellowship id")
		}
	default:
		return errors.Newf(errors.ErrValidation, "unknown audience %q", c.Audience)
	}
	return nil
}

func category(s *Spec, c *models.Content) error {
	if c.Category == "" {
		return errors.New(errors.ErrValidation, "category is required")
	}
	if !s.ValidCategory(c.Category) {
		return errors.Newf(errors.ErrValidation, "unknown %s category %q", s.Kind, c.Category)
	}
	return nil
}

func cleanTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
