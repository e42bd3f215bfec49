package domain

import (
	"regexp"
	"strings"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// Counter and flag names.
const (
	CounterLikes        = "likes"
	CounterShares       = "shares"
	CounterComments     = "comments"
	CounterPrayers      = "prayers"
	CounterSupports     = "supports"
	CounterParticipants = "participants"
	CounterMembers      = "members"

	FlagLiked   = "liked"
	FlagShared  = "shared"
	FlagPrayed  = "prayed"
	FlagJoined  = "joined"
	FlagSupport = "supported"
)

// Limits on draft fields.
const (
	MaxPostLength           = 2000
	MaxPrayerTitle          = 100
	MaxPrayerDescription    = 500
	MaxChapelTitle          = 100
	MaxChapelDescription    = 300
	MaxChapelParticipants   = 50
	defaultChapelCapacity   = MaxChapelParticipants
	inappropriateContentMsg = "post contains inappropriate content"
)

const (
	AnonymousAuthorName = "Anonymous"
	PrayerStatusActive  = "active"
)

// FlaggedWords are rejected anywhere in post text.
var FlaggedWords = []string{"spam", "scam"}

var (
	hashtagPattern = regexp.MustCompile(`#(\w+)`)
	mentionPattern = regexp.MustCompile(`@(\w+)`)
)

// ParseHashtags returns the hashtags in text, lower-cased, without the sigil.
func ParseHashtags(text string) []string {
	return parseSigils(hashtagPattern, text)
}

// ParseMentions returns the mentions in text, lower-cased, without the sigil.
func ParseMentions(text string) []string {
	return parseSigils(mentionPattern, text)
}

func parseSigils(re *regexp.Regexp, text string) []string {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		v := strings.ToLower(m[1])
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func postSpec() *Spec {
	s := &Spec{
		Kind: models.KindPost,
		rules: map[models.Interaction]Rule{
			models.InteractionLike:    {Interaction: models.InteractionLike, Counter: CounterLikes, Flag: FlagLiked, Toggle: true},
			models.InteractionShare:   {Interaction: models.InteractionShare, Counter: CounterShares, Flag: FlagShared},
			models.InteractionComment: {Interaction: models.InteractionComment, Counter: CounterComments},
		},
		counters: []string{CounterLikes, CounterComments, CounterShares},
	}
	s.prepare = func(d *models.Draft) error {
		c := &d.Content
		if c.Text == "" {
			return errors.New(errors.ErrValidation, "post cannot be empty")
		}
		if err := maxLen("post", c.Text, MaxPostLength); err != nil {
			return err
		}
		lower := strings.ToLower(c.Text)
		for _, w := range FlaggedWords {
			if strings.Contains(lower, w) {
				return errors.New(errors.ErrValidation, inappropriateContentMsg)
			}
		}
		if err := audience(c); err != nil {
			return err
		}
		c.Hashtags = ParseHashtags(c.Text)
		c.Mentions = ParseMentions(c.Text)
		return nil
	}
	return s
}

func prayerSpec() *Spec {
	s := &Spec{
		Kind: models.KindPrayer,
		Categories: []string{
			"healing", "family", "finances", "guidance", "salvation",
			"protection", "ministry", "relationships", "other",
		},
		rules: map[models.Interaction]Rule{
			models.InteractionPray:    {Interaction: models.InteractionPray, Counter: CounterPrayers, Flag: FlagPrayed},
			models.InteractionSupport: {Interaction: models.InteractionSupport, Counter: CounterSupports, Flag: FlagSupport},
		},
		counters: []string{CounterPrayers, CounterSupports},
	}
	s.prepare = func(d *models.Draft) error {
		c := &d.Content
		err := firstErr(
			required("title", c.Title),
			maxLen("title", c.Title, MaxPrayerTitle),
			required("description", c.Text),
			maxLen("description", c.Text, MaxPrayerDescription),
			category(s, c),
			audience(c),
		)
		if err != nil {
			return err
		}
		if c.Status == "" {
			c.Status = PrayerStatusActive
		}
		if c.Anonymous {
			d.Author.Name = AnonymousAuthorName
			d.Author.ProfilePic = ""
		}
		return nil
	}
	return s
}

func chapelSpec() *Spec {
	s := &Spec{
		Kind: models.KindChapel,
		Categories: []string{
			"worship", "bible_study", "prayer", "testimony", "youth",
			"ministry", "fellowship", "evangelism", "other",
		},
		rules: map[models.Interaction]Rule{
			models.InteractionJoin: {Interaction: models.InteractionJoin, Counter: CounterParticipants, Flag: FlagJoined, Toggle: true},
		},
		counters: []string{CounterParticipants},
	}
	s.prepare = func(d *models.Draft) error {
		c := &d.Content
		err := firstErr(
			required("title", c.Title),
			maxLen("title", c.Title, MaxChapelTitle),
			required("description", c.Text),
			maxLen("description", c.Text, MaxChapelDescription),
			category(s, c),
		)
		if err != nil {
			return err
		}
		if c.MaxParticipants == 0 {
			c.MaxParticipants = defaultChapelCapacity
		}
		if c.MaxParticipants < 0 || c.MaxParticipants > MaxChapelParticipants {
			return errors.Newf(errors.ErrValidation, "max participants must be between 1 and %d", MaxChapelParticipants)
		}
		c.Live = false
		return nil
	}
	s.filterFor = func(f models.Filter) error {
		if f.Type == models.FeedFollowing || f.Type == models.FeedFellowship {
			return errors.Newf(errors.ErrValidation, "chapels have no %s feed", f.Type)
		}
		return nil
	}
	return s
}

func fellowshipSpec() *Spec {
	s := &Spec{
		Kind: models.KindFellowship,
		Categories: []string{
			"church", "bible_study", "youth", "ministry", "missions",
			"worship", "prayer", "fellowship", "other",
		},
		rules: map[models.Interaction]Rule{
			models.InteractionJoin: {Interaction: models.InteractionJoin, Counter: CounterMembers, Flag: FlagJoined, Toggle: true},
		},
		counters: []string{CounterMembers},
		// the founder is the first member
		seed:  models.Counters{CounterMembers: 1},
		hints: models.Flags{FlagJoined: true},
	}
	s.prepare = func(d *models.Draft) error {
		c := &d.Content
		return firstErr(
			required("name", c.Title),
			required("description", c.Text),
			category(s, c),
		)
	}
	s.filterFor = func(f models.Filter) error {
		if f.Type == models.FeedFollowing || f.Type == models.FeedFellowship {
			return errors.Newf(errors.ErrValidation, "fellowships have no %s feed", f.Type)
		}
		return nil
	}
	return s
}
