package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/churchhouse/backend/internal/app"
	"github.com/kimhsiao/churchhouse/backend/internal/domain"
	"github.com/kimhsiao/churchhouse/backend/internal/gateway"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// fixtureFile is the YAML layout read by "seed".
type fixtureFile struct {
	Records []fixture `yaml:"records"`
}

type fixture struct {
	ID         string           `yaml:"id"`
	Kind       models.Kind      `yaml:"kind"`
	AuthorID   string           `yaml:"author_id"`
	AuthorName string           `yaml:"author_name"`
	CreatedAt  int64            `yaml:"created_at"`
	Counters   map[string]int64 `yaml:"counters"`
	Content    struct {
		Title        string   `yaml:"title"`
		Text         string   `yaml:"text"`
		Category     string   `yaml:"category"`
		Audience     string   `yaml:"audience"`
		FellowshipID string   `yaml:"fellowship_id"`
		Tags         []string `yaml:"tags"`
		Status       string   `yaml:"status"`
		Urgent       bool     `yaml:"urgent"`
		Live         bool     `yaml:"live"`
	} `yaml:"content"`
}

func (f fixture) record() gateway.Record {
	return gateway.Record{
		ID:         f.ID,
		Kind:       f.Kind,
		AuthorID:   f.AuthorID,
		AuthorName: f.AuthorName,
		CreatedAt:  f.CreatedAt,
		Counters:   models.Counters(f.Counters),
		Content: models.Content{
			Title:        f.Content.Title,
			Text:         f.Content.Text,
			Category:     f.Content.Category,
			Audience:     f.Content.Audience,
			FellowshipID: f.Content.FellowshipID,
			Tags:         f.Content.Tags,
			Status:       f.Content.Status,
			Urgent:       f.Content.Urgent,
			Live:         f.Content.Live,
		},
	}
}

func newSeedCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixtures.yaml>",
		Short: "Import fixture records into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var file fixtureFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			ctx := context.Background()
			rt, err := openRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			for i, f := range file.Records {
				if !f.Kind.Valid() {
					return fmt.Errorf("record %d: unknown kind %q", i, f.Kind)
				}
				if _, err := rt.Store.Import(ctx, f.record()); err != nil {
					return fmt.Errorf("record %d: %w", i, err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Imported %d records", len(file.Records)))
			return nil
		},
	}
}

func newListCmd(flags *globalFlags) *cobra.Command {
	var (
		pages  int
		filter models.Filter
	)
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "Page through a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withView(cmd, flags, args[0], filter, func(rt *app.App, viewID string) error {
				ctx := context.Background()
				for i := 1; i < pages; i++ {
					snap := rt.Surface.Snapshot(viewID)
					if !snap.OK() {
						return snap.Err
					}
					if !snap.Value.HasMore {
						break
					}
					if res := rt.Surface.LoadMore(ctx, viewID); !res.OK() {
						return res.Err
					}
				}

				snap := rt.Surface.Snapshot(viewID)
				if !snap.OK() {
					return snap.Err
				}
				out := cmd.OutOrStdout()
				if flags.jsonOutput {
					return printJSON(out, snap.Value)
				}
				if len(snap.Value.Items) == 0 {
					fmt.Fprintln(out, "No items")
					return nil
				}
				for _, item := range snap.Value.Items {
					printItem(out, item)
				}
				if snap.Value.HasMore {
					fmt.Fprintln(out, color.New(color.Faint).Sprint("(more available)"))
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&pages, "pages", 1, "number of pages to load")
	f.StringVar(&filter.Type, "feed", "", "feed type (discovery, following, fellowship)")
	f.StringVar(&filter.Category, "category", "", "only items in this category")
	f.StringVar(&filter.AuthorID, "author", "", "only items by this author")
	f.StringVar(&filter.FellowshipID, "fellowship", "", "only items in this fellowship")
	f.StringVar(&filter.Status, "status", "", "prayer status")
	f.StringVar(&filter.Tag, "tag", "", "only items with this tag")
	f.BoolVar(&filter.LiveOnly, "live", false, "only live chapels")
	return cmd
}

func newCreateCmd(flags *globalFlags) *cobra.Command {
	var draft models.Draft
	var tags string
	cmd := &cobra.Command{
		Use:   "create <kind>",
		Short: "Create an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tags != "" {
				draft.Content.Tags = strings.Split(tags, ",")
			}
			return withView(cmd, flags, args[0], models.Filter{}, func(rt *app.App, viewID string) error {
				res := rt.Surface.CreateItem(context.Background(), viewID, draft)
				if !res.OK() {
					return res.Err
				}
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), res.Value)
				}
				printItem(cmd.OutOrStdout(), res.Value)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&draft.Author.ID, "author", "", "author id")
	f.StringVar(&draft.Author.Name, "author-name", "", "author display name")
	f.StringVar(&draft.Content.Title, "title", "", "title (prayers, chapels, fellowships)")
	f.StringVar(&draft.Content.Text, "text", "", "body text")
	f.StringVar(&draft.Content.Category, "category", "", "category")
	f.StringVar(&draft.Content.Audience, "audience", "", "post audience")
	f.StringVar(&draft.Content.FellowshipID, "fellowship", "", "fellowship id")
	f.StringVar(&tags, "tags", "", "comma separated tags")
	f.BoolVar(&draft.Content.Anonymous, "anonymous", false, "post a prayer anonymously")
	f.BoolVar(&draft.Content.Urgent, "urgent", false, "mark a prayer urgent")
	f.IntVar(&draft.Content.MaxParticipants, "max-participants", 0, "chapel capacity")
	return cmd
}

func newInteractCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "interact <kind> <id> <interaction>",
		Short: "Apply an interaction such as like, pray or join",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withView(cmd, flags, args[0], models.Filter{}, func(rt *app.App, viewID string) error {
				ctx := context.Background()
				if err := findItem(ctx, rt, viewID, args[1]); err != nil {
					return err
				}
				res := rt.Surface.ApplyMutation(ctx, viewID, args[1], models.Interaction(args[2]))
				if !res.OK() {
					return res.Err
				}
				if res.Value == nil {
					// removed from the view while the call was in flight
					fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Applied %s", args[2]))
					return nil
				}
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), res.Value)
				}
				printItem(cmd.OutOrStdout(), res.Value)
				return nil
			})
		},
	}
}

func newRemoveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <kind> <id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withView(cmd, flags, args[0], models.Filter{}, func(rt *app.App, viewID string) error {
				ctx := context.Background()
				if err := findItem(ctx, rt, viewID, args[1]); err != nil {
					return err
				}
				res := rt.Surface.RemoveItem(ctx, viewID, args[1])
				if !res.OK() {
					return res.Err
				}
				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Removed %s", res.Value))
				return nil
			})
		},
	}
}

func newKindsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List collection kinds and their interactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			kinds := []models.Kind{models.KindPost, models.KindPrayer, models.KindChapel, models.KindFellowship}
			listing := make(map[models.Kind][]models.Interaction, len(kinds))
			for _, kind := range kinds {
				spec, err := domain.For(kind)
				if err != nil {
					return err
				}
				listing[kind] = spec.Interactions()
			}
			if flags.jsonOutput {
				return printJSON(out, listing)
			}
			for _, kind := range kinds {
				names := make([]string, len(listing[kind]))
				for i, in := range listing[kind] {
					names[i] = string(in)
				}
				fmt.Fprintf(out, "%-11s %s\n", kind, strings.Join(names, ", "))
			}
			return nil
		},
	}
}
