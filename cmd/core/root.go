package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/churchhouse/backend/internal/app"
	"github.com/kimhsiao/churchhouse/backend/internal/config"
	"github.com/kimhsiao/churchhouse/backend/internal/dispatch"
	"github.com/kimhsiao/churchhouse/backend/internal/logging"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
	"github.com/kimhsiao/churchhouse/backend/internal/uuid"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	driver     string
	dataDir    string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:     "churchhouse",
		Version: Version,
		Short:   "Browse and update ChurchHouse collections",
		Long: `churchhouse pages through posts, prayer requests, chapels and fellowships
in the local store, and applies the same optimistic interactions the apps use.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to churchhouse.yaml")
	pf.StringVar(&flags.driver, "driver", "", "override gateway.driver (sqlite, redis, memory)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "override gateway.sqlite.data_dir")
	pf.BoolVar(&flags.jsonOutput, "json", false, "print JSON")

	root.AddCommand(
		newSeedCmd(flags),
		newListCmd(flags),
		newCreateCmd(flags),
		newInteractCmd(flags),
		newRemoveCmd(flags),
		newKindsCmd(flags),
	)
	return root
}

// openRuntime loads configuration, applies flag overrides and assembles the
// runtime. Callers must Close it.
func openRuntime(ctx context.Context, flags *globalFlags) (*app.App, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.driver != "" {
		cfg.Gateway.Driver = flags.driver
	}
	if flags.dataDir != "" {
		cfg.Gateway.SQLite.DataDir = flags.dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	return app.New(ctx, cfg)
}

// withView opens a view of kind, loads its first page and hands it to fn.
func withView(cmd *cobra.Command, flags *globalFlags, kind string, filter models.Filter, fn func(rt *app.App, viewID string) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, flags)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	opened := rt.Surface.Open(models.Kind(kind), dispatch.OpenRequest{Filter: filter})
	if !opened.OK() {
		return opened.Err
	}
	if res := rt.Surface.LoadInitial(ctx, opened.Value.ID, filter); !res.OK() {
		return res.Err
	}
	return fn(rt, opened.Value.ID)
}

// findItem pages through a view until id is loaded.
func findItem(ctx context.Context, rt *app.App, viewID, id string) error {
	for {
		snap := rt.Surface.Snapshot(viewID)
		if !snap.OK() {
			return snap.Err
		}
		if snap.Value.Find(id) != nil {
			return nil
		}
		if !snap.Value.HasMore {
			return fmt.Errorf("item %s not found", id)
		}
		if res := rt.Surface.LoadMore(ctx, viewID); !res.OK() {
			return res.Err
		}
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printItem(w io.Writer, item *models.CollectionItem) {
	title := item.Content.Title
	if title == "" {
		title = item.Content.Text
	}
	if len(title) > 60 {
		title = title[:57] + "..."
	}
	id := color.CyanString(item.ID)
	if uuid.IsTemporary(item.ID) {
		id = color.YellowString(item.ID)
	}
	fmt.Fprintf(w, "%s  %s  %s\n", id, title, formatCounters(item.Counters))
}

func formatCounters(c models.Counters) string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, c[name])
	}
	return strings.Join(parts, " ")
}
