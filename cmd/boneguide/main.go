package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boneguide-go/internal/app"
	"boneguide-go/internal/config"
	"boneguide-go/internal/guide"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// newApp reads the config and creates a GuideApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "Sync", "Browse").
func newApp(ctx context.Context, command string, opts app.Options) (*app.GuideApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	opts.Verbose = verbose
	a, err := app.NewGuideApp(ctx, cfg, command, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// imageProgress draws a progress bar on the first image download.
type imageProgress struct {
	bar *progressbar.ProgressBar
}

func (p *imageProgress) update(done, total int) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Downloading images"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionClearOnFinish(),
		)
	}
	p.bar.Set(done)
	if done == total {
		p.bar.Finish()
	}
}

func printStatus(s guide.Status) {
	f := s.Flags()
	fmt.Printf("Hospital:   %d\n", s.HospitalID)
	fmt.Printf("Phase:      %s\n", s.Phase)
	fmt.Printf("Browsable:  %v\n", f.CanBrowse())
	if s.Err != nil {
		fmt.Printf("Error:      %v\n", s.Err)
	}
	switch s.Phase {
	case guide.PhaseNeverSyncedOffline:
		fmt.Println("This hospital has never been downloaded. Connect to the internet and run sync.")
	case guide.PhaseStaleOffline:
		fmt.Println("A newer version is available. Connect to the internet and run sync, or browse with --allow-stale.")
	case guide.PhaseDownloadFailed:
		fmt.Println("The download failed. Run sync again to retry.")
	}
}

var rootCmd = &cobra.Command{
	Use:          "boneguide",
	Short:        "Offline mirror of hospital orthopaedic guidelines",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceID := uuid.New().String()
		cfg := config.NewConfig(deviceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID:      %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Remote:         %s\n", cfg.Remote.BaseURL)
		fmt.Printf("Database:       %s\n", cfg.Database.Type)
		fmt.Printf("Assets:         %s\n", cfg.Assets.Type)
		fmt.Printf("Version Source: %s\n", cfg.Sync.VersionSource)
		if cfg.Sync.HospitalID != 0 {
			fmt.Printf("Hospital:       %d\n", cfg.Sync.HospitalID)
		}
		return nil
	},
}

// catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the hospital catalog",
}

var catalogRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Download the hospital list and defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RefreshCatalog", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.RefreshCatalog(cmd.Context())
		if err != nil {
			return fmt.Errorf("refreshing catalog: %w", err)
		}

		fmt.Printf("Hospitals: %d\n", report.Hospitals)
		if report.DefaultHospital != nil {
			fmt.Printf("Default:   %d %s\n", report.DefaultHospital.ID, report.DefaultHospital.Name)
		}
		fmt.Printf("Default projects: %d (%d failed)\n", report.DefaultProjects, len(report.Failed))
		return nil
	},
}

var hospitalsCmd = &cobra.Command{
	Use:   "hospitals",
	Short: "List hospitals and their version state",
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")

		a, err := newApp(cmd.Context(), "ListHospitals", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if !check {
			hs, err := a.ListHospitals(cmd.Context())
			if err != nil {
				return err
			}
			if len(hs) == 0 {
				fmt.Println("No hospitals known. Run catalog refresh.")
				return nil
			}
			for _, h := range hs {
				maintenance := ""
				if h.MaintenanceMode {
					maintenance = "  [maintenance]"
				}
				fmt.Printf("%6d  %s%s\n", h.ID, h.Name, maintenance)
			}
			return nil
		}

		statuses, err := a.HospitalStatuses(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range statuses {
			fmt.Printf("%6d  %-30s  %-16s  applied=%-8s remote=%s\n",
				s.Hospital.ID, s.Hospital.Name, s.State, s.AppliedName, s.RemoteName)
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Check the selected hospital and download it when out of date",
	RunE: func(cmd *cobra.Command, args []string) error {
		hospitalID, _ := cmd.Flags().GetInt64("hospital")
		offline, _ := cmd.Flags().GetBool("offline")

		progress := &imageProgress{}
		a, err := newApp(cmd.Context(), "Sync", app.Options{Progress: progress.update})
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.ResolveHospital(cmd.Context(), hospitalID)
		if err != nil {
			return err
		}

		st, err := a.Sync(cmd.Context(), id, offline)
		if err != nil {
			return err
		}
		printStatus(st)
		if st.Phase == guide.PhaseDownloadFailed {
			return fmt.Errorf("sync failed: %w", st.Err)
		}
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the selected hospital up to date until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		hospitalID, _ := cmd.Flags().GetInt64("hospital")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Watch", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.ResolveHospital(ctx, hospitalID)
		if err != nil {
			return err
		}

		fmt.Printf("Watching hospital %d. Press Ctrl+C to stop.\n", id)
		if err := a.Watch(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		printStatus(a.Status())
		return nil
	},
}

// browse command
var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Read mirrored content",
}

// browseContext resolves the hospital flag shared by browse subcommands.
func browseContext(cmd *cobra.Command, command string) (*app.GuideApp, int64, bool, error) {
	hospitalID, _ := cmd.Flags().GetInt64("hospital")
	allowStale, _ := cmd.Flags().GetBool("allow-stale")

	a, err := newApp(cmd.Context(), command, app.Options{})
	if err != nil {
		return nil, 0, false, err
	}
	id, err := a.ResolveHospital(cmd.Context(), hospitalID)
	if err != nil {
		a.Close()
		return nil, 0, false, err
	}
	return a, id, allowStale, nil
}

var browseCategoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, id, allowStale, err := browseContext(cmd, "BrowseCategories")
		if err != nil {
			return err
		}
		defer a.Close()

		cats, err := a.Categories(cmd.Context(), id, allowStale)
		if err != nil {
			return err
		}
		for _, c := range cats {
			fmt.Printf("%8d  %s\n", c.ID, c.Title)
		}
		return nil
	},
}

var browseChildrenCmd = &cobra.Command{
	Use:   "children CATEGORY_ID",
	Short: "List child nodes of a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var parent int64
		if _, err := fmt.Sscan(args[0], &parent); err != nil {
			return fmt.Errorf("invalid category id %q", args[0])
		}
		query, _ := cmd.Flags().GetString("query")

		a, id, allowStale, err := browseContext(cmd, "BrowseChildren")
		if err != nil {
			return err
		}
		defer a.Close()

		children, err := a.Children(cmd.Context(), id, parent, query, allowStale)
		if err != nil {
			return err
		}
		for _, c := range children {
			fmt.Printf("%8d  %s\n", c.ID, c.Title)
		}
		return nil
	},
}

var browseLeavesCmd = &cobra.Command{
	Use:   "leaves CHILD_ID",
	Short: "List leaf nodes of a child node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var parent int64
		if _, err := fmt.Sscan(args[0], &parent); err != nil {
			return fmt.Errorf("invalid child id %q", args[0])
		}

		a, id, allowStale, err := browseContext(cmd, "BrowseLeaves")
		if err != nil {
			return err
		}
		defer a.Close()

		leaves, err := a.Leaves(cmd.Context(), id, parent, allowStale)
		if err != nil {
			return err
		}
		for _, l := range leaves {
			marker := ""
			if l.Content == nil {
				marker = "  [no content]"
			}
			fmt.Printf("%8d  %s%s\n", l.ID, l.Title, marker)
		}
		return nil
	},
}

var browseLeafCmd = &cobra.Command{
	Use:   "leaf LEAF_ID",
	Short: "Show a leaf node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var leafID int64
		if _, err := fmt.Sscan(args[0], &leafID); err != nil {
			return fmt.Errorf("invalid leaf id %q", args[0])
		}

		a, id, allowStale, err := browseContext(cmd, "BrowseLeaf")
		if err != nil {
			return err
		}
		defer a.Close()

		leaf, crumbs, err := a.Leaf(cmd.Context(), id, leafID, allowStale)
		if err != nil {
			return err
		}
		for i, c := range crumbs {
			if i > 0 {
				fmt.Print(" > ")
			}
			fmt.Print(c.Title)
		}
		if len(crumbs) > 0 {
			fmt.Println()
		}
		fmt.Printf("%s\n", leaf.Title)
		if leaf.Image != nil {
			fmt.Printf("Image: %s\n", *leaf.Image)
		}
		if leaf.Content != nil {
			fmt.Println(*leaf.Content)
		} else {
			fmt.Println("(no content)")
		}
		return nil
	},
}

var browseCrumbsCmd = &cobra.Command{
	Use:   "crumbs NODE_ID",
	Short: "Show the navigation path of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var nodeID int64
		if _, err := fmt.Sscan(args[0], &nodeID); err != nil {
			return fmt.Errorf("invalid node id %q", args[0])
		}

		a, id, allowStale, err := browseContext(cmd, "BrowseCrumbs")
		if err != nil {
			return err
		}
		defer a.Close()

		crumbs, err := a.Breadcrumbs(cmd.Context(), id, nodeID, allowStale)
		if err != nil {
			return err
		}
		for _, c := range crumbs {
			fmt.Printf("%2d  %8d  %s\n", c.Position, c.CrumbID, c.Title)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View replication history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "History", app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		fmt.Printf("Mirror schema v%d\n", a.SchemaVersion())
		if len(runs) == 0 {
			fmt.Println("No replications recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  hospital=%-6d  %s  %-10s  version=%-8s nodes=%d failed=%d  %s\n",
				r.ID,
				r.HospitalID,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				r.VersionName,
				r.NodesWritten,
				r.NodesFailed,
				duration,
			)
			if r.Error != "" {
				fmt.Printf("      %s\n", r.Error)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// catalog subcommands
	catalogCmd.AddCommand(catalogRefreshCmd)
	catalogCmd.AddCommand(hospitalsCmd)
	hospitalsCmd.Flags().BoolP("check", "c", false, "Compare each hospital against its remote version")

	// sync and watch
	syncCmd.Flags().Int64P("hospital", "H", 0, "Hospital ID (default: configured or catalog default)")
	syncCmd.Flags().Bool("offline", false, "Do not contact the remote")
	watchCmd.Flags().Int64P("hospital", "H", 0, "Hospital ID (default: configured or catalog default)")

	// browse subcommands
	for _, c := range []*cobra.Command{browseCategoriesCmd, browseChildrenCmd, browseLeavesCmd, browseLeafCmd, browseCrumbsCmd} {
		c.Flags().Int64P("hospital", "H", 0, "Hospital ID (default: configured or catalog default)")
		c.Flags().Bool("allow-stale", false, "Show content even when a newer version is known")
		browseCmd.AddCommand(c)
	}
	browseChildrenCmd.Flags().StringP("query", "q", "", "Filter by title")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
}
