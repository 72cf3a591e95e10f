package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spreadtap/internal/config"
	"spreadtap/internal/singer"
	"spreadtap/internal/state"
	"spreadtap/internal/tap"
)

// errInvalidConfig marks a failure already reported issue by issue.
var errInvalidConfig = errors.New("configuration is invalid")

func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errInvalidConfig) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// flags are shared by the root command and its subcommands.
type flags struct {
	configPath  string
	statePath   string
	catalogPath string
	discover    bool
}

func newRootCmd() *cobra.Command {
	var f flags

	rootCmd := &cobra.Command{
		Use:           "spreadtap",
		Short:         "Singer tap for spreadsheets and delimited files anywhere",
		Long:          "Discovers and extracts CSV, Excel and JSON files from S3, GCS, Azure, MinIO, HTTP and local paths.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.discover {
				return runDiscover(cmd, f)
			}
			return runSync(cmd, f)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "tap config file (JSON or YAML)")
	pf.StringVarP(&f.statePath, "state", "s", "", "state file from a previous run")
	pf.StringVar(&f.catalogPath, "catalog", "", "catalog file; discovery runs when omitted")
	rootCmd.Flags().BoolVar(&f.discover, "discover", false, "run discovery and print the catalog")
	_ = rootCmd.MarkPersistentFlagRequired("config")

	rootCmd.AddCommand(
		newDiscoverCmd(&f),
		newSyncCmd(&f),
		newValidateCmd(&f),
		newCrawlCmd(&f),
	)
	return rootCmd
}

func newDiscoverCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Sample every table and print the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDiscover(cmd, *f)
		},
	}
}

func newSyncCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Extract new files as Singer messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, *f)
		},
	}
}

func runDiscover(cmd *cobra.Command, f flags) error {
	env, err := setup(cmd, f)
	if err != nil {
		return err
	}
	defer env.close()

	t, err := env.newTap(nil, nil)
	if err != nil {
		return err
	}
	cat, rep := t.Discover(cmd.Context())
	env.log.Info("discovery finished",
		zap.Int("tables", len(cat.Streams)), zap.Int("skipped", rep.Count(tap.StatusSkipped)))
	return cat.Encode(cmd.OutOrStdout())
}

func runSync(cmd *cobra.Command, f flags) error {
	ctx := cmd.Context()
	env, err := setup(cmd, f)
	if err != nil {
		return err
	}
	defer env.close()

	st, err := loadState(ctx, f.statePath, env)
	if err != nil {
		return err
	}

	var cat *singer.Catalog
	if f.catalogPath != "" {
		if cat, err = singer.LoadCatalog(f.catalogPath); err != nil {
			return err
		}
	}

	var ckpt tap.Checkpointer
	if env.states != nil {
		ckpt = env.states
	}
	t, err := env.newTap(singer.NewWriter(cmd.OutOrStdout()), ckpt)
	if err != nil {
		return err
	}

	rep, err := t.Sync(ctx, st, cat)
	summary := []zap.Field{
		zap.Int("ok", rep.Count(tap.StatusOK)),
		zap.Int("truncated", rep.Count(tap.StatusTruncated)),
		zap.Int("skipped", rep.Count(tap.StatusSkipped)),
		zap.Int("failed", rep.Count(tap.StatusFailed)),
	}
	if err != nil {
		env.log.Error("sync finished with failures", append(summary, zap.Error(err))...)
		return err
	}
	env.log.Info("sync finished", summary...)
	return nil
}

// loadState reads the --state file and folds in whatever the configured
// state store holds, keeping the later watermark per table.
func loadState(ctx context.Context, path string, env *runEnv) (state.State, error) {
	st := state.New()
	if path != "" {
		loaded, err := state.LoadFile(path)
		if err != nil {
			return nil, err
		}
		st = loaded
	}
	if env.states != nil {
		saved, err := env.states.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load state from %s store: %w", env.rt.StateStore, err)
		}
		st.Merge(saved)
	}
	return st, nil
}

// checkConfig prints every issue to stderr and fails on errors.
func checkConfig(cmd *cobra.Command, cfg *config.Config, path string) error {
	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(cmd.ErrOrStderr(), iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Configuration is invalid: %s\n", path)
		return errInvalidConfig
	}
	return nil
}
