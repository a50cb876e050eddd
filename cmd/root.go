package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/whot/papagai/internal/config"
	"github.com/whot/papagai/internal/logger"
	"github.com/whot/papagai/internal/ui"
)

var (
	verbosity             int
	dryRun                bool
	version, commit, date string

	// cfg and console are set up before any subcommand runs.
	cfg     *config.Config
	console = ui.NewConsole(os.Stdout, os.Stderr)
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "papagai",
	Short: "Automate code changes with an AI agent on isolated git worktrees",
	Long: `papagai runs a coding agent in an isolated copy of the current git
repository. The agent commits its work on a new branch in the papagai/
namespace; your checkout is never touched. papagai/latest always points
at the most recent work branch.

Isolated copies are git worktrees or, when fuse-overlayfs is installed,
copy-on-write overlay mounts.`,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show the agent command that would be executed without running it")
}

func setup(cmd *cobra.Command, args []string) error {
	if err := logger.Init(logger.DefaultLogPath()); err != nil {
		console.Warn("%v", err)
	}
	logger.SetLevel(logger.LevelForVerbosity(verbosity))
	logger.Debug("verbosity set to %d", verbosity)

	c, err := config.Load(cmd.Context())
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	defer logger.Close()
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	return rootCmd.ExecuteContext(ctx)
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("papagai %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("papagai %s\n", version)
}
