package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/whot/papagai/internal/git"
	"github.com/whot/papagai/internal/purge"
)

var (
	purgeOpts   = purge.DefaultOptions()
	skipConfirm bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Clean up papagai artifacts: branches, worktrees and overlays",
	Long: `Removes the branches, leftover git worktrees and overlay mounts papagai
created in the current repository.

By default all of them are removed; use --branches=false,
--worktrees=false or --overlays=false to skip a kind. Overlay lower-layer
caches are only removed with --cache. Artifacts that belong to a papagai
run that is still going are skipped unless --force is given.

The current branch is never removed. A failure to remove one artifact does
not stop the others from being removed.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeOpts.Branches, "branches", true, "Remove git branches created by papagai")
	purgeCmd.Flags().BoolVar(&purgeOpts.Worktrees, "worktrees", true, "Remove leftover git worktrees created by papagai")
	purgeCmd.Flags().BoolVar(&purgeOpts.Overlays, "overlays", true, "Remove and unmount leftover overlays created by papagai")
	purgeCmd.Flags().BoolVar(&purgeOpts.Cache, "cache", false, "Remove the overlay lower-layer caches of this repository")
	purgeCmd.Flags().BoolVar(&purgeOpts.Force, "force", false, "Also remove artifacts still in use by a running papagai")
	purgeCmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "Skip confirmation prompt for --force")
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	opts := purgeOpts
	opts.DryRun = dryRun
	return purgeRepo(cmd.Context(), cwd, cmd.InOrStdin(), cmd.OutOrStdout(), opts)
}

func purgeRepo(ctx context.Context, dir string, input io.Reader, out io.Writer, opts purge.Options) error {
	svc := git.NewGitService()
	repo, err := svc.Open(ctx, dir)
	if err != nil {
		return err
	}
	op := purge.New(svc, cfg.CacheDir)
	candidates, err := op.Scan(ctx, repo, opts)
	if err != nil {
		return err
	}

	if opts.Force && !opts.DryRun && !skipConfirm && anyInUse(candidates) {
		fmt.Fprintln(out, "Some artifacts are in use by a running papagai:")
		for _, c := range candidates {
			if c.InUse {
				fmt.Fprintf(out, "  - %s: %s\n", c, c.Reason)
			}
		}
		if !confirm(input, out, "Remove them anyway?") {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	report, err := op.Purge(ctx, repo, candidates, opts)
	if report != nil {
		if rerr := report.Render(out); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func anyInUse(candidates []purge.Candidate) bool {
	for _, c := range candidates {
		if c.InUse {
			return true
		}
	}
	return false
}

// confirm prompts the user for y/n confirmation
func confirm(input io.Reader, out io.Writer, prompt string) bool {
	reader := bufio.NewReader(input)
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
