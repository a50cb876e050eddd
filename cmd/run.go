package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/whot/papagai/internal/agent"
	"github.com/whot/papagai/internal/branch"
	"github.com/whot/papagai/internal/config"
	perrors "github.com/whot/papagai/internal/errors"
	pexec "github.com/whot/papagai/internal/exec"
	"github.com/whot/papagai/internal/git"
	"github.com/whot/papagai/internal/instructions"
	"github.com/whot/papagai/internal/lifecycle"
	"github.com/whot/papagai/internal/logger"
	"github.com/whot/papagai/internal/notification"
	"github.com/whot/papagai/internal/reconcile"
	"github.com/whot/papagai/internal/worktree"
)

// runOptions are the flags shared by every command that runs the agent.
type runOptions struct {
	baseBranch string
	target     string
	isolation  string
	keep       bool
	noKeep     bool
	merge      bool
	notify     bool
	noNotify   bool
}

func addRunFlags(cmd *cobra.Command, o *runOptions) {
	cmd.Flags().StringVar(&o.baseBranch, "base-branch", "HEAD", "Branch to base the work on (default: current branch)")
	cmd.Flags().StringVarP(&o.target, "branch", "b", "", "Target branch to work on (creates if needed, merges work into it)")
	cmd.Flags().StringVar(&o.isolation, "isolation", "", "Isolation mode: auto (try overlayfs, fall back to worktree), worktree or overlayfs (default from config: auto)")
	cmd.Flags().BoolVar(&o.keep, "keep", false, "Keep the worktree/overlay after completion (default from config)")
	cmd.Flags().BoolVar(&o.noKeep, "no-keep", false, "Remove the worktree/overlay after completion, overriding the config")
	cmd.Flags().BoolVar(&o.merge, "merge", false, "Create a merge commit when the target branch has diverged instead of failing")
	cmd.Flags().BoolVar(&o.notify, "notify", false, "Send a desktop notification when done (default from config)")
	cmd.Flags().BoolVar(&o.noNotify, "no-notify", false, "Do not send a desktop notification, overriding the config")
	cmd.MarkFlagsMutuallyExclusive("keep", "no-keep")
	cmd.MarkFlagsMutuallyExclusive("notify", "no-notify")
}

// applyConfig resolves keep and notify: flags given on the command line win,
// otherwise the configured value applies.
func (o runOptions) applyConfig(changed func(name string) bool, c *config.Config) runOptions {
	switch {
	case changed("no-keep"):
		o.keep = !o.noKeep
	case !changed("keep"):
		o.keep = c.Keep
	}
	switch {
	case changed("no-notify"):
		o.notify = !o.noNotify
	case !changed("notify"):
		o.notify = c.Notify
	}
	return o
}

var (
	doOpts     runOptions
	codeOpts   runOptions
	reviewOpts runOptions
)

var doCmd = &cobra.Command{
	Use:   "do [instructions-file]",
	Short: "Tell the agent to do something non-code related on a work tree",
	Long: `Runs the agent with the given instructions on a new work branch.

This is the command for non-coding related tasks, and the instructions
should include priming the agent for the task at hand. Without a file the
instructions are read from standard input.

See papagai code for programming tasks.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := readInstructions(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		return runWork(cmd, doOpts, in, "")
	},
}

var codeCmd = &cobra.Command{
	Use:   "code [instructions-file]",
	Short: "Tell the agent to code something on a work tree",
	Long: `Primes the agent as a software developer and runs it with the given
instructions on a new work branch. The instructions only need to describe
the change itself. Without a file the instructions are read from standard
input.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := readInstructions(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		primer, err := instructions.Primer(instructions.PrimerCode)
		if err != nil {
			return err
		}
		return runWork(cmd, codeOpts, primer.Combine(in), "")
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run a code review on the current branch",
	Long: `Reviews the commits on the base branch. Fixes are committed on a
papagai/review/ work branch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := instructions.Primer(instructions.PrimerReview)
		if err != nil {
			return err
		}
		return runWork(cmd, reviewOpts, in, "review/")
	},
}

func init() {
	addRunFlags(doCmd, &doOpts)
	addRunFlags(codeCmd, &codeOpts)
	addRunFlags(reviewCmd, &reviewOpts)
	rootCmd.AddCommand(doCmd, codeCmd, reviewCmd)
}

// readInstructions loads the instructions file named in args, or reads
// standard input when there is none.
func readInstructions(stdin io.Reader, args []string) (instructions.Instructions, error) {
	var in instructions.Instructions
	if len(args) == 1 {
		var err error
		if in, err = instructions.Load(args[0]); err != nil {
			return in, fmt.Errorf("error reading instructions file: %w", err)
		}
	} else {
		if f, ok := stdin.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			console.Heading("Please tell me what you want me to do (Ctrl+D to complete)")
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return in, fmt.Errorf("error reading instructions: %w", err)
		}
		in = instructions.Instructions{Text: string(data)}
	}
	if in.Empty() {
		return in, perrors.InvalidInput("cmd.readInstructions", "empty instructions. That's it, I can't work under these conditions!")
	}
	return in, nil
}

// allowedTools merges the built-in allow-list with configured and
// per-instruction tools, dropping duplicates.
func allowedTools(extra ...[]string) []string {
	tools := slices.Clone(agent.DefaultAllowedTools)
	for _, list := range extra {
		for _, t := range list {
			if !slices.Contains(tools, t) {
				tools = append(tools, t)
			}
		}
	}
	return tools
}

// plan is everything runWork resolved before starting the lifecycle.
type plan struct {
	repo     git.Repository
	base     string // branch the work starts from
	target   string
	strategy reconcile.Strategy
	backend  worktree.Backend
}

func resolvePlan(ctx context.Context, svc *git.GitService, c *config.Config, o runOptions) (plan, error) {
	const op = perrors.Op("cmd.resolvePlan")
	cwd, err := os.Getwd()
	if err != nil {
		return plan{}, perrors.E(op, perrors.KindIO, err)
	}
	repo, err := svc.Open(ctx, cwd)
	if err != nil {
		return plan{}, err
	}

	base, err := svc.ResolveBranch(ctx, repo.Root, o.baseBranch)
	if err != nil {
		return plan{}, perrors.E(op, perrors.KindInvalid, fmt.Sprintf("unable to find branch %s in this repo", o.baseBranch), err)
	}

	p := plan{repo: repo, base: base, strategy: reconcile.Strategy(c.MergeStrategy)}
	if o.merge {
		p.strategy = reconcile.Merge
	}
	if o.target != "" {
		if err := branch.Validate(o.target); err != nil {
			return plan{}, perrors.E(op, perrors.KindInvalid, fmt.Sprintf("invalid target branch %q", o.target), err)
		}
		p.target = o.target
		// Work on an existing target starts from the target.
		exists, err := svc.BranchExists(ctx, repo.Root, o.target)
		if err != nil {
			return plan{}, err
		}
		if exists {
			p.base = o.target
		}
	}

	isolation := o.isolation
	if isolation == "" {
		isolation = c.Isolation
	}
	if p.backend, err = worktree.Select(isolation, svc, c.CacheDir); err != nil {
		return plan{}, err
	}
	return p, nil
}

func runWork(cmd *cobra.Command, o runOptions, in instructions.Instructions, prefix string) error {
	o = o.applyConfig(cmd.Flags().Changed, cfg)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)
	log := clog.FromContext(ctx)

	svc := git.NewGitService()
	p, err := resolvePlan(ctx, svc, cfg, o)
	if err != nil {
		return err
	}
	log.Debugf("using %s isolation", p.backend.Kind())

	runner := agent.NewClaudeRunner(cfg.Agent, pexec.NewRealExecutor(), os.Stdout)
	mgr := lifecycle.NewManager(svc, p.backend, runner, reconcile.New(svc, p.strategy),
		lifecycle.WithStateHook(func(s lifecycle.State, out lifecycle.Outcome) {
			if s == lifecycle.StateMaterialized {
				console.Heading("Working in branch %s (based off %s)", console.Branch(out.Branch), p.base)
			}
		}))

	out, err := mgr.Run(ctx, lifecycle.Request{
		Repo:         p.repo,
		Spec:         worktree.Spec{BaseBranch: p.base, Kind: p.backend.Kind(), Keep: o.keep},
		Prefix:       prefix,
		Instructions: in.Text,
		AllowedTools: allowedTools(cfg.AllowedTools, in.Tools),
		Target:       p.target,
		DryRun:       dryRun,
	})
	notify := o.notify
	if err != nil {
		if out.Exported && !errors.Is(err, context.Canceled) {
			console.Warn("your work is available in branch %s", out.Branch)
		}
		if notify && !dryRun {
			_ = notification.WorkFailed(out.Branch, err)
		}
		return err
	}
	if out.AgentExit != 0 {
		console.Warn("agent exited with status %d", out.AgentExit)
	}
	if dryRun {
		return nil
	}

	result := out.Branch
	if p.target != "" {
		result = p.target
	}
	console.Heading("My work here is done. Check out branch %s", console.Branch(result))
	if notify {
		_ = notification.WorkDone(result)
	}
	return nil
}
