package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/whot/papagai/internal/instructions"
	"github.com/whot/papagai/internal/logger"
)

var (
	taskList bool
	taskOpts runOptions
)

var taskCmd = &cobra.Command{
	Use:   "task [name]",
	Short: "Run a pre-written task",
	Long: `Runs a pre-written task, either from the built-in list or from tasks in
XDG_CONFIG_HOME/papagai/tasks/**/*.md. User tasks take precedence over
built-in tasks of the same name.

Use --list to see all available tasks.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTask,
}

func init() {
	taskCmd.Flags().BoolVar(&taskList, "list", false, "List all available tasks")
	addRunFlags(taskCmd, &taskOpts)
	rootCmd.AddCommand(taskCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	lib := instructions.NewLibrary(cfg.TasksDir)
	if taskList {
		return listTasks(cmd.OutOrStdout(), lib)
	}
	if len(args) == 0 {
		console.Error("missing task name. Available tasks:")
		if err := listTasks(cmd.OutOrStdout(), lib); err != nil {
			return err
		}
		return fmt.Errorf("missing task name")
	}

	in, err := lib.Find(args[0])
	if err != nil {
		console.Error("Run 'papagai task --list' to see available tasks")
		return err
	}
	return runWork(cmd, taskOpts, in, "")
}

// listTasks prints every task with its description, names aligned.
func listTasks(w io.Writer, lib *instructions.Library) error {
	tasks, skipped, err := lib.List()
	if err != nil {
		return err
	}
	for _, s := range skipped {
		logger.Warn("task file %s has no description or cannot be read", s)
	}
	if len(tasks) == 0 {
		return fmt.Errorf("no tasks with descriptions found")
	}
	width := 0
	for _, t := range tasks {
		width = max(width, len(t.Name))
	}
	for _, t := range tasks {
		fmt.Fprintf(w, "%-*s ... %s\n", width, t.Name, t.Description)
	}
	return nil
}
