package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"librarian/internal/scheduler"
)

var tasksFormat string

// TasksResponseCLI lists background tasks as of a point in time
type TasksResponseCLI struct {
	AsOf  time.Time        `json:"asOf"`
	Tasks []scheduler.Task `json:"tasks"`
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List background maintenance tasks",
	Long: `List the recalibration and escalation sweep tasks with their schedules.
Tasks only run on their schedule inside a long-lived process; use
'tasks run' to execute one now.`,
	Run: runTasks,
}

var tasksRunCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a background task immediately",
	Args:  cobra.ExactArgs(1),
	Run:   runTasksRun,
}

func init() {
	for _, c := range []*cobra.Command{tasksCmd, tasksRunCmd} {
		c.Flags().StringVar(&tasksFormat, "format", "human", "Output format (json, human)")
	}
	tasksCmd.AddCommand(tasksRunCmd)
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	printResponse(&TasksResponseCLI{AsOf: time.Now(), Tasks: s.ledger.Tasks()}, tasksFormat)
}

func runTasksRun(cmd *cobra.Command, args []string) {
	s := mustOpenSession()
	defer s.Close()

	task, err := s.ledger.RunTask(args[0])
	if task.Name == "" {
		exitOnError("running task", err)
	}
	printResponse(&TasksResponseCLI{AsOf: time.Now(), Tasks: []scheduler.Task{task}}, tasksFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Task %s failed: %v\n", args[0], err)
		os.Exit(1)
	}
}
