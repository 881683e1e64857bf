package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List and manage tasks",
	Long:  `List queued and running tasks on a running mediasift server.`,
	Args:  cobra.NoArgs,
	RunE:  runTasksList,
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Cancel a task, or all tasks with --all",
	RunE:  runTasksCancel,
}

var tasksRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Put a failed or cancelled task back into the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksRetry,
}

var tasksPriorityCmd = &cobra.Command{
	Use:   "priority <task-id> <priority>",
	Short: "Override a pending task's priority (smaller runs sooner)",
	Args:  cobra.ExactArgs(2),
	RunE:  runTasksPriority,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksCancelCmd)
	tasksCmd.AddCommand(tasksRetryCmd)
	tasksCmd.AddCommand(tasksPriorityCmd)

	tasksCmd.Flags().String("status", "", "Filter by status (pending, scheduled, running, succeeded, failed, cancelled)")
	tasksCmd.Flags().String("kind", "", "Filter by kind (scan_dir, ingest_file, reindex)")
	tasksCmd.Flags().Int("limit", 50, "Maximum number of tasks to list")
	tasksCmd.Flags().Bool("json", false, "Print the full response as JSON")

	tasksCancelCmd.Flags().Bool("all", false, "Cancel every pending task")
	tasksCancelCmd.Flags().Bool("running", false, "With --all, also cancel running tasks")
}

type taskReply struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Target   string `json:"target"`
	Priority int    `json:"priority"`
	Status   string `json:"status"`
	Result   string `json:"result"`
}

func runTasksList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	kind, _ := cmd.Flags().GetString("kind")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, cancel := signalContext()
	defer cancel()

	path := fmt.Sprintf("/api/v1/tasks?limit=%d", limit)
	if status != "" {
		path += "&status=" + status
	}
	if kind != "" {
		path += "&kind=" + kind
	}

	if asJSON {
		var raw map[string]any
		if err := newAPIClient().get(ctx, path, &raw); err != nil {
			return err
		}
		return printJSON(raw)
	}

	var reply struct {
		Tasks []taskReply `json:"tasks"`
	}
	if err := newAPIClient().get(ctx, path, &reply); err != nil {
		return err
	}
	for _, task := range reply.Tasks {
		fmt.Printf("%s\t%-11s\tp%d\t%-9s\t%s\n",
			task.ID, task.Kind, task.Priority, task.Status, task.Target)
	}
	return nil
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	running, _ := cmd.Flags().GetBool("running")

	ctx, cancel := signalContext()
	defer cancel()
	client := newAPIClient()

	if all {
		var reply struct {
			Cancelled int `json:"cancelled"`
		}
		body := map[string]any{"cancel_running": running}
		if err := client.post(ctx, "/api/v1/tasks/cancel-all", body, &reply); err != nil {
			return err
		}
		fmt.Printf("cancelled %d tasks\n", reply.Cancelled)
		return nil
	}

	if len(args) != 1 {
		return &exitError{code: exitUserError, err: fmt.Errorf("task id required (or --all)")}
	}
	if err := client.post(ctx, "/api/v1/tasks/"+args[0]+"/cancel", map[string]any{}, nil); err != nil {
		return err
	}
	fmt.Println("cancel requested")
	return nil
}

func runTasksRetry(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var task taskReply
	if err := newAPIClient().post(ctx, "/api/v1/tasks/"+args[0]+"/retry", map[string]any{}, &task); err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", task.ID, task.Status)
	return nil
}

func runTasksPriority(cmd *cobra.Command, args []string) error {
	var priority int
	if _, err := fmt.Sscanf(args[1], "%d", &priority); err != nil {
		return &exitError{code: exitUserError, err: fmt.Errorf("invalid priority: %s", args[1])}
	}

	ctx, cancel := signalContext()
	defer cancel()

	var task taskReply
	body := map[string]any{"priority": priority}
	if err := newAPIClient().post(ctx, "/api/v1/tasks/"+args[0]+"/priority", body, &task); err != nil {
		return err
	}
	fmt.Printf("%s\tp%d\n", task.ID, task.Priority)
	return nil
}
