package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index [path...]",
	Short: "Index files or directories",
	Long: `Enqueue indexing work on a running mediasift server.

Each path becomes a task: files get an ingest task, directories a scan
task that walks them and indexes the media files found. The command
returns as soon as the tasks are enqueued; use "mediasift tasks" to
follow progress.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status",
	Long:  `Show file, vector, and task counts from a running mediasift server.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(statusCmd)

	indexCmd.Flags().Bool("recursive", true, "Descend into subdirectories when indexing a directory")
	indexCmd.Flags().Int("priority", 0, "Queue priority (1-9, smaller runs sooner; 0 keeps the default)")
	indexCmd.Flags().Bool("reindex", false, "Re-derive segments and vectors for already-cataloged files")
}

type enqueueReply struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func runIndex(cmd *cobra.Command, args []string) error {
	recursive, _ := cmd.Flags().GetBool("recursive")
	priority, _ := cmd.Flags().GetInt("priority")
	reindex, _ := cmd.Flags().GetBool("reindex")

	ctx, cancel := signalContext()
	defer cancel()
	client := newAPIClient()

	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return &exitError{code: exitUserError, err: err}
		}
		info, err := os.Stat(path)
		if err != nil {
			return &exitError{code: exitUserError, err: fmt.Errorf("no such path: %s", path)}
		}

		var reply enqueueReply
		switch {
		case info.IsDir():
			body := map[string]any{"path": path}
			if cmd.Flags().Changed("recursive") {
				body["recursive"] = recursive
			}
			err = client.post(ctx, "/api/v1/index/directory", body, &reply)
		case reindex:
			err = client.post(ctx, "/api/v1/index/reindex", map[string]any{"path": path}, &reply)
		default:
			body := map[string]any{"path": path}
			if priority > 0 {
				body["priority"] = priority
			}
			err = client.post(ctx, "/api/v1/index/file", body, &reply)
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s\t%s\t%s\n", reply.TaskID, reply.Status, path)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var status map[string]any
	if err := newAPIClient().get(ctx, "/api/v1/index/status", &status); err != nil {
		return err
	}
	return printJSON(status)
}
