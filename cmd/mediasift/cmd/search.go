package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Search the index",
	Long: `Search a running mediasift server.

By default the arguments form a natural-language text query. With
--image or --audio the given file is used as a query-by-example probe
instead.`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("top-k", 0, "Maximum number of files to return (0 uses the server default)")
	searchCmd.Flags().Float64("threshold", -1, "Minimum similarity score (negative uses the server default)")
	searchCmd.Flags().String("person", "", "Restrict results to files tagged with this person")
	searchCmd.Flags().String("image", "", "Search by example image file")
	searchCmd.Flags().String("audio", "", "Search by example audio file")
	searchCmd.Flags().Bool("json", false, "Print the full response as JSON")
}

type searchReply struct {
	Query   string `json:"query"`
	TookMs  int64  `json:"took_ms"`
	Results []struct {
		FileID        string  `json:"file_id"`
		Path          string  `json:"path"`
		Score         float64 `json:"score"`
		BestTimestamp int64   `json:"best_timestamp"`
	} `json:"results"`
	Warnings []string `json:"warnings"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	topK, _ := cmd.Flags().GetInt("top-k")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	person, _ := cmd.Flags().GetString("person")
	imagePath, _ := cmd.Flags().GetString("image")
	audioPath, _ := cmd.Flags().GetString("audio")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, cancel := signalContext()
	defer cancel()
	client := newAPIClient()

	var (
		reply searchReply
		raw   map[string]any
		err   error
	)
	out := any(&reply)
	if asJSON {
		out = &raw
	}

	switch {
	case imagePath != "":
		data, rerr := os.ReadFile(imagePath)
		if rerr != nil {
			return &exitError{code: exitUserError, err: rerr}
		}
		body := map[string]any{"image": data}
		if topK > 0 {
			body["top_k"] = topK
		}
		err = client.post(ctx, "/api/v1/search/image", body, out)

	case audioPath != "":
		data, rerr := os.ReadFile(audioPath)
		if rerr != nil {
			return &exitError{code: exitUserError, err: rerr}
		}
		body := map[string]any{"audio": data}
		if topK > 0 {
			body["top_k"] = topK
		}
		err = client.post(ctx, "/api/v1/search/audio", body, out)

	default:
		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return &exitError{code: exitUserError, err: fmt.Errorf("query must not be empty")}
		}
		body := map[string]any{"query": query}
		if topK > 0 {
			body["top_k"] = topK
		}
		if threshold >= 0 {
			body["threshold"] = threshold
		}
		if person != "" {
			body["person"] = person
		}
		err = client.post(ctx, "/api/v1/search/text", body, out)
	}
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(raw)
	}

	for _, warning := range reply.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", warning)
	}
	if len(reply.Results) == 0 {
		fmt.Fprintln(os.Stderr, "no results")
		return nil
	}
	for _, result := range reply.Results {
		fmt.Printf("%.4f\t%s", result.Score, result.Path)
		if result.BestTimestamp > 0 {
			fmt.Printf("\t@%.1fs", float64(result.BestTimestamp)/1000)
		}
		fmt.Println()
	}
	return nil
}
