package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Manage registered persons",
}

var personAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a person, optionally with reference face images",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonAdd,
}

var personListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered persons",
	Args:  cobra.NoArgs,
	RunE:  runPersonList,
}

func init() {
	rootCmd.AddCommand(personCmd)
	personCmd.AddCommand(personAddCmd)
	personCmd.AddCommand(personListCmd)

	personAddCmd.Flags().StringSlice("alias", nil, "Alternative names (repeatable)")
	personAddCmd.Flags().StringSlice("image", nil, "Reference face image files (repeatable)")
}

func runPersonAdd(cmd *cobra.Command, args []string) error {
	aliases, _ := cmd.Flags().GetStringSlice("alias")
	imagePaths, _ := cmd.Flags().GetStringSlice("image")

	images := make([][]byte, 0, len(imagePaths))
	for _, path := range imagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return &exitError{code: exitUserError, err: err}
		}
		images = append(images, data)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var reply struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		FacesAdded int    `json:"faces_added"`
	}
	body := map[string]any{"name": args[0]}
	if len(aliases) > 0 {
		body["aliases"] = aliases
	}
	if len(images) > 0 {
		body["images"] = images
	}
	if err := newAPIClient().post(ctx, "/api/v1/persons", body, &reply); err != nil {
		return err
	}

	fmt.Printf("%s\t%s\t%d reference faces\n", reply.ID, reply.Name, reply.FacesAdded)
	return nil
}

func runPersonList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var reply struct {
		Persons []struct {
			ID        string   `json:"id"`
			Name      string   `json:"name"`
			Aliases   []string `json:"aliases"`
			FaceCount int      `json:"face_count"`
		} `json:"persons"`
	}
	if err := newAPIClient().get(ctx, "/api/v1/persons", &reply); err != nil {
		return err
	}
	for _, p := range reply.Persons {
		fmt.Printf("%s\t%s\t%d faces", p.ID, p.Name, p.FaceCount)
		if len(p.Aliases) > 0 {
			fmt.Printf("\t(%v)", p.Aliases)
		}
		fmt.Println()
	}
	return nil
}
