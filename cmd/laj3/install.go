package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/laj3/laj3/internal/client"
)

var installCmd = &cobra.Command{
	Use:   "install [flags] <host:port/project>",
	Short: "Download changed files from a server",
	Long: `Fetch the server's reference dictionary for a project, diff it
against a precomputed local dictionary (-f) and download only the files
that are new or changed. Files are written atomically; a partial file is
never visible at its final path.

Without -f the local dictionary is empty and every file is downloaded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		addr, project, err := parseTarget(args[0])
		if err != nil {
			return err
		}

		dictPath, _ := cmd.Flags().GetString("file")
		dest, _ := cmd.Flags().GetString("dest")
		del, _ := cmd.Flags().GetBool("delete")
		retries, _ := cmd.Flags().GetInt("retries")

		installer, err := client.New(client.Config{
			Addr:     addr,
			Project:  project,
			DictPath: dictPath,
			Dest:     dest,
			Delete:   del,
			Retries:  retries,
		})
		if err != nil {
			return err
		}

		result, err := installer.Run(cmd.Context())
		if err != nil {
			return err
		}

		printSummary(result)
		if !result.Ok() {
			return fmt.Errorf("%d file(s) failed", len(result.Failed))
		}
		return nil
	},
}

// parseTarget splits "host:port/project" into its address and project
// name. The project is required input to the protocol handshake.
func parseTarget(target string) (addr, project string, err error) {
	addr, project, ok := strings.Cut(target, "/")
	if !ok || addr == "" || project == "" {
		return "", "", errors.New("target must be host:port/project")
	}
	return addr, project, nil
}

func printSummary(r *client.Result) {
	fmt.Println()
	fmt.Println(cyan("sync summary"))
	fmt.Printf("  downloaded  %d (%s)\n", len(r.Downloaded), humanize.Bytes(uint64(r.BytesWritten)))
	fmt.Printf("  unchanged   %d\n", r.Unchanged)
	if len(r.Deleted) > 0 {
		fmt.Printf("  deleted     %d\n", len(r.Deleted))
	}
	if len(r.Failed) > 0 {
		fmt.Printf("  %s      %d\n", red("failed"), len(r.Failed))
		for _, f := range r.Failed {
			fmt.Printf("    %s: %v\n", f.Path, f.Err)
		}
	} else {
		fmt.Println(green("  all files in sync"))
	}
}

func init() {
	installCmd.Flags().SortFlags = false
	installCmd.Flags().StringP("file", "f", "", "precomputed local dictionary file")
	installCmd.Flags().StringP("dest", "d", ".", "destination directory")
	installCmd.Flags().Bool("delete", false, "delete local files absent from the reference")
	installCmd.Flags().Int("retries", client.DefaultRetries, "per-file retry attempts on transient failures")
}
