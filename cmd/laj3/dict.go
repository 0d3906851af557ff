package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/laj3/laj3/internal/dict"
)

var dictCmd = &cobra.Command{
	Use:   "dict [flags] <root>",
	Short: "Build a dictionary from a file tree",
	Long: `Build a dictionary (a manifest of relative path, size and SHA-256
fingerprint per file) for a directory tree or a single file.

Without -o the dictionary is printed to stdout as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		output, _ := cmd.Flags().GetString("output")
		recursive, _ := cmd.Flags().GetBool("recursive")
		empty, _ := cmd.Flags().GetBool("empty")
		asJSON, _ := cmd.Flags().GetBool("json")
		exclude, _ := cmd.Flags().GetStringArray("exclude")

		d, err := dict.Build(args[0], dict.BuildOptions{
			Recursive: recursive,
			Empty:     empty,
			Exclude:   exclude,
		})
		if err != nil {
			return err
		}

		if output == "" {
			return dict.EncodeJSON(os.Stdout, d)
		}

		if asJSON {
			file, err := os.Create(output)
			if err != nil {
				return err
			}
			defer file.Close()
			if err := dict.EncodeJSON(file, d); err != nil {
				return err
			}
		} else if err := dict.Save(output, d); err != nil {
			return err
		}

		slog.Info("dictionary written", "path", output, "files", d.Len())
		return nil
	},
}

func init() {
	dictCmd.Flags().SortFlags = false
	dictCmd.Flags().StringP("output", "o", "", "output file for the dictionary")
	dictCmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories")
	dictCmd.Flags().BoolP("empty", "e", false, "produce an empty dictionary (first-time install)")
	dictCmd.Flags().Bool("json", false, "write the output file as JSON instead of the binary format")
	dictCmd.Flags().StringArray("exclude", nil, "glob pattern to exclude (repeatable)")
}
