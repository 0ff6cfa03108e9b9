package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perchlab/datasetdb/db"
)

// InfoOptions holds flags for the info command.
type InfoOptions struct {
	*RootOptions
	Database string
}

// InfoResult holds the info command output.
type InfoResult struct {
	Path    string `json:"path"`
	Entries int64  `json:"entries"`
	Codec   string `json:"codec"`
	Locked  bool   `json:"locked"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InfoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Summarize a dataset database",
		Long: `Print the entry count, codec, and lock state of a dataset database.

Examples:
  datasetdb info --db ./instances.db
  datasetdb info --db ./instances.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to dataset database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runInfo(opts *InfoOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	c, err := db.DetectCodec(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to inspect database", err)
	}

	store, err := db.Open(opts.Database, db.ModeRead,
		db.WithCodec(c), db.WithLogger(buildLogger(opts.Verbose)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer store.Close()

	entries, err := store.Len(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count entries", err)
	}

	_, lockErr := os.Stat(opts.Database + ".lock")
	result := InfoResult{
		Path:    opts.Database,
		Entries: entries,
		Codec:   c.Name(),
		Locked:  lockErr == nil,
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	text := fmt.Sprintf("path:    %s\nentries: %d\ncodec:   %s\nlocked:  %t",
		result.Path, result.Entries, result.Codec, result.Locked)
	return formatter.Success(text)
}
