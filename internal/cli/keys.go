package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perchlab/datasetdb/db"
)

// KeysOptions holds flags for the keys command.
type KeysOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// KeyPair is one (data_id, example_id) row in JSON output.
type KeyPair struct {
	DataID    int64  `json:"data_id"`
	ExampleID string `json:"example_id"`
}

// NewKeysCommand creates the keys command.
func NewKeysCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeysOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List (data_id, example_id) pairs",
		Long: `List the key pairs of a dataset database in ascending data id order,
without decoding payloads.

Examples:
  datasetdb keys --db ./instances.db
  datasetdb keys --db ./instances.db --limit 10 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeys(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to dataset database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum pairs to list (0 = all)")

	return cmd
}

func runKeys(opts *KeysOptions, cmd *cobra.Command) error {
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

	it, err := store.Keys(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list keys", err)
	}
	defer it.Close()

	var pairs []KeyPair
	for it.Next() {
		k := it.Key()
		pairs = append(pairs, KeyPair{DataID: k.DataID, ExampleID: k.ExampleID})
		if opts.Limit > 0 && len(pairs) >= opts.Limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to scan keys", err)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	if opts.Format == "json" {
		if pairs == nil {
			pairs = []KeyPair{}
		}
		return formatter.Success(pairs)
	}

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\t%s", p.DataID, p.ExampleID)
	}
	return formatter.Success(b.String())
}
