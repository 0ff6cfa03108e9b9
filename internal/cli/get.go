package cli

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/perchlab/datasetdb/db"
	"github.com/perchlab/datasetdb/value"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Database  string
	DataID    int64
	ExampleID string
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch one entry by data id or example id",
		Long: `Fetch a single entry and print its decoded value as JSON.

Exactly one of --id or --key must be given.

Examples:
  datasetdb get --db ./instances.db --id 42
  datasetdb get --db ./instances.db --key pretraining_150`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to dataset database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.DataID, "id", -1, "data id to fetch")
	cmd.Flags().StringVar(&opts.ExampleID, "key", "", "example id to fetch")

	return cmd
}

func runGet(opts *GetOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	byID := opts.DataID >= 0
	byKey := opts.ExampleID != ""
	if byID == byKey {
		return NewExitError(ExitCommandError, "exactly one of --id or --key must be given")
	}

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

	var v value.Value
	if byID {
		v, err = store.Get(ctx, opts.DataID)
	} else {
		v, err = store.GetKey(ctx, opts.ExampleID)
	}
	if errors.Is(err, db.ErrNotFound) {
		return WrapExitError(ExitFailure, "entry not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to fetch entry", err)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	rendered := renderValue(v)
	if opts.Format == "json" {
		return formatter.Success(rendered)
	}

	text, err := json.MarshalIndent(rendered, "", "  ")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to render value", err)
	}
	return formatter.Success(string(text))
}

// renderValue converts a value into plain JSON-friendly data for display.
// Tensors are summarized (dtype, shape, element count) instead of dumping
// raw bytes.
func renderValue(v value.Value) any {
	switch val := v.(type) {
	case *value.Tensor:
		return map[string]any{
			"tensor": map[string]any{
				"dtype":    string(val.DType),
				"shape":    val.Shape,
				"elements": val.NumElements(),
			},
		}
	case value.Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = renderValue(elem)
		}
		return out
	case value.Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = renderValue(elem)
		}
		return out
	default:
		return value.ToAny(v)
	}
}
