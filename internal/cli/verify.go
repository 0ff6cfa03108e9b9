package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perchlab/datasetdb/codec"
	"github.com/perchlab/datasetdb/db"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
}

// VerifyResult holds the verify command output.
type VerifyResult struct {
	Checked int64   `json:"checked"`
	Corrupt int64   `json:"corrupt"`
	BadIDs  []int64 `json:"bad_ids,omitempty"`
}

// maxReportedBadIDs caps the listed ids so a badly damaged file does not
// flood the output.
const maxReportedBadIDs = 20

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Decode every entry and report corrupt payloads",
		Long: `Sweep a dataset database, decoding every payload with the store's
codec. A training pipeline must never silently drop instances, so any
payload that fails to decode is reported and the command exits non-zero.

Examples:
  datasetdb verify --db ./instances.db
  datasetdb verify --db ./instances.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to dataset database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
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

	keys, err := store.Keys(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to scan keys", err)
	}
	defer keys.Close()

	var ids []int64
	for keys.Next() {
		ids = append(ids, keys.Key().DataID)
	}
	if err := keys.Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to scan keys", err)
	}

	result := VerifyResult{}
	for _, id := range ids {
		result.Checked++
		_, err := store.Get(ctx, id)
		if err == nil {
			continue
		}
		if errors.Is(err, codec.ErrCorruptPayload) {
			result.Corrupt++
			if len(result.BadIDs) < maxReportedBadIDs {
				result.BadIDs = append(result.BadIDs, id)
			}
			continue
		}
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read data_id=%d", id), err)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		text := fmt.Sprintf("checked: %d\ncorrupt: %d", result.Checked, result.Corrupt)
		if result.Corrupt > 0 {
			text += fmt.Sprintf("\nbad ids: %v", result.BadIDs)
		}
		if err := formatter.Success(text); err != nil {
			return err
		}
	}

	if result.Corrupt > 0 {
		return NewExitError(ExitFailure,
			fmt.Sprintf("%d corrupt payload(s) found", result.Corrupt))
	}
	return nil
}
