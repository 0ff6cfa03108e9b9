package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/perchlab/datasetdb/codec"
	"github.com/perchlab/datasetdb/db"
	"github.com/perchlab/datasetdb/value"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Database  string
	Manifest  string
	Codec     string
	BatchSize int
}

// CreateResult holds the create command output.
type CreateResult struct {
	Path    string              `json:"path"`
	Codec   string              `json:"codec"`
	Entries int64               `json:"entries"`
	Sources []SourceIngestStats `json:"sources"`
}

// SourceIngestStats reports per-source ingestion counts.
type SourceIngestStats struct {
	Path     string `json:"path"`
	Prefix   string `json:"prefix"`
	Ingested int64  `json:"ingested"`
}

// maxJSONLLineBytes bounds a single JSONL line. Instances with large
// embedded tensors can run to several megabytes.
const maxJSONLLineBytes = 64 << 20

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Materialize a dataset database from a YAML manifest",
		Long: `Build a dataset database from JSONL sources listed in a YAML manifest.
Each line of a source becomes one instance; example ids are assigned as
"<prefix>_<n>" and data ids count up across all sources.

Manifest format:
  codec: json          # optional, json|binary
  batch_size: 512      # optional
  sources:
    - path: ./pretraining.jsonl
      prefix: pretraining
    - path: ./downstream.jsonl
      prefix: downstream

Examples:
  datasetdb create --db ./instances.db --manifest ./manifest.yaml
  datasetdb create --db ./instances.db --manifest ./manifest.yaml --codec binary`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to dataset database (required)")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "path to YAML manifest (required)")
	defaultCodec := viper.GetString("codec")
	if defaultCodec == "" {
		defaultCodec = "json"
	}
	defaultBatch := viper.GetInt("batch-size")
	if defaultBatch < 1 {
		defaultBatch = db.DefaultBatchSize
	}
	cmd.Flags().StringVar(&opts.Codec, "codec", defaultCodec, "payload codec (json|binary), overrides manifest")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", defaultBatch, "write buffer size, overrides manifest")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	manifest, err := LoadManifest(opts.Manifest)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid manifest", err)
	}

	codecName := opts.Codec
	if !cmd.Flags().Changed("codec") && manifest.Codec != "" {
		codecName = manifest.Codec
	}
	c, err := codec.ByName(codecName)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid codec", err)
	}

	batchSize := opts.BatchSize
	if !cmd.Flags().Changed("batch-size") && manifest.BatchSize > 0 {
		batchSize = manifest.BatchSize
	}

	store, err := db.Open(opts.Database, db.ModeWrite,
		db.WithCodec(c),
		db.WithBatchSize(batchSize),
		db.WithLogger(buildLogger(opts.Verbose)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer store.Close()

	result := CreateResult{Path: opts.Database, Codec: c.Name()}

	var dataID int64
	for _, src := range manifest.Sources {
		stats := SourceIngestStats{Path: src.Path, Prefix: src.Prefix}
		n, err := ingestSource(ctx, store, src, &dataID)
		if err != nil {
			return WrapExitError(ExitCommandError,
				fmt.Sprintf("failed to ingest %s", src.Path), err)
		}
		stats.Ingested = n
		result.Entries += n
		result.Sources = append(result.Sources, stats)
	}

	if err := store.Flush(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to flush database", err)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	text := fmt.Sprintf("path:    %s\ncodec:   %s\nentries: %d", result.Path, result.Codec, result.Entries)
	for _, s := range result.Sources {
		text += fmt.Sprintf("\n  %s: %d from %s", s.Prefix, s.Ingested, s.Path)
	}
	return formatter.Success(text)
}

// ingestSource streams one JSONL file into the store. Each line is parsed
// as JSON, converted to the value model, and written under the next
// sequential data id with example id "<prefix>_<n>".
func ingestSource(ctx context.Context, store *db.DB, src ManifestSource, dataID *int64) (int64, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLineBytes)

	var n int64
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var parsed any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&parsed); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}

		v, err := value.FromAny(normalizeNumbers(parsed))
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}

		exampleID := fmt.Sprintf("%s_%d", src.Prefix, n)
		if err := store.Set(ctx, *dataID, exampleID, v); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		*dataID++
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, err
	}
	return n, nil
}

// normalizeNumbers rewrites json.Number leaves into int64 or float64 so
// value.FromAny sees concrete numeric types. Numbers without an exponent
// or fraction stay integral.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
		return t
	default:
		return v
	}
}
