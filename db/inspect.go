package db

import (
	"context"
	"fmt"
	"os"

	"github.com/perchlab/datasetdb/codec"
)

// DetectCodec reads the codec tag persisted in an existing store file and
// returns the matching codec. Untagged legacy files report the default
// JSON codec. The file itself is not validated beyond being openable.
func DetectCodec(path string) (codec.Codec, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("inspect store: %w", err)
	}

	eng, err := openEngine(path, true)
	if err != nil {
		return nil, err
	}
	defer eng.close()

	tag, err := eng.codecTag(context.Background())
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return codec.NewJSON(), nil
	}
	return codec.ByTag(tag)
}
