package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"tabflow/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Reads rows from a local JSON file holding an array of objects.

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:    "json_file",
		Label:   "JSON File",
		Formats: []string{"json"},
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to the JSON file"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Required: false, Help: "Dot-separated path to the array (e.g., 'data.items'). Leave empty if root is an array."},
		},
	}
}

func (s *jsonFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	rows, err := readJSONFile(cfg)
	if err != nil {
		return nil, err
	}
	return inferSchema(rows), nil
}

// Read decodes the whole document when the stream starts; JSON arrays are
// not splittable without a streaming tokenizer.
func (s *jsonFileSource) Read(ctx context.Context, cfg etl.SourceConfig) etl.RowStream {
	return func(yield func(etl.Row, error) bool) {
		rows, err := readJSONFile(cfg)
		if err != nil {
			yield(nil, err)
			return
		}
		emitRows(ctx, rows, yield)
	}
}

func readJSONFile(cfg etl.SourceConfig) ([]etl.Row, error) {
	filePath := cfg.String("filePath")
	if filePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	if dataPath := cfg.String("dataPath"); dataPath != "" {
		raw, err = navigatePath(raw, dataPath)
		if err != nil {
			return nil, err
		}
	}

	return toRows(raw), nil
}
