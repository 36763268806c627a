package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"tabflow/internal/etl"
)

// ── CSV File Source ─────────────────────────────────────────
// Streams rows from a local CSV file, one record at a time.

type csvFileSource struct{}

func init() { etl.RegisterSource(&csvFileSource{}) }

func (s *csvFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:    "csv_file",
		Label:   "CSV File",
		Formats: []string{"csv", "tsv"},
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to the CSV file"},
			{Key: "delimiter", Label: "Delimiter", Type: "string", Required: false, Default: ",", Help: "Column delimiter (default: comma, tab for .tsv)"},
			{Key: "hasHeader", Label: "Has Header", Type: "select", Required: false, Options: []string{"true", "false"}, Default: "true", Help: "Whether the first row contains column names"},
		},
	}
}

func (s *csvFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	f, reader, headers, err := openCSV(cfg)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Type each column from the first data row.
	first, err := reader.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	schema := &etl.Schema{Fields: make([]etl.Field, len(headers))}
	for i, h := range headers {
		typ := "string"
		if i < len(first) {
			typ = inferType(inferCSVValue(first[i]))
		}
		schema.Fields[i] = etl.Field{Name: h, Type: typ}
	}
	return schema, nil
}

func (s *csvFileSource) Read(ctx context.Context, cfg etl.SourceConfig) etl.RowStream {
	return func(yield func(etl.Row, error) bool) {
		f, reader, headers, err := openCSV(cfg)
		if err != nil {
			yield(nil, err)
			return
		}
		defer f.Close()

		raw := rawStringColumns(cfg, headers)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("parse csv: %w", err))
				return
			}
			row := make(etl.Row, len(headers))
			for j, h := range headers {
				switch {
				case j >= len(record):
					row[h] = nil
				case raw[j]:
					row[h] = record[j]
				default:
					row[h] = inferCSVValue(record[j])
				}
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// openCSV opens the file and consumes the header line. The caller closes f.
func openCSV(cfg etl.SourceConfig) (*os.File, *csv.Reader, []string, error) {
	filePath := cfg.String("filePath")
	if filePath == "" {
		return nil, nil, nil, fmt.Errorf("filePath is required")
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open file: %w", err)
	}

	reader := csv.NewReader(f)
	if delim := cfg.String("delimiter"); delim != "" {
		reader.Comma = []rune(delim)[0]
	} else if strings.HasSuffix(strings.ToLower(filePath), ".tsv") {
		reader.Comma = '\t'
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	first, err := reader.Read()
	if errors.Is(err, io.EOF) {
		f.Close()
		return nil, nil, nil, fmt.Errorf("empty csv file")
	}
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("parse csv: %w", err)
	}

	hasHeader := true
	if h := cfg.String("hasHeader"); h != "" {
		hasHeader = strings.ToLower(h) != "false"
	}
	if hasHeader {
		return f, reader, first, nil
	}

	// No header: generate col_1, col_2, ... and rewind so the first line is data.
	headers := make([]string, len(first))
	for i := range headers {
		headers[i] = fmt.Sprintf("col_%d", i+1)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("rewind csv: %w", err)
	}
	rewound := csv.NewReader(f)
	rewound.Comma = reader.Comma
	rewound.LazyQuotes = true
	rewound.TrimLeadingSpace = true
	rewound.FieldsPerRecord = -1
	return f, rewound, headers, nil
}

// rawStringColumns marks columns whose declared type is string; their values
// are passed through without inference.
func rawStringColumns(cfg etl.SourceConfig, headers []string) []bool {
	raw := make([]bool, len(headers))
	schema, _ := cfg["schema"].(*etl.Schema)
	if schema == nil {
		return raw
	}
	for i, h := range headers {
		if f, ok := schema.Field(h); ok && f.Type == "string" {
			raw[i] = true
		}
	}
	return raw
}

// inferCSVValue tries to parse a string as a number or bool.
func inferCSVValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}

	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}

	return s
}
