package serializer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/palisade-labs/chatflow"
)

// indexColumn is the reserved JSONL field carrying the row's time index.
const indexColumn = "date"

// TableJSONL round-trips *chatflow.Table payloads as JSON lines. Each row
// becomes one object with the time index under "date" (RFC 3339) plus the
// row's column values. The column list travels in the resource metadata under
// "data_schema" so Read can rebuild the table without scanning the whole body.
type TableJSONL struct{}

// Read rebuilds a table from a JSONL body. The metadata's data_schema, when
// present, fixes the column order; otherwise columns are collected from the
// rows in first-seen order.
func (*TableJSONL) Read(r io.Reader, metadata map[string]any) (any, error) {
	table := chatflow.NewTable(schemaColumns(metadata)...)
	seen := make(map[string]bool, len(table.Columns))
	for _, c := range table.Columns {
		seen[c] = true
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("decoding table row on line %d: %w", line, err)
		}

		var ts time.Time
		if v, ok := record[indexColumn].(string); ok {
			parsed, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("parsing %s on line %d: %w", indexColumn, line, err)
			}
			ts = parsed
		}
		delete(record, indexColumn)

		for k := range record {
			if !seen[k] {
				seen[k] = true
				table.Columns = append(table.Columns, k)
			}
		}
		table.Append(ts, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading table body: %w", err)
	}
	return table, nil
}

// Write encodes the table as JSON lines in row order.
func (*TableJSONL) Write(data any, w io.Writer) error {
	table, ok := data.(*chatflow.Table)
	if !ok {
		return fmt.Errorf("table serializer requires *chatflow.Table, got %T", data)
	}
	enc := json.NewEncoder(w)
	for i, row := range table.Rows {
		record := make(map[string]any, len(row.Values)+1)
		for k, v := range row.Values {
			record[k] = v
		}
		record[indexColumn] = row.Time.Format(time.RFC3339Nano)
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("encoding table row %d: %w", i, err)
		}
	}
	return nil
}

// Metadata returns the data_schema entry describing the table's shape.
func (*TableJSONL) Metadata(data any) map[string]any {
	table, ok := data.(*chatflow.Table)
	if !ok {
		return map[string]any{}
	}
	columns := make([]any, len(table.Columns))
	for i, c := range table.Columns {
		columns[i] = c
	}
	return map[string]any{
		"data_schema": map[string]any{
			"index":   indexColumn,
			"columns": columns,
		},
	}
}

// Summary describes the payload in one line.
func (*TableJSONL) Summary(data any) string {
	table, ok := data.(*chatflow.Table)
	if !ok {
		return "table"
	}
	return fmt.Sprintf("table, %d rows x %d columns", table.Len(), len(table.Columns))
}

// ResourceType returns the resource type this serializer produces.
func (*TableJSONL) ResourceType() chatflow.ResourceType {
	return chatflow.ResourceJSONL
}

// schemaColumns extracts the column list from a data_schema metadata entry.
func schemaColumns(metadata map[string]any) []string {
	schema, ok := metadata["data_schema"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := schema["columns"].([]any)
	if !ok {
		return nil
	}
	columns := make([]string, 0, len(raw))
	for _, c := range raw {
		if s, ok := c.(string); ok {
			columns = append(columns, s)
		}
	}
	return columns
}

var _ chatflow.Serializer = (*TableJSONL)(nil)
