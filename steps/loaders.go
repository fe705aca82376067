package steps

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/palisade-labs/chatflow"
	"github.com/palisade-labs/chatflow/serializer"
)

// LoaderParams selects the resource a loader step fetches.
type LoaderParams struct {
	chatflow.BaseParams
	ResourceID *string `json:"resource_id" required:"true"`
}

// textParser decodes a resource body into a string payload.
type textParser func(r io.Reader, metadata map[string]any) (string, error)

// tableParser decodes a resource body into a *chatflow.Table payload.
type tableParser func(r io.Reader, metadata map[string]any) (*chatflow.Table, error)

// Parser registries keyed by declared resource type. A type absent from the
// registry fails the load with an error naming the type; XLSX is deliberately
// unregistered.
var (
	textParsers = map[chatflow.ResourceType]textParser{
		chatflow.ResourceText: parseRawText,
		chatflow.ResourceJSON: parseRawText,
	}

	tableParsers = map[chatflow.ResourceType]tableParser{
		chatflow.ResourceCSV:   parseCSVTable,
		chatflow.ResourceJSON:  parseJSONTable,
		chatflow.ResourceJSONL: parseJSONLTable,
	}
)

// fetchResource resolves the loader's resource through the pipeline context's
// store.
func fetchResource(ctx context.Context, pc *chatflow.PipelineContext, id string) (*chatflow.Resource, error) {
	store := pc.Resources()
	if store == nil {
		return nil, fmt.Errorf("no resource store configured")
	}
	res, err := store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching resource %s: %w", id, err)
	}
	return res, nil
}

// ResourceTextLoader fetches a resource and produces its content as a text
// payload.
type ResourceTextLoader struct {
	*chatflow.BaseStep
}

// NewResourceTextLoader creates the loader. Params may be nil when the
// resource id comes from ambient parameters.
func NewResourceTextLoader(params *LoaderParams) *ResourceTextLoader {
	if params == nil {
		params = &LoaderParams{}
	}
	s := &ResourceTextLoader{}
	s.BaseStep = chatflow.NewBaseStep("ResourceTextLoader", chatflow.TypeNone, chatflow.TypeText, params, s)
	return s
}

// Run fetches the resource and decodes it through the text parser registry.
func (s *ResourceTextLoader) Run(ctx context.Context, params chatflow.Params, sc *chatflow.StepContext, pc *chatflow.PipelineContext) (*chatflow.StepOutput, error) {
	p := params.(*LoaderParams)
	res, err := fetchResource(ctx, pc, *p.ResourceID)
	if err != nil {
		return nil, err
	}

	parse, ok := textParsers[res.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported resource type %q", res.Type)
	}

	body, err := res.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening resource %s: %w", res.ID, err)
	}
	defer body.Close()

	text, err := parse(body, res.Metadata)
	if err != nil {
		return nil, fmt.Errorf("parsing resource %s: %w", res.ID, err)
	}
	return chatflow.SingleContext(chatflow.NewStepContext(text).WithResource(res)), nil
}

// ResourceTableLoader fetches a resource and produces its content as a table
// payload.
type ResourceTableLoader struct {
	*chatflow.BaseStep
}

// NewResourceTableLoader creates the loader. Params may be nil when the
// resource id comes from ambient parameters.
func NewResourceTableLoader(params *LoaderParams) *ResourceTableLoader {
	if params == nil {
		params = &LoaderParams{}
	}
	s := &ResourceTableLoader{}
	s.BaseStep = chatflow.NewBaseStep("ResourceTableLoader", chatflow.TypeNone, chatflow.TypeTable, params, s)
	return s
}

// Run fetches the resource and decodes it through the table parser registry.
func (s *ResourceTableLoader) Run(ctx context.Context, params chatflow.Params, sc *chatflow.StepContext, pc *chatflow.PipelineContext) (*chatflow.StepOutput, error) {
	p := params.(*LoaderParams)
	res, err := fetchResource(ctx, pc, *p.ResourceID)
	if err != nil {
		return nil, err
	}

	parse, ok := tableParsers[res.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported resource type %q", res.Type)
	}

	body, err := res.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening resource %s: %w", res.ID, err)
	}
	defer body.Close()

	table, err := parse(body, res.Metadata)
	if err != nil {
		return nil, fmt.Errorf("parsing resource %s: %w", res.ID, err)
	}
	return chatflow.SingleContext(chatflow.NewStepContext(table).WithResource(res)), nil
}

func parseRawText(r io.Reader, metadata map[string]any) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseCSVTable reads a headered CSV into a table. A "date" column, when
// present, becomes the time index; other columns become row values.
func parseCSVTable(r io.Reader, metadata map[string]any) (*chatflow.Table, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err == io.EOF {
		return chatflow.NewTable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	dateCol := -1
	columns := make([]string, 0, len(header))
	for i, name := range header {
		if name == "date" && dateCol == -1 {
			dateCol = i
			continue
		}
		columns = append(columns, name)
	}

	table := chatflow.NewTable(columns...)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}

		values := make(map[string]any, len(columns))
		var ts time.Time
		for i, field := range record {
			if i == dateCol {
				parsed, err := parseTimestamp(field)
				if err != nil {
					return nil, fmt.Errorf("csv line %d: %w", line, err)
				}
				ts = parsed
				continue
			}
			if i < len(header) {
				values[header[i]] = field
			}
		}
		table.Append(ts, values)
	}
	return table, nil
}

// parseJSONTable reads a JSON array of objects into a table. Each object's
// "date" field, when present, becomes the time index.
func parseJSONTable(r io.Reader, metadata map[string]any) (*chatflow.Table, error) {
	var records []map[string]any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding json array: %w", err)
	}

	table := chatflow.NewTable()
	seen := make(map[string]bool)
	for i, record := range records {
		var ts time.Time
		if raw, ok := record["date"].(string); ok {
			parsed, err := parseTimestamp(raw)
			if err != nil {
				return nil, fmt.Errorf("json record %d: %w", i, err)
			}
			ts = parsed
			delete(record, "date")
		}
		for k := range record {
			if !seen[k] {
				seen[k] = true
				table.Columns = append(table.Columns, k)
			}
		}
		table.Append(ts, record)
	}
	return table, nil
}

// parseJSONLTable delegates to the table serializer, which owns the JSONL
// row format and its data_schema metadata.
func parseJSONLTable(r io.Reader, metadata map[string]any) (*chatflow.Table, error) {
	data, err := (&serializer.TableJSONL{}).Read(r, metadata)
	if err != nil {
		return nil, err
	}
	return data.(*chatflow.Table), nil
}

var (
	_ chatflow.Step = (*ResourceTextLoader)(nil)
	_ chatflow.Step = (*ResourceTableLoader)(nil)
)
