package steps

import (
	"context"
	"testing"
	"time"

	"github.com/palisade-labs/chatflow"
	"github.com/palisade-labs/chatflow/resourcestore"
	"github.com/palisade-labs/chatflow/serializer"
)

// gappyTable has two rows on Jan 1 and one on Jan 3; Jan 2 is empty.
func gappyTable() *chatflow.Table {
	table := chatflow.NewTable("message")
	table.Append(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), map[string]any{"message": "a"})
	table.Append(time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC), map[string]any{"message": "b"})
	table.Append(time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), map[string]any{"message": "c"})
	return table
}

func invokeSplitter(t *testing.T, params *SplitterParams, table *chatflow.Table, pc *chatflow.PipelineContext) []*chatflow.StepContext {
	t.Helper()
	if pc == nil {
		pc = chatflow.NewPipelineContext()
	}
	step := NewTimeseriesSplitter(params)
	out, err := step.Invoke(context.Background(), chatflow.Initial(table), pc)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	return out
}

func TestTimeseriesSplitter_DayBuckets(t *testing.T) {
	out := invokeSplitter(t, &SplitterParams{Unit: strPtr("day")}, gappyTable(), nil)

	if len(out) != 3 {
		t.Fatalf("split into %d contexts, want 3 (empty Jan 2 kept)", len(out))
	}
	wantNames := []string{"2024-01-01", "2024-01-02", "2024-01-03"}
	for i, want := range wantNames {
		if out[i].Name != want {
			t.Errorf("out[%d].Name = %q, want %q", i, out[i].Name, want)
		}
	}
	if out[0].Data.(*chatflow.Table).Len() != 2 {
		t.Errorf("Jan 1 group has %d rows, want 2", out[0].Data.(*chatflow.Table).Len())
	}
	if out[1].Data.(*chatflow.Table).Len() != 0 {
		t.Errorf("Jan 2 group has %d rows, want 0", out[1].Data.(*chatflow.Table).Len())
	}
}

func TestTimeseriesSplitter_DropEmpty(t *testing.T) {
	out := invokeSplitter(t, &SplitterParams{
		Unit:      strPtr("day"),
		DropEmpty: boolPtr(true),
	}, gappyTable(), nil)

	if len(out) != 2 {
		t.Fatalf("split into %d contexts, want 2 with drop_empty", len(out))
	}
	if out[0].Name != "2024-01-01" || out[1].Name != "2024-01-03" {
		t.Errorf("names = %q, %q, want the non-empty days", out[0].Name, out[1].Name)
	}
}

func TestTimeseriesSplitter_GroupNamesMetadata(t *testing.T) {
	out := invokeSplitter(t, &SplitterParams{
		Unit:      strPtr("day"),
		DropEmpty: boolPtr(true),
	}, gappyTable(), nil)

	for i, c := range out {
		names, ok := c.Metadata["group_names"].([]string)
		if !ok {
			t.Fatalf("out[%d].Metadata[group_names] = %T, want []string", i, c.Metadata["group_names"])
		}
		if len(names) != 2 || names[0] != "2024-01-01" || names[1] != "2024-01-03" {
			t.Errorf("out[%d] group_names = %v, want the full ordered list", i, names)
		}
	}
}

func TestTimeseriesSplitter_OriginEnd(t *testing.T) {
	// Rows 22.5 hours apart straddle a midnight; counted back from the
	// latest row they share one day-wide bucket.
	table := chatflow.NewTable("message")
	table.Append(time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC), map[string]any{"message": "a"})
	table.Append(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), map[string]any{"message": "b"})

	out := invokeSplitter(t, &SplitterParams{
		Unit:   strPtr("day"),
		Origin: strPtr("end"),
	}, table, nil)

	if len(out) != 1 {
		t.Fatalf("split into %d contexts, want 1", len(out))
	}
	if out[0].Data.(*chatflow.Table).Len() != 2 {
		t.Errorf("group has %d rows, want both", out[0].Data.(*chatflow.Table).Len())
	}

	// With calendar alignment the same data splits in two.
	out = invokeSplitter(t, &SplitterParams{Unit: strPtr("day")}, table, nil)
	if len(out) != 2 {
		t.Errorf("origin=start split into %d contexts, want 2", len(out))
	}
}

func TestTimeseriesSplitter_Materialize(t *testing.T) {
	store := resourcestore.NewMemory()
	pc := chatflow.NewPipelineContext(
		chatflow.WithStores(store, serializer.NewRegistry()),
		chatflow.WithResourceCreation(),
	)

	out := invokeSplitter(t, &SplitterParams{
		Unit:        strPtr("day"),
		DropEmpty:   boolPtr(true),
		Materialize: boolPtr(true),
	}, gappyTable(), pc)

	for i, c := range out {
		if c.Resource() == nil {
			t.Errorf("out[%d] has no materialized resource", i)
			continue
		}
		if c.Resource().Type != chatflow.ResourceJSONL {
			t.Errorf("out[%d] resource type = %q, want jsonl", i, c.Resource().Type)
		}
	}
}

func TestTimeseriesSplitter_MaterializeDisabledContext(t *testing.T) {
	// Resource creation off: materialize silently produces no handles.
	out := invokeSplitter(t, &SplitterParams{
		Unit:        strPtr("day"),
		Materialize: boolPtr(true),
	}, gappyTable(), nil)

	for i, c := range out {
		if c.Resource() != nil {
			t.Errorf("out[%d] has a resource despite creation being disabled", i)
		}
	}
}

func TestTimeseriesSplitter_EmptyTable(t *testing.T) {
	out := invokeSplitter(t, &SplitterParams{Unit: strPtr("day")}, chatflow.NewTable("message"), nil)
	if len(out) != 1 {
		t.Fatalf("split of empty table returned %d contexts, want 1 passthrough", len(out))
	}
	if out[0].Data.(*chatflow.Table).Len() != 0 {
		t.Error("passthrough table should be empty")
	}
}

func TestTimeseriesSplitter_InvalidOrigin(t *testing.T) {
	step := NewTimeseriesSplitter(&SplitterParams{
		Unit:   strPtr("day"),
		Origin: strPtr("middle"),
	})
	if _, err := step.Invoke(context.Background(), chatflow.Initial(gappyTable()), chatflow.NewPipelineContext()); err == nil {
		t.Error("Invoke() with an unknown origin should fail")
	}
}
