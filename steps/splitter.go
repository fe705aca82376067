package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/palisade-labs/chatflow"
)

// groupNamesKey is the metadata key carrying the ordered group names on every
// context the splitter emits.
const groupNamesKey = "group_names"

// SplitterParams configure the timeseries splitter.
type SplitterParams struct {
	chatflow.BaseParams

	// Unit is the bucket boundary: second through year.
	Unit *string `json:"unit" required:"true"`

	// Origin anchors bucketing at the "start" (default) or "end" of the
	// data's time range.
	Origin *string `json:"origin"`

	// DropEmpty skips buckets with no rows instead of emitting empty
	// groups.
	DropEmpty *bool `json:"drop_empty"`

	// Materialize writes each group out as a named resource when the
	// pipeline context creates resources.
	Materialize *bool `json:"materialize"`
}

// TimeseriesSplitter groups a table's rows by time bucket and fans out one
// context per group, in chronological order. Buckets are aligned to unit
// boundaries (midnight, Monday, first of month); every emitted context
// carries the full ordered group-name list in its metadata and is named
// after its own bucket.
type TimeseriesSplitter struct {
	*chatflow.BaseStep
}

// NewTimeseriesSplitter creates the splitter step.
func NewTimeseriesSplitter(params *SplitterParams) *TimeseriesSplitter {
	if params == nil {
		params = &SplitterParams{}
	}
	s := &TimeseriesSplitter{}
	s.BaseStep = chatflow.NewBaseStep("TimeseriesSplitter", chatflow.TypeTable, chatflow.TypeTable, params, s)
	return s
}

// PreflightCheck requires a table payload.
func (s *TimeseriesSplitter) PreflightCheck(sc *chatflow.StepContext) error {
	if _, ok := sc.Data.(*chatflow.Table); !ok {
		return fmt.Errorf("expected table payload, got %T", sc.Data)
	}
	return nil
}

// Run buckets the table and fans out.
func (s *TimeseriesSplitter) Run(ctx context.Context, params chatflow.Params, sc *chatflow.StepContext, pc *chatflow.PipelineContext) (*chatflow.StepOutput, error) {
	p := params.(*SplitterParams)
	table := sc.Data.(*chatflow.Table)

	unit, err := ParseTimeUnit(*p.Unit)
	if err != nil {
		return nil, err
	}

	origin := "start"
	if p.Origin != nil {
		origin = *p.Origin
	}
	if origin != "start" && origin != "end" {
		return nil, fmt.Errorf("unknown origin %q", origin)
	}

	dropEmpty := p.DropEmpty != nil && *p.DropEmpty
	materialize := p.Materialize != nil && *p.Materialize

	groups, names := splitByBucket(table, unit, origin, dropEmpty)
	if len(groups) == 0 {
		// Empty input (or all groups dropped): pass the table through as
		// a single context so downstream steps still run.
		return chatflow.Single(table), nil
	}

	s.Logger().Infof("split into %d groups by %s", len(groups), unit)

	namesCopy := make([]string, len(names))
	copy(namesCopy, names)

	contexts := make([]*chatflow.StepContext, 0, len(groups))
	for i, group := range groups {
		out := chatflow.NewStepContext(group).
			WithName(names[i]).
			WithMetadata(groupNamesKey, namesCopy)

		if materialize {
			res, err := pc.CreateResource(ctx, group, names[i], true, map[string]any{groupNamesKey: namesCopy})
			if err != nil {
				return nil, fmt.Errorf("materializing group %q: %w", names[i], err)
			}
			if res != nil {
				out.WithResource(res)
			}
		}
		contexts = append(contexts, out)
	}
	return chatflow.FanOut(contexts...), nil
}

// splitByBucket cuts the table's time range into unit-wide buckets. With
// origin "start" buckets align to calendar boundaries from the earliest row;
// with origin "end" buckets are counted back from the latest row, so the
// final bucket always ends just after the newest data.
func splitByBucket(table *chatflow.Table, unit TimeUnit, origin string, dropEmpty bool) ([]*chatflow.Table, []string) {
	start, end, ok := table.Bounds()
	if !ok {
		return nil, nil
	}

	var buckets []time.Time
	if origin == "end" {
		upper := end.Add(time.Nanosecond)
		for upper.After(start) {
			upper = advanceBy(upper, unit, -1)
			buckets = append(buckets, upper)
		}
		for i, j := 0, len(buckets)-1; i < j; i, j = i+1, j-1 {
			buckets[i], buckets[j] = buckets[j], buckets[i]
		}
	} else {
		for b := truncateTo(start, unit); !b.After(end); b = advanceBy(b, unit, 1) {
			buckets = append(buckets, b)
		}
	}

	var groups []*chatflow.Table
	var names []string
	for _, bucket := range buckets {
		group := table.Window(bucket, advanceBy(bucket, unit, 1))
		if dropEmpty && group.Len() == 0 {
			continue
		}
		group.SortByTime()
		groups = append(groups, group)
		names = append(names, formatAtUnit(bucket, unit))
	}
	return groups, names
}

var _ chatflow.Step = (*TimeseriesSplitter)(nil)
