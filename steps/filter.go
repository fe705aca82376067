package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/palisade-labs/chatflow"
)

// FilterParams configure the timeseries window.
type FilterParams struct {
	chatflow.BaseParams

	// DurationUnit is the window's unit: minute, hour, day, week, month,
	// or year.
	DurationUnit *string `json:"duration_unit" required:"true"`

	// DurationValue is the window's length in units.
	DurationValue *int `json:"duration_value" required:"true"`

	// AnchorPoint fixes the reference instant; defaults to now (UTC).
	AnchorPoint *string `json:"anchor_point"`

	// AnchorMode selects the window relative to the truncated anchor:
	// "this" looks forward from it, "last" looks back. Defaults to "this".
	AnchorMode *string `json:"anchor_mode"`
}

// TimeseriesFilter keeps the rows whose index falls in a closed-open
// [start, end) window. The anchor is truncated to the duration unit's
// boundary before the duration is applied, so "this day" always starts at
// midnight and "last 2 months" always starts on the first of a month. The
// output context is named with the window's range at unit granularity.
type TimeseriesFilter struct {
	*chatflow.BaseStep
}

// NewTimeseriesFilter creates the filter step.
func NewTimeseriesFilter(params *FilterParams) *TimeseriesFilter {
	if params == nil {
		params = &FilterParams{}
	}
	s := &TimeseriesFilter{}
	s.BaseStep = chatflow.NewBaseStep("TimeseriesFilter", chatflow.TypeTable, chatflow.TypeTable, params, s)
	return s
}

// PreflightCheck requires a table payload.
func (s *TimeseriesFilter) PreflightCheck(sc *chatflow.StepContext) error {
	if _, ok := sc.Data.(*chatflow.Table); !ok {
		return fmt.Errorf("expected table payload, got %T", sc.Data)
	}
	return nil
}

// Run computes the window and filters the table.
func (s *TimeseriesFilter) Run(ctx context.Context, params chatflow.Params, sc *chatflow.StepContext, pc *chatflow.PipelineContext) (*chatflow.StepOutput, error) {
	p := params.(*FilterParams)
	table := sc.Data.(*chatflow.Table)

	unit, err := ParseTimeUnit(*p.DurationUnit)
	if err != nil {
		return nil, err
	}
	if *p.DurationValue <= 0 {
		return nil, fmt.Errorf("duration_value must be positive, got %d", *p.DurationValue)
	}

	anchor := time.Now().UTC()
	if p.AnchorPoint != nil {
		anchor, err = parseTimestamp(*p.AnchorPoint)
		if err != nil {
			return nil, fmt.Errorf("anchor_point: %w", err)
		}
	}

	mode := "this"
	if p.AnchorMode != nil {
		mode = *p.AnchorMode
	}

	start, end, err := filterWindow(anchor, unit, *p.DurationValue, mode)
	if err != nil {
		return nil, err
	}

	name := formatAtUnit(start, unit) + " to " + formatAtUnit(end, unit)
	s.Logger().Infof("filtering to [%s, %s)", start.Format(time.RFC3339), end.Format(time.RFC3339))

	out := chatflow.NewStepContext(table.Window(start, end)).WithName(name)
	return chatflow.SingleContext(out), nil
}

// filterWindow derives the closed-open window from a truncated anchor.
func filterWindow(anchor time.Time, unit TimeUnit, value int, mode string) (start, end time.Time, err error) {
	truncated := truncateTo(anchor, unit)
	switch mode {
	case "this":
		// The window covering the anchor's own unit(s), looking forward.
		start = truncated
		end = advanceBy(truncated, unit, value)
	case "last":
		// The completed unit(s) before the anchor's own.
		end = truncated
		start = advanceBy(truncated, unit, -value)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown anchor_mode %q", mode)
	}
	return start, end, nil
}

var _ chatflow.Step = (*TimeseriesFilter)(nil)
