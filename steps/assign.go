package steps

import (
	"context"
	"fmt"

	"github.com/palisade-labs/chatflow"
)

// AssignLabelParams configure the label step.
type AssignLabelParams struct {
	chatflow.BaseParams

	// Label is written into ambient params and the context metadata.
	Label *string `json:"label" required:"true"`
}

// AssignLabel tags the passing context with a label and writes the same
// label into the ambient parameter bag for downstream steps. The payload is
// untouched; the step composes with anything.
type AssignLabel struct {
	*chatflow.BaseStep
}

// NewAssignLabel creates the label step.
func NewAssignLabel(params *AssignLabelParams) *AssignLabel {
	if params == nil {
		params = &AssignLabelParams{}
	}
	s := &AssignLabel{}
	s.BaseStep = chatflow.NewBaseStep("AssignLabel", chatflow.TypeAny, chatflow.TypeAny, params, s)
	return s
}

// Run writes the label and passes the payload through.
func (s *AssignLabel) Run(ctx context.Context, params chatflow.Params, sc *chatflow.StepContext, pc *chatflow.PipelineContext) (*chatflow.StepOutput, error) {
	p := params.(*AssignLabelParams)

	pc.Params["label"] = *p.Label
	out := chatflow.NewStepContext(sc.Data).WithMetadata("label", *p.Label)
	if sc.Name != "" {
		out.WithName(fmt.Sprintf("%s [%s]", sc.Name, *p.Label))
	}
	return chatflow.SingleContext(out), nil
}

var _ chatflow.Step = (*AssignLabel)(nil)
