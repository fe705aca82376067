package steps

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/palisade-labs/chatflow"
)

// messagePattern matches the timestamp prefix of a WhatsApp export line:
// "13/1/2024, 10:02 - " with optional seconds and optional AM/PM marker.
var messagePattern = regexp.MustCompile(
	`(?m)^(\d{1,2}/\d{1,2}/\d{2,4}), (\d{1,2}:\d{2}(?::\d{2})?)(?:\s?([AaPp][Mm]))? - `)

// exportLayouts cover the date formats WhatsApp emits depending on device
// locale. Day-first layouts are tried before month-first.
var exportLayouts = []string{
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"2/1/06 15:04:05",
	"2/1/06 15:04",
	"2/1/2006 3:04:05 PM",
	"2/1/2006 3:04 PM",
	"2/1/06 3:04:05 PM",
	"2/1/06 3:04 PM",
}

// WhatsappParser turns a raw WhatsApp chat export into a table with one row
// per message: a date index plus sender and message columns. Lines without a
// "sender: message" split (join notices, encryption banners) get the sender
// "system". Blank input produces an empty table; non-blank input that matches
// no message at all is a parse error carrying a snippet of the input.
type WhatsappParser struct {
	*chatflow.BaseStep
}

// NewWhatsappParser creates the parser step.
func NewWhatsappParser() *WhatsappParser {
	s := &WhatsappParser{}
	s.BaseStep = chatflow.NewBaseStep("WhatsappParser", chatflow.TypeText, chatflow.TypeTable, nil, s)
	return s
}

// PreflightCheck requires a string payload.
func (s *WhatsappParser) PreflightCheck(sc *chatflow.StepContext) error {
	if _, ok := sc.Data.(string); !ok {
		return fmt.Errorf("expected text payload, got %T", sc.Data)
	}
	return nil
}

// Run parses the export into a message table.
func (s *WhatsappParser) Run(ctx context.Context, params chatflow.Params, sc *chatflow.StepContext, pc *chatflow.PipelineContext) (*chatflow.StepOutput, error) {
	raw := sc.Data.(string)

	table, err := parseWhatsappExport(raw)
	if err != nil {
		return nil, err
	}
	return chatflow.Single(table), nil
}

func parseWhatsappExport(raw string) (*chatflow.Table, error) {
	table := chatflow.NewTable("sender", "message")
	if strings.TrimSpace(raw) == "" {
		return table, nil
	}

	matches := messagePattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return nil, &chatflow.ParseError{
			Message: "no messages found in chat export",
			Snippet: snippet(raw),
		}
	}

	for i, m := range matches {
		date := raw[m[2]:m[3]]
		clock := raw[m[4]:m[5]]
		meridiem := ""
		if m[6] >= 0 {
			meridiem = strings.ToUpper(raw[m[6]:m[7]])
		}

		ts, err := parseExportTimestamp(date, clock, meridiem)
		if err != nil {
			return nil, &chatflow.ParseError{
				Message: err.Error(),
				Snippet: snippet(raw[m[0]:]),
			}
		}

		// Message body runs from the end of this prefix to the start of
		// the next one, multi-line messages included.
		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimRight(raw[m[1]:end], "\n")

		sender := "system"
		message := body
		if idx := strings.Index(body, ": "); idx >= 0 {
			sender = body[:idx]
			message = body[idx+2:]
		}
		table.Append(ts, map[string]any{"sender": sender, "message": message})
	}
	return table, nil
}

func parseExportTimestamp(date, clock, meridiem string) (time.Time, error) {
	value := date + " " + clock
	if meridiem != "" {
		value += " " + meridiem
	}
	for _, layout := range exportLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable message timestamp %q", value)
}

// snippet returns the head of the input for parse error reporting.
func snippet(raw string) string {
	const max = 120
	raw = strings.TrimSpace(raw)
	if len(raw) > max {
		return raw[:max] + "..."
	}
	return raw
}

var _ chatflow.Step = (*WhatsappParser)(nil)
