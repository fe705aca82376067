package serializer

import (
	"fmt"
	"io"

	"github.com/palisade-labs/chatflow"
)

// Text round-trips plain string payloads.
type Text struct{}

// Read returns the body as a string.
func (*Text) Read(r io.Reader, metadata map[string]any) (any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading text body: %w", err)
	}
	return string(data), nil
}

// Write writes the string payload verbatim.
func (*Text) Write(data any, w io.Writer) error {
	s, ok := data.(string)
	if !ok {
		return fmt.Errorf("text serializer requires a string, got %T", data)
	}
	_, err := io.WriteString(w, s)
	return err
}

// Metadata returns no extra metadata; text needs no schema.
func (*Text) Metadata(data any) map[string]any {
	return map[string]any{}
}

// Summary describes the payload in one line.
func (*Text) Summary(data any) string {
	s, ok := data.(string)
	if !ok {
		return "text"
	}
	return fmt.Sprintf("text, %d chars", len(s))
}

// ResourceType returns the resource type this serializer produces.
func (*Text) ResourceType() chatflow.ResourceType {
	return chatflow.ResourceText
}

var _ chatflow.Serializer = (*Text)(nil)
