package serializer

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/palisade-labs/chatflow"
)

// JSON round-trips arbitrary payloads through encoding/json. It is the
// fallback serializer for shapes with no dedicated implementation.
type JSON struct{}

// Read decodes the body as a single JSON document.
func (*JSON) Read(r io.Reader, metadata map[string]any) (any, error) {
	var data any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding json body: %w", err)
	}
	return data, nil
}

// Write encodes data as a single JSON document.
func (*JSON) Write(data any, w io.Writer) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encoding json body: %w", err)
	}
	return nil
}

// Metadata returns no extra metadata.
func (*JSON) Metadata(data any) map[string]any {
	return map[string]any{}
}

// Summary describes the payload in one line.
func (*JSON) Summary(data any) string {
	return fmt.Sprintf("json (%T)", data)
}

// ResourceType returns the resource type this serializer produces.
func (*JSON) ResourceType() chatflow.ResourceType {
	return chatflow.ResourceJSON
}

var _ chatflow.Serializer = (*JSON)(nil)
