// Package serializer provides the built-in payload serializers and the
// registry the engine resolves them through. Each serializer round-trips one
// payload shape to a resource body; the table serializer carries its column
// schema in the resource metadata so a stored table can be read back without
// inspecting the body first.
package serializer

import (
	"fmt"

	"github.com/palisade-labs/chatflow"
)

// Registry resolves serializers by name, resource type, or payload shape.
type Registry struct {
	byName map[string]chatflow.Serializer
	byType map[chatflow.ResourceType]chatflow.Serializer
}

// NewRegistry returns a registry with the text, json, and table serializers
// registered.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[string]chatflow.Serializer),
		byType: make(map[chatflow.ResourceType]chatflow.Serializer),
	}
	r.Register("text", &Text{})
	r.Register("json", &JSON{})
	r.Register("table", &TableJSONL{})
	return r
}

// Register adds a serializer under name and its declared resource type. A
// later registration for the same name or type replaces the earlier one.
func (r *Registry) Register(name string, s chatflow.Serializer) {
	r.byName[name] = s
	r.byType[s.ResourceType()] = s
}

// ByName returns the serializer registered under name.
func (r *Registry) ByName(name string) (chatflow.Serializer, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("no serializer named %q", name)
	}
	return s, nil
}

// ByType returns the serializer that produces resources of type t.
func (r *Registry) ByType(t chatflow.ResourceType) (chatflow.Serializer, error) {
	s, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("no serializer for resource type %q", t)
	}
	return s, nil
}

// ForData picks a serializer by inspecting the payload's shape. Strings
// serialize as text, tables as schema-carrying JSONL, everything else as JSON.
func (r *Registry) ForData(data any) (chatflow.Serializer, error) {
	switch data.(type) {
	case string:
		return r.ByName("text")
	case *chatflow.Table:
		return r.ByName("table")
	default:
		return r.ByName("json")
	}
}

var _ chatflow.SerializerRegistry = (*Registry)(nil)
