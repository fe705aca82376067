package chatflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Params is the parameter schema contract for a step. Concrete parameter
// types are plain structs that embed BaseParams; every optional field must be
// nilable (pointer, map, or slice) so that a zero value is always
// constructible and "explicitly set" is distinguishable from "defaulted".
// Field names come from json tags; required fields carry `required:"true"`.
type Params interface {
	stepParams()
}

// BaseParams marks a struct as a step parameter schema. Embed it in every
// concrete Params type.
type BaseParams struct{}

func (BaseParams) stepParams() {}

// NoParams is the empty parameter set for steps that take no configuration.
type NoParams struct {
	BaseParams
}

// MergeParams combines zero or more override maps (later maps win) into a
// candidate, then re-applies the receiver's explicitly-set fields on top, so
// explicit configuration always beats ambient values. It returns a fresh
// instance of the same concrete type and never mutates the receiver. Keys
// that are not fields of the concrete type are ignored: the ambient bag is
// shared by every step in a run. A field failing to decode (wrong shape for
// its type) is a validation error.
func MergeParams(p Params, overrides ...map[string]any) (Params, error) {
	typ := reflect.TypeOf(p)
	if typ == nil || typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("params must be a pointer to a struct, got %T", p)
	}

	candidate := make(map[string]any)
	for _, o := range overrides {
		for k, v := range o {
			candidate[k] = v
		}
	}

	own, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding params %T: %w", p, err)
	}
	var ownFields map[string]any
	if err := json.Unmarshal(own, &ownFields); err != nil {
		return nil, fmt.Errorf("decoding params %T: %w", p, err)
	}
	for k, v := range ownFields {
		if v == nil {
			continue
		}
		candidate[k] = v
	}

	raw, err := json.Marshal(candidate)
	if err != nil {
		return nil, fmt.Errorf("encoding merged params: %w", err)
	}
	fresh := reflect.New(typ.Elem()).Interface()
	if err := json.Unmarshal(raw, fresh); err != nil {
		return nil, fmt.Errorf("invalid parameters for %T: %w", p, err)
	}
	return fresh.(Params), nil
}

// CheckParams walks the declared fields of p and fails with ErrMissingParam
// for the first field tagged `required:"true"` that is still at its zero
// default. Call it after merging.
func CheckParams(p Params) error {
	v := reflect.ValueOf(p)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("params must be a struct, got %T", p)
	}
	return checkStruct(v)
}

func checkStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous {
			fv := v.Field(i)
			if fv.Kind() == reflect.Struct {
				if err := checkStruct(fv); err != nil {
					return err
				}
			}
			continue
		}
		if field.Tag.Get("required") != "true" {
			continue
		}
		if v.Field(i).IsZero() {
			return fmt.Errorf("%w: %s", ErrMissingParam, fieldName(field))
		}
	}
	return nil
}

func fieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}
