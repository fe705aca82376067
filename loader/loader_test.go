package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/palisade-labs/chatflow"
)

const validYAML = `
name: weekly-digest
description: Parse a chat export and keep the current week.
params:
  resource_id: res-1
steps:
  - type: resource_text_loader
  - type: whatsapp_parser
  - type: timeseries_filter
    config:
      duration_unit: week
      duration_value: 1
`

func TestParse_Valid(t *testing.T) {
	def, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if def.Name != "weekly-digest" {
		t.Errorf("Name = %q, want weekly-digest", def.Name)
	}
	if got := len(def.Steps); got != 3 {
		t.Fatalf("len(Steps) = %d, want 3", got)
	}
	if def.Steps[2].Type != "timeseries_filter" {
		t.Errorf("Steps[2].Type = %q", def.Steps[2].Type)
	}
	if def.Params["resource_id"] != "res-1" {
		t.Errorf("Params[resource_id] = %v", def.Params["resource_id"])
	}
}

func TestParse_Malformed(t *testing.T) {
	if _, err := Parse([]byte("steps: [")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestParse_NoSteps(t *testing.T) {
	if _, err := Parse([]byte("name: empty")); err == nil {
		t.Fatal("expected error for definition without steps")
	}
}

func TestParse_MissingType(t *testing.T) {
	src := "steps:\n  - config: {}\n"
	_, err := Parse([]byte(src))
	if err == nil || !strings.Contains(err.Error(), "no type") {
		t.Fatalf("error = %v, want missing type diagnostic", err)
	}
}

func TestBuild_Valid(t *testing.T) {
	def, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	pipe, err := Build(def)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if pipe.Name() != "weekly-digest" {
		t.Errorf("pipeline Name = %q", pipe.Name())
	}
}

func TestBuild_UnknownStepType(t *testing.T) {
	def := &Definition{Steps: []StepDefinition{{Type: "does_not_exist"}}}
	_, err := Build(def)
	if err == nil || !strings.Contains(err.Error(), "does_not_exist") {
		t.Fatalf("error = %v, want unknown step diagnostic", err)
	}
}

func TestBuild_TypeMismatch(t *testing.T) {
	def := &Definition{
		Name: "broken",
		Steps: []StepDefinition{
			{Type: "resource_text_loader"},
			{Type: "timeseries_filter", Config: map[string]any{
				"duration_unit":  "day",
				"duration_value": 1,
			}},
		},
	}
	_, err := Build(def)
	var mismatch *chatflow.TypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want TypeMismatchError", err)
	}
}

func TestLoadPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	pipe, def, err := LoadPipeline(path)
	if err != nil {
		t.Fatalf("LoadPipeline() error = %v", err)
	}
	if pipe == nil || def == nil {
		t.Fatal("expected pipeline and definition")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
