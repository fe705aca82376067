// Package loader reads YAML pipeline definitions and builds runnable
// pipelines through the step factory registry. Type-chain validation runs at
// build time, so a mis-composed definition fails before anything is
// scheduled.
package loader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/palisade-labs/chatflow"
	"github.com/palisade-labs/chatflow/steps"
)

// Definition is the on-disk shape of a pipeline.
type Definition struct {
	// Name identifies the pipeline.
	Name string `yaml:"name"`

	// Description is free-form documentation.
	Description string `yaml:"description"`

	// Params seed the run's ambient parameter bag.
	Params map[string]any `yaml:"params"`

	// Steps are built in order through the step registry.
	Steps []StepDefinition `yaml:"steps"`
}

// StepDefinition selects a registered step type and its configuration.
type StepDefinition struct {
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}

// Load reads and parses a definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses definition bytes.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing pipeline definition: %w", err)
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("pipeline definition has no steps")
	}
	for i, step := range def.Steps {
		if step.Type == "" {
			return nil, fmt.Errorf("step %d has no type", i)
		}
	}
	return &def, nil
}

// Build constructs the pipeline from a definition. Step construction and the
// pipeline's type-chain validation both fail fast here.
func Build(def *Definition) (*chatflow.Pipeline, error) {
	built := make([]chatflow.Step, 0, len(def.Steps))
	for i, sd := range def.Steps {
		step, err := steps.Create(sd.Type, sd.Config)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, sd.Type, err)
		}
		built = append(built, step)
	}

	pipe, err := chatflow.NewPipeline(built,
		chatflow.WithName(def.Name),
		chatflow.WithDescription(def.Description))
	if err != nil {
		return nil, fmt.Errorf("building pipeline %q: %w", def.Name, err)
	}
	return pipe, nil
}

// LoadPipeline reads a definition file and builds its pipeline.
func LoadPipeline(path string) (*chatflow.Pipeline, *Definition, error) {
	def, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	pipe, err := Build(def)
	if err != nil {
		return nil, nil, err
	}
	return pipe, def, nil
}
