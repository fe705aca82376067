package steps

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/palisade-labs/chatflow"
)

// Factory builds a step from a pipeline definition's config map.
type Factory func(config map[string]any) (chatflow.Step, error)

// factories maps definition step types to their constructors.
var factories = map[string]Factory{
	"resource_text_loader": func(config map[string]any) (chatflow.Step, error) {
		params, err := decodeConfig[LoaderParams](config)
		if err != nil {
			return nil, err
		}
		return NewResourceTextLoader(params), nil
	},
	"resource_table_loader": func(config map[string]any) (chatflow.Step, error) {
		params, err := decodeConfig[LoaderParams](config)
		if err != nil {
			return nil, err
		}
		return NewResourceTableLoader(params), nil
	},
	"whatsapp_parser": func(config map[string]any) (chatflow.Step, error) {
		return NewWhatsappParser(), nil
	},
	"timeseries_filter": func(config map[string]any) (chatflow.Step, error) {
		params, err := decodeConfig[FilterParams](config)
		if err != nil {
			return nil, err
		}
		return NewTimeseriesFilter(params), nil
	},
	"timeseries_splitter": func(config map[string]any) (chatflow.Step, error) {
		params, err := decodeConfig[SplitterParams](config)
		if err != nil {
			return nil, err
		}
		return NewTimeseriesSplitter(params), nil
	},
	"llm_completion": func(config map[string]any) (chatflow.Step, error) {
		params, err := decodeConfig[LlmCompletionParams](config)
		if err != nil {
			return nil, err
		}
		return NewLlmCompletion(params), nil
	},
	"assign_label": func(config map[string]any) (chatflow.Step, error) {
		params, err := decodeConfig[AssignLabelParams](config)
		if err != nil {
			return nil, err
		}
		return NewAssignLabel(params), nil
	},
}

// Register adds (or replaces) a step factory. Hosts use this to add custom
// steps to pipeline definitions.
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create builds the named step from its config.
func Create(name string, config map[string]any) (chatflow.Step, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown step type %q", name)
	}
	return factory(config)
}

// Names returns the registered step type names, sorted.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeConfig maps a config map onto a params struct through a JSON
// round-trip, so the definition file uses the same keys as ambient params.
func decodeConfig[T any](config map[string]any) (*T, error) {
	params := new(T)
	if len(config) == 0 {
		return params, nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("encoding step config: %w", err)
	}
	if err := json.Unmarshal(raw, params); err != nil {
		return nil, fmt.Errorf("invalid step config: %w", err)
	}
	return params, nil
}
