package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/palisade-labs/chatflow"
	chatflowotel "github.com/palisade-labs/chatflow/otel"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Execute a pipeline definition",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().StringP("input", "i", "", "Transcript file to ingest as the run's input resource")
	cmd.Flags().String("input-type", "", "Force the input resource type: csv | json | jsonl | text")
	cmd.Flags().String("resource-id", "", "Use an already stored resource as input instead of --input")
	cmd.Flags().StringArrayP("param", "p", nil, "Ambient parameter as key=value (repeatable)")
	cmd.Flags().Bool("create-resources", false, "Materialize step outputs as stored resources")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().String("format", "text", "Output format: text | json")
	addConfigFlags(cmd)

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	defPath := args[0]
	if _, err := os.Stat(defPath); err != nil {
		return exitError(exitFileNotFound, "file not found: %s", defPath)
	}

	settings, err := resolveSettings(cmd)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	params, err := parseParamFlags(cmd)
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	shutdown, err := chatflowotel.Setup(ctx, chatflowotel.SetupConfig{
		Endpoint: settings.OTLPEndpoint,
		Insecure: settings.OTLPInsecure,
	})
	if err != nil {
		return exitError(exitRuntime, "setting up tracing: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	h, err := newHost(settings, cmd.ErrOrStderr())
	if err != nil {
		return exitError(exitProvider, "%v", err)
	}
	defer h.close()

	if err := resolveRunInput(ctx, cmd, h, settings, params); err != nil {
		return err
	}

	createResources, _ := cmd.Flags().GetBool("create-resources")
	runID, finals, err := h.executeDefinition(ctx, settings, defPath, params, createResources)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return exitError(exitTimeout, "run %s timed out after %s", runID, timeout)
		}
		var typeErr *chatflow.TypeMismatchError
		var stepErr *chatflow.StepError
		if errors.As(err, &typeErr) || errors.As(err, &stepErr) {
			return exitError(exitValidation, "%v", err)
		}
		return exitError(exitRuntime, "run %s failed: %v", runID, err)
	}

	format, _ := cmd.Flags().GetString("format")
	return writeRunOutput(cmd.OutOrStdout(), h, runID, finals, format)
}

// resolveRunInput wires the input resource into the ambient params, either by
// ingesting --input or by passing --resource-id through.
func resolveRunInput(ctx context.Context, cmd *cobra.Command, h *host, settings Settings, params map[string]any) error {
	inputPath, _ := cmd.Flags().GetString("input")
	resourceID, _ := cmd.Flags().GetString("resource-id")
	if inputPath != "" && resourceID != "" {
		return exitError(exitInputParse, "--input and --resource-id are mutually exclusive")
	}
	if resourceID != "" {
		params["resource_id"] = resourceID
		return nil
	}
	if inputPath == "" {
		return nil
	}

	forcedType, _ := cmd.Flags().GetString("input-type")
	res, err := h.ingestFile(ctx, inputPath, forcedType, settings.Team)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "input file not found: %s", inputPath)
		}
		return exitError(exitInputParse, "ingesting %s: %v", inputPath, err)
	}
	params["resource_id"] = res.ID
	return nil
}

// parseParamFlags decodes repeated --param key=value flags. Values that parse
// as JSON keep their decoded shape, so numbers and booleans arrive typed.
func parseParamFlags(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetStringArray("param")
	params := make(map[string]any, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, exitError(exitInputParse, "invalid --param %q, expected key=value", kv)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}
	return params, nil
}

// writeRunOutput prints the final contexts. Text format shows one summary
// line per context; json dumps names, metadata, and payloads.
func writeRunOutput(out io.Writer, h *host, runID string, finals []*chatflow.StepContext, format string) error {
	switch format {
	case "json":
		type contextDump struct {
			Name     string         `json:"name"`
			Metadata map[string]any `json:"metadata,omitempty"`
			Data     any            `json:"data"`
		}
		dump := struct {
			RunID    string        `json:"run_id"`
			Contexts []contextDump `json:"contexts"`
		}{RunID: runID}
		for _, c := range finals {
			dump.Contexts = append(dump.Contexts, contextDump{Name: c.Name, Metadata: c.Metadata, Data: c.Data})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	case "text":
		fmt.Fprintf(out, "run %s: %d context(s)\n", runID, len(finals))
		for _, c := range finals {
			fmt.Fprintf(out, "  %s: %s\n", c.Name, summarize(h, c.Data))
		}
		return nil
	default:
		return exitError(exitValidation, "unknown output format %q", format)
	}
}

func summarize(h *host, data any) string {
	if data == nil {
		return "<no data>"
	}
	ser, err := h.serializers.ForData(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return ser.Summary(data)
}
