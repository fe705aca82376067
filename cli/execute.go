package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	otelapi "go.opentelemetry.io/otel"

	"github.com/palisade-labs/chatflow"
	"github.com/palisade-labs/chatflow/llmprovider"
	"github.com/palisade-labs/chatflow/loader"
	chatflowotel "github.com/palisade-labs/chatflow/otel"
	"github.com/palisade-labs/chatflow/resourcestore"
	"github.com/palisade-labs/chatflow/runstore"
	"github.com/palisade-labs/chatflow/serializer"
)

// host bundles the collaborators a pipeline run needs: stores, serializers,
// the optional LLM client, and the log handler factory routing engine
// entries to the process log output.
type host struct {
	resources   chatflow.ResourceStore
	runs        runstore.Store
	serializers *serializer.Registry
	llm         chatflow.LLMClient
	logFactory  chatflow.LogHandlerFactory

	closers []func() error
}

// newHost builds the collaborator set from settings. SQLitePath selects the
// SQLite-backed stores, sharing one database file; empty selects the
// in-memory stores. logs receives engine log lines.
func newHost(settings Settings, logs io.Writer) (*host, error) {
	h := &host{serializers: serializer.NewRegistry()}

	if settings.SQLitePath == "" {
		h.resources = resourcestore.NewMemory()
		h.runs = runstore.NewMemory()
	} else {
		resources, err := resourcestore.NewSQLite(settings.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening resource store: %w", err)
		}
		h.closers = append(h.closers, resources.Close)
		runs, err := runstore.NewSQLite(settings.SQLitePath)
		if err != nil {
			h.close()
			return nil, fmt.Errorf("opening run store: %w", err)
		}
		h.closers = append(h.closers, runs.Close)
		h.resources = resources
		h.runs = runs
	}

	if settings.Provider != "" {
		client, err := llmprovider.NewClient(settings.Provider, settings.APIKey)
		if err != nil {
			h.close()
			return nil, err
		}
		h.llm = client
	}

	h.logFactory = newLogFactory(logs, settings.OTLPEndpoint != "")
	return h, nil
}

// close releases everything the host opened, last opened first.
func (h *host) close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		_ = h.closers[i]()
	}
}

// newLogFactory builds the handler factory attached to every run and step
// scope. Entries are written as text lines; with tracing enabled they pass
// through the span-tracking handler first and get trace ids stamped on.
func newLogFactory(logs io.Writer, traced bool) chatflow.LogHandlerFactory {
	writer := writerHandler(logs)
	if !traced {
		return func(string) chatflow.LogHandler { return writer }
	}
	tracing := chatflowotel.NewTracingHandler(otelapi.Tracer("chatflow"))
	enriched := chatflowotel.EnrichHandler(writer, tracing)
	combined := chatflow.HandlerFunc(func(entry chatflow.LogEntry) {
		tracing.Handle(entry)
		enriched.Handle(entry)
	})
	return func(string) chatflow.LogHandler { return combined }
}

// writerHandler formats entries as single text lines.
func writerHandler(w io.Writer) chatflow.LogHandler {
	return chatflow.HandlerFunc(func(entry chatflow.LogEntry) {
		fmt.Fprintf(w, "%s %-5s [%s] %s\n",
			entry.Time.Format(time.RFC3339), strings.ToUpper(string(entry.Level)),
			entry.Logger, entry.Message)
	})
}

// executeDefinition loads a pipeline definition, records a run, and executes
// it. Ambient parameters come from the definition's params overlaid with
// extraParams. Returns the run id alongside the final contexts so callers
// can report partial progress on failure.
func (h *host) executeDefinition(ctx context.Context, settings Settings, defPath string, extraParams map[string]any, createResources bool) (string, []*chatflow.StepContext, error) {
	pipe, def, err := loader.LoadPipeline(defPath)
	if err != nil {
		return "", nil, err
	}

	rec := &runstore.Record{
		ID:       uuid.NewString(),
		Team:     settings.Team,
		Provider: settings.Provider,
		Model:    settings.Model,
		Status:   chatflow.RunStatusRunning,
	}
	if err := h.runs.Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("recording run: %w", err)
	}

	params := make(map[string]any, len(def.Params)+len(extraParams)+1)
	for k, v := range def.Params {
		params[k] = v
	}
	for k, v := range extraParams {
		params[k] = v
	}
	if settings.Model != "" {
		if _, ok := params["model"]; !ok {
			params["model"] = settings.Model
		}
	}

	opts := []chatflow.PipelineContextOption{
		chatflow.WithRun(runstore.NewHandle(h.runs, rec, h.llm)),
		chatflow.WithStores(h.resources, h.serializers),
		chatflow.WithParams(params),
		chatflow.WithLogFactory(h.logFactory),
	}
	if createResources {
		opts = append(opts, chatflow.WithResourceCreation())
	}
	pc := chatflow.NewPipelineContext(opts...)

	finals, runErr := pipe.Run(ctx, pc, chatflow.Initial(nil))

	final := chatflow.RunStatusSuccess
	switch {
	case runErr != nil:
		final = chatflow.RunStatusError
	case pc.IsCancelled(ctx):
		final = chatflow.RunStatusCancelled
	}
	if err := h.runs.SetStatus(ctx, rec.ID, final); err != nil && runErr == nil {
		runErr = fmt.Errorf("persisting run status: %w", err)
	}
	return rec.ID, finals, runErr
}

// ingestFile stores a local file as a resource and returns its handle. The
// resource type comes from the file extension unless forced.
func (h *host) ingestFile(ctx context.Context, path, forcedType, team string) (*chatflow.Resource, error) {
	f, err := os.Open(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, err
	}
	defer f.Close()

	typ := chatflow.ResourceType(forcedType)
	if forcedType == "" {
		typ = resourceTypeForFile(path)
	}
	res := chatflow.NewResource("", team, filepath.Base(path), typ, nil, nil)
	return h.resources.Create(ctx, res, f)
}

func resourceTypeForFile(path string) chatflow.ResourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return chatflow.ResourceCSV
	case ".json":
		return chatflow.ResourceJSON
	case ".jsonl":
		return chatflow.ResourceJSONL
	case ".xlsx":
		return chatflow.ResourceXLSX
	default:
		return chatflow.ResourceText
	}
}
