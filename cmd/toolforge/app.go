package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
	_ "github.com/wilhg/toolforge/pkg/adapters/llm/gemini"
	_ "github.com/wilhg/toolforge/pkg/adapters/llm/openai"
	"github.com/wilhg/toolforge/pkg/config"
	"github.com/wilhg/toolforge/pkg/errmodel"
	"github.com/wilhg/toolforge/pkg/invoker"
	"github.com/wilhg/toolforge/pkg/mcpserver"
	"github.com/wilhg/toolforge/pkg/metrics"
	"github.com/wilhg/toolforge/pkg/orchestrator"
	"github.com/wilhg/toolforge/pkg/prompt"
	"github.com/wilhg/toolforge/pkg/runtime"
	"github.com/wilhg/toolforge/pkg/tools"
	"github.com/wilhg/toolforge/pkg/transcript"
)

const maxBodyBytes = 1 << 20

type app struct {
	cfg    config.Config
	reg    *tools.Registry
	inv    *invoker.Invoker
	engine *orchestrator.Engine
	// engineOpts rebuild the engine around another model for replays.
	engineOpts []orchestrator.Option
	exec       *runtime.Executor
	mcp        *mcpserver.Server
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// openModel returns nil when no reasoning provider is configured.
func openModel(ctx context.Context, cfg config.Config, logger *zap.Logger) (llm.LLM, error) {
	if cfg.Reasoning.Provider == "" {
		return nil, nil
	}
	m, err := llm.Open(ctx, cfg.Reasoning.Provider, cfg.ReasoningOptions())
	if err != nil {
		return nil, errmodel.Configuration("reasoning_unavailable", "cannot open reasoning provider",
			map[string]any{"provider": cfg.Reasoning.Provider, "available": llm.Providers()}, err)
	}
	rc := llm.DefaultRetryConfig()
	rc.MaxRetries = cfg.Reasoning.Retries
	return llm.NewRetrying(m, rc, logger), nil
}

// newApp loads the tool registry and wires the invocation stack. model may
// be nil, in which case composite tools report a configuration error.
func newApp(cfg config.Config, logger *zap.Logger, model llm.LLM) (*app, error) {
	reg, err := tools.LoadFile(cfg.Tools.Path)
	if err != nil {
		return nil, err
	}
	for _, issue := range prompt.Lint(reg) {
		logger.Warn("composite tool lint", zap.String("tool", issue.Tool), zap.String("rule", issue.Rule), zap.String("message", issue.Message))
	}
	if model == nil && len(reg.Composites()) > 0 {
		logger.Warn("composite tools are registered but no reasoning provider is configured",
			zap.Int("composites", len(reg.Composites())))
	}

	baseURL := reg.BaseURL()
	if cfg.API.BaseURL != "" {
		baseURL = cfg.API.BaseURL
	}
	m := metrics.New("toolforge")
	inv := invoker.New(baseURL,
		invoker.WithAPIKey(cfg.API.Key),
		invoker.WithTimeout(cfg.API.Timeout),
		invoker.WithLogger(logger),
		invoker.WithMetrics(m),
	)

	est := transcript.TokenEstimator(transcript.RuneEstimator)
	if name := cfg.Orchestration.TokenizerModel; name != "" {
		if tk, err := transcript.NewTikTokenEstimator(name); err != nil {
			logger.Warn("tokenizer unavailable, counting runes", zap.String("model", name), zap.Error(err))
		} else {
			est = tk
		}
	}
	engineOpts := []orchestrator.Option{
		orchestrator.WithMaxIterations(cfg.Orchestration.MaxIterations),
		orchestrator.WithRunTimeout(cfg.Orchestration.RunTimeout),
		orchestrator.WithStrictEndpoints(cfg.Orchestration.StrictEndpoints),
		orchestrator.WithSchemaValidation(cfg.Orchestration.StrictArguments),
		orchestrator.WithResultBudget(transcript.NewBudget(cfg.Orchestration.MaxResultTokens, transcript.WithTokenEstimator(est))),
		orchestrator.WithModelName(cfg.Reasoning.Model),
		orchestrator.WithMaxTokens(cfg.Reasoning.MaxTokens),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(m),
	}
	engine := orchestrator.New(reg, inv, model, engineOpts...)
	exec := runtime.NewExecutor(reg, inv, engine,
		runtime.WithStrictArguments(cfg.Orchestration.StrictArguments),
		runtime.WithProgressLog(cfg.Orchestration.IncludeProgress),
		runtime.WithLogger(logger),
	)
	srv, err := mcpserver.New(exec,
		mcpserver.WithImplementation(reg.APIName()+"-mcp-server", version),
		mcpserver.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	logger.Info("tools loaded",
		zap.String("api", reg.APIName()),
		zap.String("base_url", inv.BaseURL()),
		zap.Int("tools", reg.Len()),
		zap.Int("composites", len(reg.Composites())),
		zap.Int("max_iterations", engine.MaxIterations()))
	return &app{cfg: cfg, reg: reg, inv: inv, engine: engine, engineOpts: engineOpts, exec: exec, mcp: srv, metrics: m, logger: logger}, nil
}

type toolView struct {
	Name        string                 `json:"name"`
	Kind        tools.Kind             `json:"kind"`
	Description string                 `json:"description"`
	InputSchema json.RawMessage        `json:"input_schema"`
	Endpoint    *tools.EndpointMapping `json:"endpoint,omitempty"`
}

type callResponse struct {
	runtime.Result
	Run *orchestrator.Summary `json:"run,omitempty"`
}

func buildMux(a *app) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})

	mux.HandleFunc("GET /api/tools", func(w http.ResponseWriter, r *http.Request) {
		all := a.reg.All()
		views := make([]toolView, 0, len(all))
		for _, d := range all {
			v := toolView{Name: d.ToolName(), Kind: d.Kind(), Description: d.Summary(), InputSchema: d.Schema()}
			if std, ok := d.(tools.ToolDescriptor); ok {
				ep := std.Endpoint
				v.Endpoint = &ep
			}
			views = append(views, v)
		}
		writeJSON(w, r, map[string]any{
			"api_name":       a.reg.APIName(),
			"base_url":       a.inv.BaseURL(),
			"max_iterations": a.engine.MaxIterations(),
			"tools":          views,
		})
	})

	mux.HandleFunc("POST /api/tools/{name}/call", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			errmodel.WriteHTTP(w, r, errmodel.Validation("bad_json", "cannot read request body", nil))
			return
		}
		args, err := llm.DecodeArguments(bytes.TrimSpace(body))
		if err != nil {
			errmodel.WriteHTTP(w, r, errmodel.Validation("bad_json", "arguments must be a JSON object", map[string]any{"detail": err.Error()}))
			return
		}
		res, err := a.exec.Execute(r.Context(), runtime.NewSession(nil), name, args)
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		out := callResponse{Result: res}
		if res.Run != nil {
			s := res.Run.Summary(r.URL.Query().Get("transcript") == "1")
			out.Run = &s
		}
		writeJSON(w, r, out)
	})

	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.Handle("/mcp", a.mcp.Handler())

	return otelhttp.NewHandler(mux, "toolforge")
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		errmodel.WriteHTTP(w, r, errmodel.System("encode_failed", "response could not be encoded", nil, err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(b, '\n'))
}
