// Package runtime executes tools by name. Standard tools go straight to the
// HTTP invoker; composite tools run through the orchestration engine.
package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wilhg/toolforge/pkg/errmodel"
	"github.com/wilhg/toolforge/pkg/orchestrator"
	"github.com/wilhg/toolforge/pkg/tools"
)

// Result is the normalized outcome of executing any tool.
type Result struct {
	Kind       tools.Kind        `json:"kind"`
	Tool       string            `json:"tool"`
	Text       string            `json:"text"`
	IsError    bool              `json:"is_error"`
	StatusCode int               `json:"status_code,omitempty"`
	Run        *orchestrator.Run `json:"-"`
}

type handler func(ctx context.Context, s *Session, name string, args map[string]any) (Result, error)

// Executor dispatches tool calls on the descriptor kind.
type Executor struct {
	reg        *tools.Registry
	inv        orchestrator.Invoker
	engine     *orchestrator.Engine
	handlers   map[tools.Kind]handler
	strictArgs bool
	prepend    bool
	logger     *zap.Logger
}

// ExecutorOption configures the Executor at construction time.
type ExecutorOption func(*Executor)

// WithStrictArguments validates caller arguments of standard tools against the
// full input schema.
func WithStrictArguments(on bool) ExecutorOption {
	return func(x *Executor) { x.strictArgs = on }
}

// WithProgressLog prepends the session progress log to composite results.
func WithProgressLog(on bool) ExecutorOption {
	return func(x *Executor) { x.prepend = on }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(x *Executor) {
		if l != nil {
			x.logger = l
		}
	}
}

// NewExecutor constructs an Executor.
func NewExecutor(reg *tools.Registry, inv orchestrator.Invoker, engine *orchestrator.Engine, opts ...ExecutorOption) *Executor {
	x := &Executor{reg: reg, inv: inv, engine: engine, prepend: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(x)
	}
	x.logger = x.logger.With(zap.String("component", "executor"))
	x.handlers = map[tools.Kind]handler{
		tools.KindStandard:  x.executeStandard,
		tools.KindComposite: x.executeComposite,
	}
	return x
}

// Registry returns the registry tools are resolved from.
func (x *Executor) Registry() *tools.Registry { return x.reg }

// Execute runs the named tool. Unknown tools and invalid caller arguments are
// returned as errors; downstream failures and terminal orchestration states
// are reported in the Result.
func (x *Executor) Execute(ctx context.Context, s *Session, name string, args map[string]any) (Result, error) {
	d, ok := x.reg.Resolve(name)
	if !ok {
		return Result{}, errmodel.Validation("not_found", "unknown tool", map[string]any{"tool": name})
	}
	h, ok := x.handlers[d.Kind()]
	if !ok {
		return Result{}, errmodel.System("unsupported_kind", "no handler for tool kind", map[string]any{"tool": name, "kind": string(d.Kind())}, nil)
	}
	if s == nil {
		s = NewSession(nil)
	}
	if args == nil {
		args = map[string]any{}
	}

	ctx, span := otel.Tracer("runtime").Start(ctx, "Executor.Execute", trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.kind", string(d.Kind())),
		attribute.String("session.id", s.ID),
	))
	defer span.End()

	start := time.Now()
	res, err := h(ctx, s, name, args)
	if err != nil {
		span.RecordError(err)
		x.logger.Info("tool call rejected", zap.String("tool", name), zap.Error(err))
		return Result{}, err
	}
	span.SetAttributes(attribute.Bool("tool.is_error", res.IsError))
	x.logger.Info("tool call finished",
		zap.String("tool", name),
		zap.String("kind", string(d.Kind())),
		zap.String("session", s.ID),
		zap.Bool("is_error", res.IsError),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

func (x *Executor) executeStandard(ctx context.Context, _ *Session, name string, args map[string]any) (Result, error) {
	d, _ := x.reg.Lookup(name)
	if err := x.reg.ValidateArguments(name, args, x.strictArgs); err != nil {
		return Result{}, err
	}
	res, err := x.inv.Invoke(ctx, d, args)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Kind:       tools.KindStandard,
		Tool:       name,
		Text:       res.Text(),
		IsError:    res.Err != nil,
		StatusCode: res.StatusCode,
	}, nil
}

func (x *Executor) executeComposite(ctx context.Context, s *Session, name string, args map[string]any) (Result, error) {
	c, _ := x.reg.LookupComposite(name)
	run, err := x.engine.Run(ctx, c, args, func(ctx context.Context, ev orchestrator.Event) {
		s.Report(ctx, ev.Level, ev.Message)
	})
	if err != nil {
		return Result{}, err
	}
	text := run.Text()
	if x.prepend {
		text = s.ProgressLog() + text
	}
	return Result{
		Kind:    tools.KindComposite,
		Tool:    name,
		Text:    text,
		IsError: run.IsError(),
		Run:     run,
	}, nil
}
