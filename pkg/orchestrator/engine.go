// Package orchestrator drives composite tool calls: a bounded loop in which a
// reasoning model picks registry tools, the invoker runs them, and results are
// fed back until the model answers or the tool call budget runs out.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
	"github.com/wilhg/toolforge/pkg/errmodel"
	"github.com/wilhg/toolforge/pkg/invoker"
	"github.com/wilhg/toolforge/pkg/metrics"
	"github.com/wilhg/toolforge/pkg/prompt"
	"github.com/wilhg/toolforge/pkg/tools"
	"github.com/wilhg/toolforge/pkg/transcript"
)

const (
	DefaultMaxIterations = 20
	DefaultRunTimeout    = 5 * time.Minute
	DefaultMaxTokens     = 4096

	strategyPreviewLen = 100
	resultPreviewLen   = 150
)

// Invoker executes a standard tool against the downstream API.
type Invoker interface {
	Invoke(ctx context.Context, d tools.ToolDescriptor, args map[string]any) (invoker.Result, error)
}

// Observer receives progress events of a run.
type Observer func(ctx context.Context, ev Event)

// Engine runs composite tools. It is safe for concurrent use; each Run call
// owns its own state.
type Engine struct {
	reg   *tools.Registry
	inv   Invoker
	model llm.LLM

	modelName      string
	maxIterations  int
	maxTokens      int
	runTimeout     time.Duration
	strict         bool
	validateSchema bool
	budget         *transcript.Budget
	observer       Observer
	logger         *zap.Logger
	metrics        *metrics.Collector
}

// Option configures the Engine at construction time.
type Option func(*Engine)

// WithMaxIterations sets the tool call budget per run.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithRunTimeout bounds the wall time of a run. Zero disables the deadline.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.runTimeout = d
		}
	}
}

// WithStrictEndpoints limits each run to the tools whose endpoints the
// composite lists in its endpoint_mappings.
func WithStrictEndpoints(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// WithSchemaValidation validates model-supplied arguments against the full
// input schema, not only required-field presence.
func WithSchemaValidation(on bool) Option {
	return func(e *Engine) { e.validateSchema = on }
}

// WithResultBudget truncates tool results handed back to the model.
func WithResultBudget(b *transcript.Budget) Option {
	return func(e *Engine) { e.budget = b }
}

// WithModelName overrides the provider's default model.
func WithModelName(name string) Option {
	return func(e *Engine) { e.modelName = name }
}

// WithMaxTokens sets the output token cap of each reasoning turn.
func WithMaxTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithObserver registers an observer for every run.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records run metrics into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs an Engine. model may be nil, in which case every run fails.
func New(reg *tools.Registry, inv Invoker, model llm.LLM, opts ...Option) *Engine {
	e := &Engine{
		reg:           reg,
		inv:           inv,
		model:         model,
		maxIterations: DefaultMaxIterations,
		maxTokens:     DefaultMaxTokens,
		runTimeout:    DefaultRunTimeout,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "orchestrator"))
	return e
}

// MaxIterations returns the configured tool call budget.
func (e *Engine) MaxIterations() int { return e.maxIterations }

// Tools returns the specs offered to the model for composite c.
func (e *Engine) Tools(c tools.CompositeToolDescriptor) []llm.ToolSpec {
	var out []llm.ToolSpec
	for _, d := range e.reg.List() {
		if e.strict && !c.References(d.Endpoint) {
			continue
		}
		out = append(out, llm.ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.InputSchema})
	}
	return out
}

// Instruction renders the system instruction a run of c with args starts from.
func (e *Engine) Instruction(c tools.CompositeToolDescriptor, args map[string]any) (string, error) {
	return prompt.Render(prompt.Instruction{
		Task:    c.Description,
		UseCase: c.UseCaseDescription,
		Logic:   c.OrchestrationLogic,
		Tools:   e.Tools(c),
		Input:   args,
	})
}

// run carries the mutable state of one Run call.
type run struct {
	*Run
	e         *Engine
	observers []Observer
	logger    *zap.Logger
}

// Run executes composite c with caller arguments args. The error is non-nil
// only when args are invalid; every other outcome is reported by the returned
// Run's terminal state.
func (e *Engine) Run(ctx context.Context, c tools.CompositeToolDescriptor, args map[string]any, observers ...Observer) (*Run, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := tools.ValidateArguments(c.Name, c.InputSchema, nil, args); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("orchestrator").Start(ctx, "Engine.Run", trace.WithAttributes(
		attribute.String("tool.name", c.Name),
		attribute.Int("run.max_iterations", e.maxIterations),
		attribute.Bool("run.strict_endpoints", e.strict),
	))
	defer span.End()

	r := &run{
		Run: &Run{
			ID:            uuid.NewString(),
			Tool:          c.Name,
			Goal:          c.Goal(),
			Input:         args,
			MaxIterations: e.maxIterations,
			State:         StateInit,
			History:       []State{StateInit},
			StartedAt:     time.Now(),
		},
		e:         e,
		observers: append([]Observer{e.observer}, observers...),
	}
	r.logger = e.logger.With(zap.String("run_id", r.ID), zap.String("tool", c.Name))
	span.SetAttributes(attribute.String("run.id", r.ID))

	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}

	r.loop(ctx, c)

	r.FinishedAt = time.Now()
	span.SetAttributes(
		attribute.String("run.state", r.State.String()),
		attribute.Int("run.iterations", r.Iterations),
	)
	if r.State == StateFailed {
		span.SetStatus(codes.Error, r.Text())
	}
	e.metrics.RecordRun(c.Name, r.State.String(), r.Iterations, r.Duration().Seconds())
	r.logger.Info("orchestration finished",
		zap.String("state", r.State.String()),
		zap.Int("iterations", r.Iterations),
		zap.Int("requested_calls", transcript.ToolCallCount(r.Transcript)),
		zap.Duration("took", r.Duration()))
	if ce := r.logger.Check(zap.DebugLevel, "orchestration transcript"); ce != nil {
		ce.Write(zap.String("transcript", transcript.Dump(r.Transcript)))
	}
	return r.Run, nil
}

func (r *run) loop(ctx context.Context, c tools.CompositeToolDescriptor) {
	e := r.e
	r.emit(ctx, LevelInfo, "Starting composite tool: "+c.Name)
	r.emit(ctx, LevelInfo, "Use case: "+c.UseCaseDescription)
	r.emit(ctx, LevelInfo, "Orchestration strategy: "+prompt.Preview(c.OrchestrationLogic, strategyPreviewLen))

	if e.model == nil {
		r.fail(ctx, errmodel.Configuration("no_reasoning_model", "composite tools require a reasoning model; configure a reasoning provider", map[string]any{"tool": c.Name}))
		return
	}

	specs := e.Tools(c)
	system, err := e.Instruction(c, r.Input)
	if err != nil {
		r.fail(ctx, errmodel.System("render_failed", err.Error(), nil, err))
		return
	}
	r.Transcript = []llm.Message{{Role: llm.RoleUser, Content: prompt.InitialUserMessage}}
	r.logger.Debug("orchestration initialized", zap.Int("tools", len(specs)), zap.String("goal", r.Goal))

	for turn := 1; ; turn++ {
		if err := ctx.Err(); err != nil {
			r.fail(ctx, contextError(err))
			return
		}
		r.transition(StateReasoning)
		r.emit(ctx, LevelInfo, fmt.Sprintf("Agent iteration %d (tool calls used %d/%d)", turn, r.Iterations, e.maxIterations))

		resp, err := r.reason(ctx, system, specs)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				r.fail(ctx, contextError(cerr))
			} else {
				r.fail(ctx, errmodel.Model("reasoning_failed", err.Error(), map[string]any{"provider": e.model.Name()}, err))
			}
			return
		}
		resp.ToolCalls = encodableCalls(resp.ToolCalls)
		r.Transcript = append(r.Transcript, resp.Message())

		if len(resp.ToolCalls) == 0 {
			r.done(ctx, resp)
			return
		}

		r.transition(StateToolExecuting)
		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				r.fail(ctx, contextError(err))
				return
			}
			r.Iterations++
			r.execute(ctx, c, call)
			if r.Iterations >= e.maxIterations {
				r.limit(ctx)
				return
			}
		}
	}
}

func (r *run) reason(ctx context.Context, system string, specs []llm.ToolSpec) (llm.Response, error) {
	e := r.e
	req := llm.Request{
		Model:     e.modelName,
		System:    system,
		Messages:  r.Transcript,
		Tools:     specs,
		MaxTokens: e.maxTokens,
	}
	start := time.Now()
	resp, err := e.model.Generate(ctx, req)
	e.metrics.RecordReasoning(e.model.Name(), err, time.Since(start).Seconds())
	if err != nil {
		r.logger.Warn("reasoning request failed", zap.Error(err))
		return llm.Response{}, err
	}
	r.logger.Debug("reasoning turn",
		zap.Int("transcript_tokens", e.budget.Estimate(r.Transcript)),
		zap.Int("tool_calls", len(resp.ToolCalls)),
		zap.String("stop_reason", resp.StopReason),
		zap.Int("total_tokens", resp.TotalTokens))
	return resp, nil
}

// execute runs one tool call and appends its result to the transcript.
// Failures become error results; they never end the run.
func (r *run) execute(ctx context.Context, c tools.CompositeToolDescriptor, call llm.ToolCall) {
	e := r.e
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "Engine.ToolCall", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.Int("run.iteration", r.Iterations),
	))
	defer span.End()

	argsJSON := string(call.Arguments)
	if argsJSON == "" {
		argsJSON = "{}"
	}
	r.emit(ctx, LevelInfo, fmt.Sprintf("Calling: %s(%s)", call.Name, argsJSON))

	text, isErr, outcome := r.invoke(ctx, c, call)
	if isErr {
		span.SetStatus(codes.Error, outcome)
	}
	text, cut := e.budget.Fit(text)
	if cut {
		r.logger.Debug("tool result truncated", zap.String("called", call.Name))
	}
	r.Transcript = append(r.Transcript, llm.Message{
		Role:       llm.RoleTool,
		Content:    text,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    isErr,
	})
	e.metrics.RecordToolCall(call.Name, outcome)

	if outcome == "not_found" || outcome == "rejected" || outcome == "bad_arguments" {
		r.emit(ctx, LevelError, text)
		return
	}
	level := LevelInfo
	if isErr {
		level = LevelWarning
	}
	r.emit(ctx, level, fmt.Sprintf("Result from %s: %s", call.Name, prompt.Preview(text, resultPreviewLen)))
}

func (r *run) invoke(ctx context.Context, c tools.CompositeToolDescriptor, call llm.ToolCall) (text string, isErr bool, outcome string) {
	e := r.e
	d, ok := e.reg.Lookup(call.Name)
	if !ok {
		r.logger.Info("model requested unknown tool", zap.String("called", call.Name))
		return fmt.Sprintf("Error: tool %s not found", call.Name), true, "not_found"
	}
	if e.strict && !c.References(d.Endpoint) {
		r.logger.Info("model requested tool outside endpoint_mappings", zap.String("called", call.Name))
		return fmt.Sprintf("Error: tool %s (%s) is not allowed for %s", call.Name, d.Endpoint.Key(), c.Name), true, "rejected"
	}
	args, err := llm.DecodeArguments(call.Arguments)
	if err != nil {
		return "Error: arguments are not a JSON object: " + err.Error(), true, "bad_arguments"
	}
	if err := e.reg.ValidateArguments(d.Name, args, e.validateSchema); err != nil {
		return "Error: " + errmodel.From(err).Detail(), true, "bad_arguments"
	}
	res, err := e.inv.Invoke(ctx, d, args)
	if err != nil {
		return "Error: " + errmodel.From(err).Detail(), true, "bad_arguments"
	}
	if res.Err != nil || !res.OK() {
		return res.Text(), true, "downstream_error"
	}
	return res.Text(), false, "ok"
}

func (r *run) done(ctx context.Context, resp llm.Response) {
	r.transition(StateDone)
	answer := resp.Text
	if answer == "" {
		reason := resp.StopReason
		if reason == "" {
			reason = "no answer"
		}
		answer = "Orchestration stopped unexpectedly: " + reason
	}
	r.Answer = answer
	r.emit(ctx, LevelInfo, fmt.Sprintf("Orchestration completed successfully after %d tool calls", r.Iterations))
}

func (r *run) limit(ctx context.Context) {
	r.transition(StateLimitExceeded)
	r.Err = errmodel.Limit("iteration_limit", "maximum tool calls reached", map[string]any{"max_iterations": r.MaxIterations})
	r.emit(ctx, LevelError, r.Text())
}

func (r *run) fail(ctx context.Context, err *errmodel.Error) {
	r.transition(StateFailed)
	r.Err = err
	r.logger.Warn("orchestration failed", zap.Error(err))
	r.emit(ctx, LevelError, r.Text())
}

func (r *run) transition(to State) {
	if r.State == to {
		return
	}
	if !canTransition(r.State, to) {
		r.logger.DPanic("illegal state transition", zap.Stringer("from", r.State), zap.Stringer("to", to))
	}
	r.State = to
	r.History = append(r.History, to)
}

func (r *run) emit(ctx context.Context, level, msg string) {
	r.Progress = append(r.Progress, msg)
	ev := Event{RunID: r.ID, Tool: r.Tool, State: r.State, Iteration: r.Iterations, Level: level, Message: msg}
	for _, o := range r.observers {
		if o != nil {
			o(ctx, ev)
		}
	}
}

// encodableCalls returns calls with arguments that are not valid JSON, such as
// output cut off at the token limit, replaced by a JSON string of the raw
// text. The transcript stays encodable and the call still fails argument
// decoding.
func encodableCalls(calls []llm.ToolCall) []llm.ToolCall {
	var out []llm.ToolCall
	for i, call := range calls {
		var fixed json.RawMessage
		switch {
		case len(call.Arguments) == 0:
			fixed = json.RawMessage(`{}`)
		case !json.Valid(call.Arguments):
			fixed, _ = json.Marshal(string(call.Arguments))
		default:
			continue
		}
		if out == nil {
			out = append([]llm.ToolCall(nil), calls...)
		}
		out[i].Arguments = fixed
	}
	if out == nil {
		return calls
	}
	return out
}

func contextError(err error) *errmodel.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errmodel.Limit("run_timeout", "run deadline exceeded", nil)
	}
	return errmodel.System("cancelled", "run cancelled", map[string]any{"error": err.Error()}, err)
}
