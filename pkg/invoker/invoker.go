// Package invoker issues the HTTP request behind a standard tool.
//
// Path placeholders are filled from the arguments, the remaining arguments go
// to the query string (GET, DELETE) or to a JSON body (POST, PUT, PATCH), and
// exactly one request is sent. Downstream failures come back as a Result; only
// unusable arguments produce an error.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wilhg/toolforge/pkg/errmodel"
	"github.com/wilhg/toolforge/pkg/metrics"
	"github.com/wilhg/toolforge/pkg/tools"
)

const (
	defaultTimeout = 30 * time.Second
	// maxBodyBytes bounds how much of a downstream response is read.
	maxBodyBytes = 4 << 20
)

// Invoker calls the HTTP endpoints behind standard tools.
type Invoker struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Invoker) {
		if c != nil {
			i.client = c
		}
	}
}

// WithAPIKey sends "Authorization: Bearer <key>" on every request.
func WithAPIKey(key string) Option {
	return func(i *Invoker) { i.apiKey = key }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		if d > 0 {
			i.client.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithMetrics records invocation counts.
func WithMetrics(m *metrics.Collector) Option {
	return func(i *Invoker) { i.metrics = m }
}

// New creates an Invoker for the API at baseURL.
func New(baseURL string, opts ...Option) *Invoker {
	inv := &Invoker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			// One request per invocation; redirects are returned to the caller.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	inv.logger = inv.logger.With(zap.String("component", "invoker"))
	return inv
}

// BaseURL returns the API base URL requests are sent to.
func (i *Invoker) BaseURL() string { return i.baseURL }

// Invoke calls the endpoint behind d with args. The returned error is always an
// ArgumentError; transport failures and non-2xx statuses are reported in the Result.
func (i *Invoker) Invoke(ctx context.Context, d tools.ToolDescriptor, args map[string]any) (Result, error) {
	ctx, span := otel.Tracer("invoker").Start(ctx, "Invoker.Invoke", trace.WithAttributes(
		attribute.String("tool.name", d.Name),
		attribute.String("http.method", d.Endpoint.Method),
		attribute.String("http.route", d.Endpoint.Path),
	))
	defer span.End()

	req, err := i.buildRequest(ctx, d, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "argument error")
		return Result{}, err
	}

	start := time.Now()
	res, err := i.client.Do(req)
	if err != nil {
		ce := errmodel.Downstream("unreachable", "request to downstream API failed", map[string]any{"tool": d.Name, "url": req.URL.String()}, err)
		i.logger.Warn("downstream request failed",
			zap.String("tool", d.Name),
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Error(err))
		span.RecordError(err)
		i.metrics.RecordInvocation(d.Name, req.Method, 0)
		return Result{Body: "Error: " + err.Error(), Err: ce}, nil
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		ce := errmodel.Downstream("read_failed", "reading downstream response failed", map[string]any{"tool": d.Name}, err)
		span.RecordError(err)
		i.metrics.RecordInvocation(d.Name, req.Method, res.StatusCode)
		return Result{StatusCode: res.StatusCode, Body: string(body), ContentType: res.Header.Get("Content-Type"), Err: ce}, nil
	}

	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))
	i.metrics.RecordInvocation(d.Name, req.Method, res.StatusCode)
	i.logger.Debug("downstream request completed",
		zap.String("tool", d.Name),
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Int("status", res.StatusCode),
		zap.Duration("took", time.Since(start)))

	return Result{
		StatusCode:  res.StatusCode,
		Body:        string(body),
		ContentType: res.Header.Get("Content-Type"),
	}, nil
}

// buildRequest performs path substitution and argument placement without any I/O.
func (i *Invoker) buildRequest(ctx context.Context, d tools.ToolDescriptor, args map[string]any) (*http.Request, error) {
	method := strings.ToUpper(d.Endpoint.Method)
	path, rawQuery, remaining, err := Substitute(d.Endpoint.Path, args)
	if err != nil {
		return nil, errmodel.Argument("missing_path_param", err.Error(), map[string]any{"tool": d.Name, "path": d.Endpoint.Path})
	}

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, errmodel.Argument("invalid_path", "endpoint query template is malformed", map[string]any{"tool": d.Name, "error": err.Error()})
	}

	var body io.Reader
	if d.Endpoint.HasBody() {
		if len(remaining) > 0 {
			b, err := json.Marshal(remaining)
			if err != nil {
				return nil, errmodel.Argument("invalid_arguments", "arguments are not JSON-serializable", map[string]any{"tool": d.Name, "error": err.Error()})
			}
			body = bytes.NewReader(b)
		}
	} else {
		for k, v := range remaining {
			addQuery(query, k, v)
		}
	}

	u := i.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errmodel.Argument("invalid_url", "could not build request URL", map[string]any{"tool": d.Name, "url": u, "error": err.Error()})
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if i.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+i.apiKey)
	}
	return req, nil
}

// Substitute fills the {key} placeholders of template from args. It returns the
// path, the literal query part of the template (substituted and escaped) and a
// copy of args without the consumed keys.
//
// A placeholder that only appears as a query value, as in
// "/orders?customerId={id}", is bound from args[key] or else from the argument
// named by its query key (customerId). A placeholder with no usable value is an
// error.
func Substitute(template string, args map[string]any) (path, rawQuery string, remaining map[string]any, err error) {
	remaining = make(map[string]any, len(args))
	for k, v := range args {
		remaining[k] = v
	}

	path, rawQuery, _ = strings.Cut(template, "?")
	queryKeys := queryBindings(rawQuery)
	for _, key := range tools.Placeholders(template) {
		source := key
		v, ok := args[key]
		if (!ok || v == nil) && !strings.Contains(path, "{"+key+"}") {
			if qk, bound := queryKeys[key]; bound {
				source = qk
				v, ok = args[qk]
			}
		}
		if !ok || v == nil {
			return "", "", nil, fmt.Errorf("missing required path parameter %q", key)
		}
		s := Stringify(v)
		if s == "" {
			return "", "", nil, fmt.Errorf("path parameter %q is empty", key)
		}
		path = strings.ReplaceAll(path, "{"+key+"}", url.PathEscape(s))
		rawQuery = strings.ReplaceAll(rawQuery, "{"+key+"}", url.QueryEscape(s))
		delete(remaining, source)
	}
	return path, rawQuery, remaining, nil
}

// queryBindings maps each placeholder used as a whole query value to its
// query key: "customerId={id}" gives id -> customerId.
func queryBindings(rawQuery string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" || len(v) < 3 || v[0] != '{' || v[len(v)-1] != '}' {
			continue
		}
		if _, seen := out[v[1:len(v)-1]]; !seen {
			out[v[1:len(v)-1]] = k
		}
	}
	return out
}

func addQuery(q url.Values, key string, v any) {
	switch t := v.(type) {
	case nil:
		return
	case []any:
		for _, e := range t {
			q.Add(key, Stringify(e))
		}
	case []string:
		for _, e := range t {
			q.Add(key, e)
		}
	default:
		q.Set(key, Stringify(v))
	}
}
