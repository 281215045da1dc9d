package runtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
	"github.com/wilhg/toolforge/pkg/adapters/llm/fake"
	"github.com/wilhg/toolforge/pkg/errmodel"
	"github.com/wilhg/toolforge/pkg/invoker"
	"github.com/wilhg/toolforge/pkg/orchestrator"
	"github.com/wilhg/toolforge/pkg/tools"
)

const petstore = `{
  "api_name": "petstore",
  "tools": [
    {
      "name": "getPet",
      "description": "Fetch a pet",
      "input_schema": {"type": "object", "properties": {"petId": {"type": "integer"}}, "required": ["petId"]},
      "endpoint_mapping": {"path": "/pets/{petId}", "method": "GET"}
    },
    {
      "name": "addPet",
      "description": "Create a pet",
      "input_schema": {"type": "object", "properties": {"name": {"type": "string"}}, "required": ["name"]},
      "endpoint_mapping": {"path": "/pets", "method": "POST"}
    }
  ],
  "composite_tools": [
    {
      "name": "adoptPet",
      "description": "Create a pet and read it back",
      "use_case_description": "register a new pet",
      "orchestration_logic": "addPet, then getPet with the returned id",
      "input_schema": {"type": "object", "properties": {"name": {"type": "string"}}},
      "endpoint_mappings": [{"path": "/pets", "method": "POST", "purpose": "create"}]
    }
  ]
}`

func setup(t *testing.T, status int, model llm.LLM, opts ...ExecutorOption) (*Executor, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if r.Method == http.MethodPost {
			_, _ = io.WriteString(w, `{"id":7}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":7,"name":"Rex","path":"`+r.URL.Path+`"}`)
	}))
	t.Cleanup(srv.Close)

	reg, err := tools.Load(strings.NewReader(petstore))
	require.NoError(t, err)
	inv := invoker.New(srv.URL)
	engine := orchestrator.New(reg, inv, model)
	return NewExecutor(reg, inv, engine, opts...), &hits
}

func TestExecute_Standard(t *testing.T) {
	x, hits := setup(t, 200, nil)
	res, err := x.Execute(t.Context(), nil, "getPet", map[string]any{"petId": 7.0})
	require.NoError(t, err)
	assert.Equal(t, tools.KindStandard, res.Kind)
	assert.Equal(t, 200, res.StatusCode)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Text, "Status: 200")
	assert.Contains(t, res.Text, `"path": "/pets/7"`)
	assert.Nil(t, res.Run)
	assert.Equal(t, int32(1), hits.Load())
}

func TestExecute_StandardDownstreamErrorIsRaw(t *testing.T) {
	x, _ := setup(t, 404, nil)
	res, err := x.Execute(t.Context(), nil, "getPet", map[string]any{"petId": 1})
	require.NoError(t, err)
	assert.Equal(t, 404, res.StatusCode)
	assert.True(t, strings.HasPrefix(res.Text, "Status: 404"))
}

func TestExecute_StandardArgumentErrors(t *testing.T) {
	x, hits := setup(t, 200, nil, WithStrictArguments(true))

	_, err := x.Execute(t.Context(), nil, "getPet", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, "missing_required", errmodel.From(err).Code)

	_, err = x.Execute(t.Context(), nil, "getPet", map[string]any{"petId": "seven"})
	require.Error(t, err)
	assert.Equal(t, "invalid_arguments", errmodel.From(err).Code)

	assert.Equal(t, int32(0), hits.Load())
}

func TestExecute_UnknownTool(t *testing.T) {
	x, _ := setup(t, 200, nil)
	_, err := x.Execute(t.Context(), nil, "fooBar", nil)
	require.Error(t, err)
	ce := errmodel.From(err)
	assert.Equal(t, "not_found", ce.Code)
	assert.Equal(t, http.StatusNotFound, errmodel.HTTPStatus(ce))
}

func TestExecute_Composite(t *testing.T) {
	model := fake.Script(
		fake.ToolUse(fake.Call("", "addPet", map[string]any{"name": "Rex"})),
		fake.ToolUse(fake.Call("", "getPet", map[string]any{"petId": 7})),
		fake.Final("Rex is registered with id 7."),
	)
	x, hits := setup(t, 200, model)

	var streamed []string
	s := NewSession(func(_ context.Context, level, msg string) { streamed = append(streamed, level+":"+msg) })
	res, err := x.Execute(t.Context(), s, "adoptPet", map[string]any{"name": "Rex"})
	require.NoError(t, err)

	assert.Equal(t, tools.KindComposite, res.Kind)
	assert.False(t, res.IsError)
	require.NotNil(t, res.Run)
	assert.Equal(t, orchestrator.StateDone, res.Run.State)
	assert.Equal(t, 2, res.Run.Iterations)
	assert.Equal(t, int32(2), hits.Load())

	assert.True(t, strings.HasPrefix(res.Text, "\n\n--- Progress Log ---\nStarting composite tool: adoptPet\n"))
	assert.True(t, strings.HasSuffix(res.Text, "--- End Progress Log ---\n\nRex is registered with id 7."))
	assert.Equal(t, s.Progress(), res.Run.Progress)
	require.Len(t, streamed, len(s.Progress()))
	assert.Equal(t, "info:Starting composite tool: adoptPet", streamed[0])
}

func TestExecute_CompositeWithoutModel(t *testing.T) {
	x, hits := setup(t, 200, nil, WithProgressLog(false))
	res, err := x.Execute(t.Context(), nil, "adoptPet", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.True(t, strings.HasPrefix(res.Text, "Orchestration error: composite tools require a reasoning model"))
	assert.Equal(t, int32(0), hits.Load())
}

func TestSession(t *testing.T) {
	var nilSession *Session
	nilSession.Report(t.Context(), "info", "ignored")
	assert.Empty(t, nilSession.ProgressLog())

	s := NewSession(nil)
	assert.NotEmpty(t, s.ID)
	assert.Empty(t, s.ProgressLog())
	s.Report(t.Context(), "info", "a")
	s.Report(t.Context(), "error", "b")
	assert.Equal(t, "\n\n--- Progress Log ---\na\nb\n--- End Progress Log ---\n\n", s.ProgressLog())
}
