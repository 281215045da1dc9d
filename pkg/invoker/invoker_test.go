package invoker

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/toolforge/pkg/errmodel"
	"github.com/wilhg/toolforge/pkg/tools"
)

type captured struct {
	Method      string
	Path        string
	RawQuery    string
	Body        string
	ContentType string
	Auth        string
}

// recorder is a downstream API that records every request it receives.
func recorder(t *testing.T, status int, body string) (*httptest.Server, *[]captured, *atomic.Int32) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []captured
		n    atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		reqs = append(reqs, captured{
			Method:      r.Method,
			Path:        r.URL.EscapedPath(),
			RawQuery:    r.URL.RawQuery,
			Body:        string(b),
			ContentType: r.Header.Get("Content-Type"),
			Auth:        r.Header.Get("Authorization"),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs, &n
}

func tool(name, method, path string) tools.ToolDescriptor {
	return tools.ToolDescriptor{Name: name, Endpoint: tools.EndpointMapping{Path: path, Method: method}}
}

func TestInvoke_GetCustomerPathOnly(t *testing.T) {
	srv, reqs, _ := recorder(t, 200, `{"id":"123","name":"Ada"}`)
	inv := New(srv.URL)

	res, err := inv.Invoke(t.Context(), tool("getCustomer", "GET", "/customers/{id}"), map[string]any{"id": "123"})
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.True(t, res.OK())
	assert.JSONEq(t, `{"id":"123","name":"Ada"}`, res.Body)

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, "GET", got.Method)
	assert.Equal(t, "/customers/123", got.Path)
	assert.Empty(t, got.RawQuery)
	assert.Empty(t, got.Body)
}

func TestInvoke_MissingPathParamNoNetwork(t *testing.T) {
	srv, _, n := recorder(t, 200, `{}`)
	inv := New(srv.URL)

	for _, method := range []string{"GET", "POST", "PUT", "DELETE", "PATCH"} {
		_, err := inv.Invoke(t.Context(), tool("t", method, "/customers/{p}/orders"), map[string]any{"other": 1})
		require.Error(t, err, method)
		ce := errmodel.From(err)
		assert.Equal(t, errmodel.CategoryValidation, ce.Category)
		assert.Equal(t, "missing_path_param", ce.Code)
	}
	_, err := inv.Invoke(t.Context(), tool("t", "GET", "/c/{p}"), map[string]any{"p": nil})
	require.Error(t, err)
	assert.Equal(t, int32(0), n.Load(), "no request may be sent when a path parameter is missing")
}

func TestInvoke_GetAndDeleteUseQuery(t *testing.T) {
	srv, reqs, _ := recorder(t, 200, `[]`)
	inv := New(srv.URL)

	args := map[string]any{"id": 42.0, "status": "open", "limit": 10.0, "tags": []any{"a", "b"}, "active": true}
	_, err := inv.Invoke(t.Context(), tool("listOrders", "GET", "/customers/{id}/orders"), args)
	require.NoError(t, err)
	_, err = inv.Invoke(t.Context(), tool("deleteOrders", "DELETE", "/customers/{id}/orders"), map[string]any{"id": "7", "force": true})
	require.NoError(t, err)

	require.Len(t, *reqs, 2)
	get := (*reqs)[0]
	assert.Equal(t, "/customers/42/orders", get.Path)
	assert.Equal(t, "active=true&limit=10&status=open&tags=a&tags=b", get.RawQuery)
	assert.Empty(t, get.Body)
	assert.Empty(t, get.ContentType)

	del := (*reqs)[1]
	assert.Equal(t, "DELETE", del.Method)
	assert.Equal(t, "/customers/7/orders", del.Path)
	assert.Equal(t, "force=true", del.RawQuery)
	assert.Empty(t, del.Body)

	// Arguments must not be mutated by substitution.
	assert.Contains(t, args, "id")
}

func TestInvoke_BodyMethodsUseJSON(t *testing.T) {
	srv, reqs, _ := recorder(t, 201, `{"ok":true}`)
	inv := New(srv.URL, WithAPIKey("secret"))

	for _, method := range []string{"POST", "PUT", "PATCH"} {
		res, err := inv.Invoke(t.Context(), tool("write", method, "/customers/{id}"), map[string]any{"id": "9", "name": "Bob", "age": 30.0})
		require.NoError(t, err)
		assert.Equal(t, 201, res.StatusCode)
	}
	require.Len(t, *reqs, 3)
	for _, got := range *reqs {
		assert.Equal(t, "/customers/9", got.Path)
		assert.Empty(t, got.RawQuery, "body methods never append query parameters")
		assert.Equal(t, "application/json", got.ContentType)
		assert.Equal(t, "Bearer secret", got.Auth)
		var body map[string]any
		require.NoError(t, json.Unmarshal([]byte(got.Body), &body))
		assert.Equal(t, map[string]any{"name": "Bob", "age": 30.0}, body)
	}
}

func TestInvoke_PostWithoutRemainingArgsSendsNoBody(t *testing.T) {
	srv, reqs, _ := recorder(t, 204, ``)
	inv := New(srv.URL)
	_, err := inv.Invoke(t.Context(), tool("touch", "POST", "/customers/{id}/touch"), map[string]any{"id": "1"})
	require.NoError(t, err)
	assert.Empty(t, (*reqs)[0].Body)
	assert.Empty(t, (*reqs)[0].ContentType)
}

func TestInvoke_QueryTemplatePlaceholders(t *testing.T) {
	srv, reqs, _ := recorder(t, 200, `[]`)
	inv := New(srv.URL + "/")
	_, err := inv.Invoke(t.Context(), tool("listOrders", "GET", "/orders?customerId={id}"), map[string]any{"id": "a b", "page": 2.0})
	require.NoError(t, err)
	got := (*reqs)[0]
	assert.Equal(t, "/orders", got.Path)
	assert.Equal(t, "customerId=a+b&page=2", got.RawQuery)
}

func TestInvoke_PathValuesAreEscaped(t *testing.T) {
	srv, reqs, _ := recorder(t, 200, `{}`)
	inv := New(srv.URL)
	_, err := inv.Invoke(t.Context(), tool("get", "GET", "/files/{name}"), map[string]any{"name": "a/b c"})
	require.NoError(t, err)
	assert.Equal(t, "/files/a%2Fb%20c", (*reqs)[0].Path)
}

func TestInvoke_DownstreamErrorsAreResults(t *testing.T) {
	srv, _, _ := recorder(t, 500, `{"detail":"boom"}`)
	inv := New(srv.URL)
	res, err := inv.Invoke(t.Context(), tool("getCustomer", "GET", "/customers/{id}"), map[string]any{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, 500, res.StatusCode)
	assert.False(t, res.OK())
	assert.Contains(t, res.Text(), "Status: 500")
	assert.Contains(t, res.Text(), `"detail": "boom"`)
}

func TestInvoke_UnreachableIsResult(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	inv := New(url)
	res, err := inv.Invoke(t.Context(), tool("getCustomer", "GET", "/customers/{id}"), map[string]any{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.StatusCode)
	require.NotNil(t, res.Err)
	assert.Equal(t, errmodel.CategoryNetwork, res.Err.Category)
	assert.Contains(t, res.Text(), "Error:")
}

func TestInvoke_RedirectIsNotFollowed(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	res, err := New(srv.URL).Invoke(t.Context(), tool("get", "GET", "/x"), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, res.StatusCode)
	assert.True(t, res.OK())
	assert.Equal(t, int32(1), n.Load())
}

func TestSubstitute(t *testing.T) {
	path, q, rem, err := Substitute("/a/{x}/b/{y}", map[string]any{"x": 1.0, "y": "z", "k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "/a/1/b/z", path)
	assert.Empty(t, q)
	assert.Equal(t, map[string]any{"k": "v"}, rem)

	_, _, _, err = Substitute("/a/{x}", map[string]any{"x": ""})
	assert.Error(t, err)
}

func TestSubstitute_QueryPlaceholder(t *testing.T) {
	path, q, rem, err := Substitute("/orders?customerId={id}", map[string]any{"customerId": "42", "limit": 5.0})
	require.NoError(t, err)
	assert.Equal(t, "/orders", path)
	assert.Equal(t, "customerId=42", q)
	assert.Equal(t, map[string]any{"limit": 5.0}, rem)

	path, q, rem, err = Substitute("/orders?customerId={id}", map[string]any{"id": "7"})
	require.NoError(t, err)
	assert.Equal(t, "/orders", path)
	assert.Equal(t, "customerId=7", q)
	assert.Empty(t, rem)

	_, _, _, err = Substitute("/orders?customerId={id}", map[string]any{"other": "1"})
	assert.ErrorContains(t, err, `"id"`)

	// Path placeholders never fall back to a query key.
	_, _, _, err = Substitute("/c/{id}/orders?customerId={id}", map[string]any{"customerId": "1"})
	assert.Error(t, err)
}

func TestInvoke_QueryPlaceholderFromQueryKey(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Method + " " + r.URL.RequestURI())
		_, _ = io.WriteString(w, `[]`)
	}))
	t.Cleanup(srv.Close)

	res, err := New(srv.URL).Invoke(t.Context(), tool("listOrders", "GET", "/orders?customerId={id}"), map[string]any{"customerId": "42"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "GET /orders?customerId=42", got.Load())
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "42", Stringify(42.0))
	assert.Equal(t, "4.5", Stringify(4.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, "12", Stringify(json.Number("12")))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}

func TestResult_Text(t *testing.T) {
	assert.Equal(t, "Status: 200\n\nplain", Result{StatusCode: 200, Body: "plain"}.Text())
	assert.Equal(t, "Status: 200\n\n{\n  \"a\": 1\n}", Result{StatusCode: 200, Body: `{"a":1}`}.Text())
	assert.Equal(t, "Error: no response", Result{}.Text())
}
