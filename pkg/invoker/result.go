package invoker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wilhg/toolforge/pkg/errmodel"
)

// Result is the normalized outcome of one invocation.
// StatusCode is 0 when no response was received; Err then describes why.
type Result struct {
	StatusCode  int
	Body        string
	ContentType string
	Err         *errmodel.Error
}

// OK reports a 2xx or 3xx response.
func (r Result) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 400 }

// Text renders the result for a model or an MCP client:
// "Status: <code>\n\n<body>", with JSON bodies pretty-printed.
func (r Result) Text() string {
	if r.StatusCode == 0 {
		if r.Body != "" {
			return r.Body
		}
		if r.Err != nil {
			return "Error: " + r.Err.Message
		}
		return "Error: no response"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %d\n\n", r.StatusCode)
	b.WriteString(prettyJSON(r.Body))
	return b.String()
}

func prettyJSON(body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return body
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return body
	}
	return buf.String()
}

// Stringify coerces an argument value to its textual form for paths and
// query strings. Integral floats print without a fraction.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
