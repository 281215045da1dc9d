package tools

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wilhg/toolforge/pkg/errmodel"
)

// Config is the declarative tool configuration (tools.json).
type Config struct {
	APIName        string                    `json:"api_name"`
	BaseURL        string                    `json:"base_url"`
	Tools          []ToolDescriptor          `json:"tools"`
	CompositeTools []CompositeToolDescriptor `json:"composite_tools"`
}

// ParseConfig decodes a tool configuration. Unknown fields are ignored.
func ParseConfig(r io.Reader) (Config, error) {
	var cfg Config
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, errmodel.Configuration("bad_json", "tool configuration is not valid JSON", map[string]any{"error": err.Error()})
	}
	return cfg, nil
}

// Load parses and validates a tool configuration and builds the Registry.
func Load(r io.Reader) (*Registry, error) {
	cfg, err := ParseConfig(r)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// LoadFile loads the tool configuration at path.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errmodel.Configuration("not_found", "tool configuration file not readable", map[string]any{"path": path}, err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Validate reports every problem in cfg as a single ConfigurationError whose
// causes list the individual problems. It returns nil for a valid config.
func (cfg Config) Validate() error {
	var problems []error
	add := func(code, format string, args ...any) {
		problems = append(problems, errmodel.Configuration(code, fmt.Sprintf(format, args...), nil))
	}

	if strings.TrimSpace(cfg.APIName) == "" {
		add("missing_field", "configuration missing required field: api_name")
	}

	names := make(map[string]string, len(cfg.Tools)+len(cfg.CompositeTools))
	claim := func(name, kind string, idx int) {
		if name == "" {
			add("missing_field", "%s #%d: missing required field: name", kind, idx)
			return
		}
		if prev, ok := names[name]; ok {
			add("duplicate_tool", "%s %q: duplicate name (already defined as %s)", kind, name, prev)
			return
		}
		names[name] = kind
	}

	for i, t := range cfg.Tools {
		claim(t.Name, "tool", i)
		label := t.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if err := validateEndpoint(t.Endpoint); err != nil {
			add("invalid_endpoint", "tool %s: %v", label, err)
		}
		if err := validateSchema(t.InputSchema); err != nil {
			add("invalid_schema", "tool %s: %v", label, err)
		}
	}
	for i, c := range cfg.CompositeTools {
		claim(c.Name, "composite tool", i)
		label := c.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if strings.TrimSpace(c.Description) == "" && strings.TrimSpace(c.UseCaseDescription) == "" {
			add("missing_field", "composite tool %s: description or use_case_description required", label)
		}
		for j, ref := range c.EndpointMappings {
			if ref.Path == "" || !methods[strings.ToUpper(ref.Method)] {
				add("invalid_endpoint", "composite tool %s: endpoint_mappings[%d] needs a path and a supported method", label, j)
			}
		}
		if err := validateSchema(c.InputSchema); err != nil {
			add("invalid_schema", "composite tool %s: %v", label, err)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	msg := problems[0].Error()
	if len(problems) > 1 {
		msg = fmt.Sprintf("%d problems in tool configuration; first: %s", len(problems), msg)
	}
	return errmodel.Configuration("invalid_config", msg, map[string]any{"problems": len(problems)}, problems...)
}

func validateEndpoint(m EndpointMapping) error {
	if m.Path == "" {
		return fmt.Errorf("endpoint_mapping.path is required")
	}
	if m.Method == "" {
		return fmt.Errorf("endpoint_mapping.method is required")
	}
	if !methods[strings.ToUpper(m.Method)] {
		return fmt.Errorf("unsupported method %q", m.Method)
	}
	if !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("path %q must start with /", m.Path)
	}
	if strings.Contains(m.Path, "..") {
		return fmt.Errorf("path %q contains ..", m.Path)
	}
	for _, p := range Placeholders(m.Path) {
		if !paramNameRe.MatchString(p) {
			return fmt.Errorf("path %q has invalid placeholder {%s}", m.Path, p)
		}
	}
	return nil
}

func validateSchema(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	if err := checkObjectSchema(raw); err != nil {
		return fmt.Errorf("invalid input_schema: %w", err)
	}
	if _, err := CompileSchema(raw); err != nil {
		return fmt.Errorf("invalid input_schema: %w", err)
	}
	return nil
}
