// Package eval checks composite tools offline: the instructions rendered for
// fixture inputs, and captured runs replayed against the current registry.
package eval

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/wilhg/toolforge/pkg/orchestrator"
	"github.com/wilhg/toolforge/pkg/tools"
)

// Fixture is one instruction evaluation case.
type Fixture struct {
	Name   string         `json:"name"`
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input"`
	Expect Expectation    `json:"expect"`
}

type Expectation struct {
	Contains    []string `json:"contains,omitempty"`
	NotContains []string `json:"not_contains,omitempty"`
}

// Report aggregates fixture outcomes.
type Report struct {
	Total   int      `json:"total"`
	Passed  int      `json:"passed"`
	Details []string `json:"details,omitempty"`
}

// Score is the passed fraction in [0,1]; an empty report scores 1.
func (r Report) Score() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.Passed) / float64(r.Total)
}

// EvaluateInstructions loads the JSON fixtures under dir and checks the
// instruction e renders for each against its expectations.
func EvaluateInstructions(fsys fs.FS, dir string, reg *tools.Registry, e *orchestrator.Engine) (Report, error) {
	fixtures, err := loadFixtures(fsys, dir)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Total: len(fixtures)}
	for _, fx := range fixtures {
		c, ok := reg.LookupComposite(fx.Tool)
		if !ok {
			rep.Details = append(rep.Details, fx.Name+": unknown composite tool: "+fx.Tool)
			continue
		}
		if err := tools.ValidateArguments(c.Name, c.InputSchema, nil, fx.Input); err != nil {
			rep.Details = append(rep.Details, fx.Name+": input rejected: "+err.Error())
			continue
		}
		out, err := e.Instruction(c, fx.Input)
		if err != nil {
			rep.Details = append(rep.Details, fx.Name+": render error: "+err.Error())
			continue
		}
		ok = true
		for _, s := range fx.Expect.Contains {
			if !strings.Contains(out, s) {
				ok = false
				rep.Details = append(rep.Details, fx.Name+": missing contains: "+s)
			}
		}
		for _, s := range fx.Expect.NotContains {
			if strings.Contains(out, s) {
				ok = false
				rep.Details = append(rep.Details, fx.Name+": unexpected contains: "+s)
			}
		}
		if ok {
			rep.Passed++
		}
	}
	return rep, nil
}

func loadFixtures(fsys fs.FS, dir string) ([]Fixture, error) {
	var out []Fixture
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var fx Fixture
		if err := json.Unmarshal(b, &fx); err != nil {
			return nil, fmt.Errorf("eval: %s: %w", e.Name(), err)
		}
		if fx.Name == "" {
			fx.Name = strings.TrimSuffix(e.Name(), ".json")
		}
		if fx.Input == nil {
			fx.Input = map[string]any{}
		}
		out = append(out, fx)
	}
	return out, nil
}
