package prompt

import (
	"strings"

	"github.com/wilhg/toolforge/pkg/tools"
)

// Issue describes a lint finding.
type Issue struct {
	Tool    string
	Rule    string
	Message string
}

// LintComposite runs basic checks on the prose of a composite descriptor.
// Findings are advisory; the registry has already rejected invalid configs.
func LintComposite(c tools.CompositeToolDescriptor) []Issue {
	var issues []Issue
	add := func(rule, msg string) {
		issues = append(issues, Issue{Tool: c.Name, Rule: rule, Message: msg})
	}
	if strings.TrimSpace(c.OrchestrationLogic) == "" {
		add("logic.empty", "orchestration_logic is empty; the model gets no strategy")
	}
	if strings.TrimSpace(c.UseCaseDescription) == "" {
		add("use_case.empty", "use_case_description is empty")
	}
	if len(c.EndpointMappings) == 0 {
		add("endpoints.empty", "no endpoint_mappings; every tool is offered")
	}
	for _, field := range []string{c.Description, c.UseCaseDescription, c.OrchestrationLogic} {
		if containsSecretLike(field) {
			add("security.secrets", "text appears to contain secrets-like content")
			break
		}
	}
	return issues
}

// LintTool checks a standard tool. The description is all the reasoning model
// and MCP clients learn about the tool.
func LintTool(d tools.ToolDescriptor) []Issue {
	var issues []Issue
	if strings.TrimSpace(d.Description) == "" {
		issues = append(issues, Issue{Tool: d.Name, Rule: "description.empty", Message: "description is empty; the model cannot tell what the tool does"})
	}
	if containsSecretLike(d.Description) {
		issues = append(issues, Issue{Tool: d.Name, Rule: "security.secrets", Message: "text appears to contain secrets-like content"})
	}
	return issues
}

// Lint checks every tool of a registry, standard tools first.
func Lint(reg *tools.Registry) []Issue {
	var issues []Issue
	for _, d := range reg.List() {
		issues = append(issues, LintTool(d)...)
	}
	for _, c := range reg.Composites() {
		issues = append(issues, LintComposite(c)...)
	}
	return issues
}

func containsSecretLike(s string) bool {
	if s == "" {
		return false
	}
	ls := strings.ToLower(s)
	for _, n := range []string{"aws_secret_access_key", "begin private key", "sk-", "bearer "} {
		if strings.Contains(ls, n) {
			return true
		}
	}
	return false
}
