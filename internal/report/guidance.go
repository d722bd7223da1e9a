// Package report renders the executive summary from ranked study and site
// tables. Driver-specific guidance is selected by CEL rules.
package report

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// GuidanceRule is a configured guidance line; see domain.GuidanceRule.
type GuidanceRule = domain.GuidanceRule

// DefaultGuidance returns the built-in driver guidance, in output order.
func DefaultGuidance() []GuidanceRule {
	return []GuidanceRule{
		{"missing-visits", `drivers_text.contains("missing visits")`, "Missing Visit Action: Confirm expected visit schedule with site; verify patient completion status"},
		{"edrr", `drivers_text.contains("edrr")`, "Query Action: Accelerate resolution; prioritize critical data elements"},
		{"uncoded", `drivers_text.contains("uncoded")`, "Coding Action: Review coding manual with site; consider coding service support"},
		{"sae", `drivers_text.contains("sae")`, "SAE Action: Expedite clinical assessment; verify regulatory reporting timeline"},
		{"pages", `drivers_text.contains("pages")`, "CRF Action: Confirm form submission; address technical/process barriers"},
	}
}

// GuidanceEngine evaluates compiled guidance rules against ranked records.
type GuidanceEngine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []compiledGuidance
}

type compiledGuidance struct {
	rule    GuidanceRule
	program cel.Program
}

// NewGuidanceEngine compiles the given rules. Every expression must return bool.
func NewGuidanceEngine(rules []GuidanceRule) (*GuidanceEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("drivers", cel.ListType(cel.StringType)),
		cel.Variable("drivers_text", cel.StringType),
		cel.Variable("dqi", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &GuidanceEngine{env: env}
	if err := e.Load(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// Load replaces the engine's rules. On error the previous rules stay active.
func (e *GuidanceEngine) Load(rules []GuidanceRule) error {
	compiled := make([]compiledGuidance, 0, len(rules))
	for _, r := range rules {
		c, err := e.compile(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

func (e *GuidanceEngine) compile(r GuidanceRule) (compiledGuidance, error) {
	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return compiledGuidance{}, fmt.Errorf("failed to compile guidance %s: %w", r.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return compiledGuidance{}, fmt.Errorf("guidance %s: expression must return bool, got %s", r.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return compiledGuidance{}, fmt.Errorf("failed to create program for guidance %s: %w", r.ID, err)
	}
	return compiledGuidance{rule: r, program: program}, nil
}

// Guidance returns the text of every rule matching the record, in rule order.
func (e *GuidanceEngine) Guidance(rec domain.RiskRecord) ([]string, error) {
	drivers := rec.TopDrivers
	if drivers == nil {
		drivers = []string{}
	}
	activation := map[string]any{
		"risk_level":   string(rec.RiskLevel),
		"drivers":      drivers,
		"drivers_text": strings.ToLower(rec.DriversText()),
		"dqi":          rec.DQIScore,
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	var out []string
	for _, c := range rules {
		val, _, err := c.program.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("guidance %s: %w", c.rule.ID, err)
		}
		if matched, ok := val.(types.Bool); ok && bool(matched) {
			out = append(out, c.rule.Text)
		}
	}
	return out, nil
}

// RulesCount returns the number of loaded rules.
func (e *GuidanceEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}
