package rules

import (
	"fmt"
	"strings"

	"github.com/pentra-dev/pentra/pkg/models"
)

// CompiledRule is one validated rule. Compiled rules are immutable for the
// lifetime of a run.
type CompiledRule struct {
	Action      Action
	Type        TargetType
	Value       string
	Phases      []models.Phase
	Description string
}

// appliesToPhase reports whether the rule's phase restriction covers p.
// An empty restriction applies to every phase.
func (r CompiledRule) appliesToPhase(p models.Phase) bool {
	if len(r.Phases) == 0 {
		return true
	}
	for _, phase := range r.Phases {
		if phase == p {
			return true
		}
	}
	return false
}

// matches reports whether the rule's expression matches the given value.
func (r CompiledRule) matches(value string) bool {
	return matchExpression(value, r.Value, r.Type.glob())
}

// applied converts the rule to its audit form.
func (r CompiledRule) applied() AppliedRule {
	return AppliedRule{Action: r.Action, Type: r.Type, Value: r.Value}
}

// RuleSet is an immutable compiled rule set.
type RuleSet struct {
	rules []CompiledRule
}

// Compile validates and freezes a list of rule declarations. Declaration
// order is preserved; it is observable only in audit output, never in
// match semantics.
func Compile(decls []Decl) (*RuleSet, error) {
	compiled := make([]CompiledRule, 0, len(decls))
	for i, d := range decls {
		if d.Action != ActionFocus && d.Action != ActionAvoid {
			return nil, fmt.Errorf("rule %d: unknown action %q", i, d.Action)
		}
		switch d.Type {
		case TargetPhase, TargetAnalyzer, TargetTag, TargetHost, TargetPath, TargetSubdomain, TargetRepoPath:
		default:
			return nil, fmt.Errorf("rule %d: unknown target type %q", i, d.Type)
		}
		if strings.TrimSpace(d.Value) == "" {
			return nil, fmt.Errorf("rule %d: value must not be empty", i)
		}
		for _, p := range d.Phases {
			if !p.IsValid() {
				return nil, fmt.Errorf("rule %d: unknown phase %q in restriction", i, p)
			}
		}

		phases := make([]models.Phase, len(d.Phases))
		copy(phases, d.Phases)
		compiled = append(compiled, CompiledRule{
			Action:      d.Action,
			Type:        d.Type,
			Value:       d.Value,
			Phases:      phases,
			Description: d.Description,
		})
	}
	return &RuleSet{rules: compiled}, nil
}

// Len returns the number of compiled rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Rules returns a copy of the compiled rules.
func (rs *RuleSet) Rules() []CompiledRule {
	out := make([]CompiledRule, len(rs.rules))
	copy(out, rs.rules)
	return out
}
