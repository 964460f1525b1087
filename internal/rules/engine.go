package rules

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/pentra-dev/pentra/pkg/models"
)

// Plan reduces the candidate analyzer list for a phase to an ordered,
// filtered selection. Avoid-matched candidates are removed before sorting;
// focus-matched candidates sort ahead of unmatched ones; ties break on the
// candidate name. An avoid rule on the phase itself blocks the whole phase.
func (rs *RuleSet) Plan(phase models.Phase, candidates []AnalyzerSpec) Decision {
	var applied []AppliedRule

	for _, r := range rs.rules {
		if r.Action != ActionAvoid || r.Type != TargetPhase || !r.appliesToPhase(phase) {
			continue
		}
		if r.matches(string(phase)) {
			applied = append(applied, r.applied())
			return Decision{
				Applied:       dedupeApplied(applied),
				BlockedReason: fmt.Sprintf("phase %q blocked by avoid rule %q", phase, r.Value),
			}
		}
	}

	var remaining []AnalyzerSpec
	for _, candidate := range candidates {
		if avoided, rule := rs.analyzerAvoided(phase, candidate); avoided {
			applied = append(applied, rule.applied())
			continue
		}
		remaining = append(remaining, candidate)
	}

	scores := make(map[string]int, len(remaining))
	for _, candidate := range remaining {
		score, matched := rs.focusScore(phase, candidate)
		scores[candidate.Name] = score
		applied = append(applied, matched...)
	}

	sort.SliceStable(remaining, func(i, j int) bool {
		if scores[remaining[i].Name] != scores[remaining[j].Name] {
			return scores[remaining[i].Name] > scores[remaining[j].Name]
		}
		return remaining[i].Name < remaining[j].Name
	})

	rs.warnUnmatchedFocus(phase, scores)

	selected := make([]string, len(remaining))
	for i, candidate := range remaining {
		selected[i] = candidate.Name
	}
	return Decision{Selected: selected, Applied: dedupeApplied(applied)}
}

// Gate decides whether a single execution target may run right now. It is
// evaluated at the point of invocation so that dynamic worker behavior
// cannot route around planning. Returns the blocking rule when blocked.
func (rs *RuleSet) Gate(target Target) (blocked bool, rule *CompiledRule) {
	for i, r := range rs.rules {
		if r.Action != ActionAvoid || !r.appliesToPhase(target.Phase) {
			continue
		}
		if rs.targetMatches(r, target) {
			return true, &rs.rules[i]
		}
	}
	return false, nil
}

func (rs *RuleSet) targetMatches(r CompiledRule, target Target) bool {
	switch r.Type {
	case TargetPhase:
		return r.matches(string(target.Phase))
	case TargetAnalyzer:
		return target.Analyzer != "" && r.matches(target.Analyzer)
	case TargetTag:
		for _, tag := range target.Tags {
			if r.matches(tag) {
				return true
			}
		}
		return false
	case TargetHost:
		return target.Host != "" && r.matches(target.Host)
	case TargetSubdomain:
		return target.Host != "" && r.matches(Subdomain(target.Host))
	case TargetPath:
		return target.Path != "" && r.matches(target.Path)
	case TargetRepoPath:
		return target.RepoPath != "" && r.matches(target.RepoPath)
	}
	return false
}

func (rs *RuleSet) analyzerAvoided(phase models.Phase, candidate AnalyzerSpec) (bool, CompiledRule) {
	for _, r := range rs.rules {
		if r.Action != ActionAvoid || !r.appliesToPhase(phase) {
			continue
		}
		if r.Type == TargetAnalyzer && r.matches(candidate.Name) {
			return true, r
		}
		if r.Type == TargetTag {
			for _, tag := range candidate.Tags {
				if r.matches(tag) {
					return true, r
				}
			}
		}
	}
	return false, CompiledRule{}
}

// focusScore weights analyzer and tag focus rules above phase-wide ones so
// that a specifically focused analyzer outranks broadly boosted siblings.
func (rs *RuleSet) focusScore(phase models.Phase, candidate AnalyzerSpec) (int, []AppliedRule) {
	score := 0
	var applied []AppliedRule
	for _, r := range rs.rules {
		if r.Action != ActionFocus || !r.appliesToPhase(phase) {
			continue
		}
		switch r.Type {
		case TargetPhase:
			if r.matches(string(phase)) {
				score++
				applied = append(applied, r.applied())
			}
		case TargetAnalyzer:
			if r.matches(candidate.Name) {
				score += 2
				applied = append(applied, r.applied())
			}
		case TargetTag:
			for _, tag := range candidate.Tags {
				if r.matches(tag) {
					score += 2
					applied = append(applied, r.applied())
					break
				}
			}
		}
	}
	return score, applied
}

// warnUnmatchedFocus logs focus rules that matched nothing in this phase.
// Silent divergence from operator expectations would be worse than noise.
func (rs *RuleSet) warnUnmatchedFocus(phase models.Phase, scores map[string]int) {
	for _, r := range rs.rules {
		if r.Action != ActionFocus || !r.appliesToPhase(phase) {
			continue
		}
		if r.Type != TargetAnalyzer && r.Type != TargetTag {
			continue
		}
		if rs.focusRuleMatchedAny(r, scores) {
			continue
		}
		log.Printf("[rules] focus rule %s=%q matched no candidates in phase %s", r.Type, r.Value, phase)
	}
}

func (rs *RuleSet) focusRuleMatchedAny(r CompiledRule, scores map[string]int) bool {
	for name := range scores {
		spec, ok := lookupAnalyzer(name)
		if !ok {
			continue
		}
		if r.Type == TargetAnalyzer && r.matches(spec.Name) {
			return true
		}
		if r.Type == TargetTag {
			for _, tag := range spec.Tags {
				if r.matches(tag) {
					return true
				}
			}
		}
	}
	return false
}

func dedupeApplied(applied []AppliedRule) []AppliedRule {
	seen := make(map[AppliedRule]bool, len(applied))
	var out []AppliedRule
	for _, a := range applied {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func lookupAnalyzer(name string) (AnalyzerSpec, bool) {
	for _, specs := range PhaseAnalyzers {
		for _, spec := range specs {
			if spec.Name == name {
				return spec, true
			}
		}
	}
	return AnalyzerSpec{}, false
}

// Subdomain extracts the labels of a host beyond the registrable domain,
// e.g. "api.staging.example.com" -> "api.staging". Empty labels are
// dropped and the result is lowercased. The scope contract builder uses
// the same extraction so contracts and subdomain rules agree on hosts.
func Subdomain(host string) string {
	parts := strings.Split(strings.ToLower(host), ".")
	labels := parts[:0]
	for _, p := range parts {
		if p != "" {
			labels = append(labels, p)
		}
	}
	if len(labels) <= 2 {
		return ""
	}
	return strings.Join(labels[:len(labels)-2], ".")
}
