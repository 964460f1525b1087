// Package rules compiles declarative focus/avoid rules into an immutable
// rule set used at two call sites: ordering analyzer candidates before a
// phase runs, and gating individual execution targets at invocation time.
package rules

import "github.com/pentra-dev/pentra/pkg/models"

// Action says what a matching rule does. Avoid rules are hard blocks;
// focus rules only influence ordering.
type Action string

const (
	ActionFocus Action = "focus"
	ActionAvoid Action = "avoid"
)

// TargetType is the rule surface a match expression applies to.
type TargetType string

const (
	TargetPhase     TargetType = "phase"
	TargetAnalyzer  TargetType = "analyzer"
	TargetTag       TargetType = "tag"
	TargetHost      TargetType = "host"
	TargetPath      TargetType = "path"
	TargetSubdomain TargetType = "subdomain"
	TargetRepoPath  TargetType = "repo_path"
)

// globTypes are the target types whose match expressions support * globs.
// Phase, analyzer, and tag names always match exactly.
func (t TargetType) glob() bool {
	switch t {
	case TargetHost, TargetPath, TargetSubdomain, TargetRepoPath:
		return true
	}
	return false
}

// Decl is one rule as declared in configuration, before compilation.
type Decl struct {
	Action      Action
	Type        TargetType
	Value       string
	Phases      []models.Phase
	Description string
}

// AnalyzerSpec names an analyzer a phase can run, with the tags rule
// declarations may refer to.
type AnalyzerSpec struct {
	Name string
	Tags []string
}

// HasTag reports whether the analyzer carries the given tag.
func (a AnalyzerSpec) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// PhaseAnalyzers is the default analyzer candidate list per phase.
var PhaseAnalyzers = map[models.Phase][]AnalyzerSpec{
	models.PhaseIntake: {
		{Name: "scope_planner", Tags: []string{"planning", "scope"}},
		{Name: "repo_inventory", Tags: []string{"filesystem", "planning"}},
	},
	models.PhasePrerecon: {
		{Name: "repo_inventory", Tags: []string{"filesystem", "planning"}},
		{Name: "baseline_metadata", Tags: []string{"metadata", "planning"}},
	},
	models.PhaseRecon: {
		{Name: "attack_surface_mapper", Tags: []string{"network", "discovery"}},
		{Name: "auth_model_builder", Tags: []string{"auth", "modeling"}},
		{Name: "data_flow_mapper", Tags: []string{"data-flow", "modeling"}},
	},
	models.PhaseVuln: {
		{Name: "static_safe_checks", Tags: []string{"safe", "code"}},
		{Name: "dependency_review", Tags: []string{"dependencies", "safe"}},
		{Name: "config_review", Tags: []string{"configuration", "safe"}},
	},
	models.PhaseReport: {
		{Name: "finding_summarizer", Tags: []string{"reporting", "summary"}},
		{Name: "retest_planner", Tags: []string{"reporting", "planning"}},
	},
}

// AnalyzersFor returns a copy of the default candidates for a phase.
func AnalyzersFor(phase models.Phase) []AnalyzerSpec {
	specs := PhaseAnalyzers[phase]
	out := make([]AnalyzerSpec, len(specs))
	copy(out, specs)
	return out
}

// Target is the unit rules are evaluated against at invocation time: a
// (phase, analyzer) pair plus any host/path scope the invocation touches.
type Target struct {
	Phase    models.Phase
	Analyzer string
	Tags     []string
	Host     string
	Path     string
	RepoPath string
}

// AppliedRule records one rule that influenced a decision, for audit.
type AppliedRule struct {
	Action Action     `json:"action"`
	Type   TargetType `json:"type"`
	Value  string     `json:"value"`
}

// Decision is the outcome of planning one phase's candidate list.
type Decision struct {
	// Selected is the ordered, filtered analyzer list.
	Selected []string
	// Applied lists the rules that matched during planning, deduplicated.
	Applied []AppliedRule
	// BlockedReason is non-empty when an avoid rule blocks the entire phase.
	BlockedReason string
}

// Blocked reports whether the whole phase was blocked.
func (d Decision) Blocked() bool {
	return d.BlockedReason != ""
}
