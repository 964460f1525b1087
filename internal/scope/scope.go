// Package scope enforces the assessment boundary: the repository under
// analysis must live inside the configured repos root, the target URL must
// be well formed, and every run carries an explicit scope contract built at
// intake.
package scope

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pentra-dev/pentra/internal/rules"
)

// ViolationError reports a repository or target outside the allowed scope.
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string {
	return "scope violation: " + e.Reason
}

// EnsureRepoInRoot resolves repoPath (following symlinks) and verifies it
// sits inside reposRoot. It returns the resolved path.
func EnsureRepoInRoot(repoPath, reposRoot string) (string, error) {
	repoResolved, err := resolve(repoPath)
	if err != nil {
		return "", fmt.Errorf("resolve repo path: %w", err)
	}
	rootResolved, err := resolve(reposRoot)
	if err != nil {
		return "", fmt.Errorf("resolve repos root: %w", err)
	}

	rel, err := filepath.Rel(rootResolved, repoResolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &ViolationError{
			Reason: fmt.Sprintf("repository must be inside %s, got %s", rootResolved, repoResolved),
		}
	}
	return repoResolved, nil
}

func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The path may not exist yet; fall back to its lexical form.
		return filepath.Clean(abs), nil
	}
	return resolved, nil
}

// ValidateTargetURL checks that raw is an http(s) URL with a host, and
// returns the parsed form.
func ValidateTargetURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, &ViolationError{Reason: fmt.Sprintf("invalid target URL %q: %v", raw, err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &ViolationError{Reason: fmt.Sprintf("target URL %q must use http or https", raw)}
	}
	if parsed.Hostname() == "" {
		return nil, &ViolationError{Reason: fmt.Sprintf("target URL %q has no host", raw)}
	}
	return parsed, nil
}

// RuleEntry is one compiled rule echoed into the contract for review.
type RuleEntry struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Contract is the intake phase's statement of what this run may touch. It
// is persisted as an artifact so later phases, and the operator, can check
// any action against it.
type Contract struct {
	TargetURL  string `json:"target_url"`
	RepoPath   string `json:"repo_path"`
	Workspace  string `json:"workspace"`
	Authorized bool   `json:"authorized"`
	SafeMode   bool   `json:"safe_mode"`

	NormalizedHost string `json:"normalized_host"`
	NormalizedPath string `json:"normalized_path"`

	AllowedHosts      []string `json:"allowed_hosts"`
	AllowedSubdomains []string `json:"allowed_subdomains"`
	AllowedPaths      []string `json:"allowed_paths"`
	Exclusions        []string `json:"exclusions"`

	CapabilityConstraints []string `json:"capability_constraints"`

	FocusRules []RuleEntry `json:"focus_rules"`
	AvoidRules []RuleEntry `json:"avoid_rules"`

	ConfidenceGaps []string `json:"confidence_gaps,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// ContractInput carries everything intake gathered for contract building.
type ContractInput struct {
	TargetURL        string
	RepoPath         string
	Workspace        string
	Authorized       bool
	SafeMode         bool
	NetworkDiscovery bool
	FocusPaths       []string
	AvoidPaths       []string
	Exclusions       []string
	Notes            []string
	RuleSet          *rules.RuleSet
}

// BuildContract normalizes the target and assembles the scope contract.
func BuildContract(in ContractInput) (*Contract, error) {
	parsed, err := ValidateTargetURL(in.TargetURL)
	if err != nil {
		return nil, err
	}
	host := strings.ToLower(parsed.Hostname())
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	sub := Subdomain(host)

	var gaps []string
	if len(in.Notes) == 0 {
		gaps = append(gaps, "Operator notes were not provided during intake.")
	}
	if len(in.FocusPaths) == 0 {
		gaps = append(gaps, "No explicit focus paths were provided; later phases should infer priorities cautiously.")
	}

	var warnings []string
	if overlap := intersect(in.Exclusions, in.AvoidPaths); len(overlap) > 0 {
		warnings = append(warnings, "Exclusions overlap with avoid rules: "+strings.Join(overlap, ", "))
	}

	constraints := []string{"repo_root_enforced"}
	if in.SafeMode {
		constraints = append([]string{"safe_mode_only"}, constraints...)
	} else {
		constraints = append([]string{"operator_override_required"}, constraints...)
	}
	if !in.NetworkDiscovery {
		constraints = append(constraints, "network_discovery_disabled")
	}

	c := &Contract{
		TargetURL:             in.TargetURL,
		RepoPath:              in.RepoPath,
		Workspace:             in.Workspace,
		Authorized:            in.Authorized,
		SafeMode:              in.SafeMode,
		NormalizedHost:        host,
		NormalizedPath:        path,
		AllowedHosts:          []string{host},
		AllowedSubdomains:     []string{},
		AllowedPaths:          dedupeSorted(append([]string{path}, in.FocusPaths...)),
		Exclusions:            dedupeSorted(append(append([]string{}, in.AvoidPaths...), in.Exclusions...)),
		CapabilityConstraints: constraints,
		FocusRules:            []RuleEntry{},
		AvoidRules:            []RuleEntry{},
		ConfidenceGaps:        gaps,
		Warnings:              warnings,
	}
	if sub != "" {
		c.AllowedSubdomains = []string{sub}
	}
	if in.RuleSet != nil {
		for _, r := range in.RuleSet.Rules() {
			entry := RuleEntry{Type: string(r.Type), Value: r.Value}
			if r.Action == rules.ActionFocus {
				c.FocusRules = append(c.FocusRules, entry)
			} else {
				c.AvoidRules = append(c.AvoidRules, entry)
			}
		}
	}
	return c, nil
}

// Subdomain returns everything left of the registered domain, or "" when
// the host has no subdomain labels. It defers to the rule matcher's
// extraction so contracts and subdomain rules never disagree on a host.
func Subdomain(host string) string {
	return rules.Subdomain(host)
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	var out []string
	for _, s := range b {
		if set[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
