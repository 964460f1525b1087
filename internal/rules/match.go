package rules

import "strings"

// matchExpression matches a value against a rule expression. Glob types get
// * and ** wildcard support on /-separated segments; everything else is an
// exact comparison.
func matchExpression(value, pattern string, glob bool) bool {
	if !glob {
		return value == pattern
	}
	if !strings.Contains(pattern, "*") {
		return value == pattern
	}
	return matchGlob(value, pattern)
}

// matchGlob matches a /-separated value against a glob pattern. ** spans
// any number of segments; * matches within a single segment.
func matchGlob(value, pattern string) bool {
	return matchParts(strings.Split(value, "/"), strings.Split(pattern, "/"))
}

func matchParts(value, pattern []string) bool {
	if len(pattern) == 0 {
		return len(value) == 0
	}

	p := pattern[0]
	rest := pattern[1:]

	if p == "**" {
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(value); i++ {
			if matchParts(value[i:], rest) {
				return true
			}
		}
		return false
	}

	if len(value) == 0 {
		return false
	}
	if !matchSegment(value[0], p) {
		return false
	}
	return matchParts(value[1:], rest)
}

func matchSegment(segment, pattern string) bool {
	if pattern == "*" || pattern == segment {
		return true
	}
	if strings.Contains(pattern, "*") {
		return matchWildcard(segment, pattern)
	}
	return false
}

// matchWildcard matches a single segment against a pattern with * wildcards.
func matchWildcard(s, pattern string) bool {
	parts := strings.Split(pattern, "*")
	pos := 0

	for i, part := range parts {
		if part == "" {
			continue
		}

		if i == 0 {
			if !strings.HasPrefix(s, part) {
				return false
			}
			pos = len(part)
			continue
		}

		if i == len(parts)-1 && !strings.HasSuffix(pattern, "*") {
			if !strings.HasSuffix(s, part) {
				return false
			}
			continue
		}

		idx := strings.Index(s[pos:], part)
		if idx == -1 {
			return false
		}
		pos += idx + len(part)
	}

	return true
}
