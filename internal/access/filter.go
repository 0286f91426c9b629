// Package access evaluates per-tool claim requirements against a validated
// JWT claim set. It is applied identically at tools/list (visibility) and
// tools/call (execution) time — defence in depth, per spec §4.6.
package access

import (
	"fmt"
	"strings"

	"github.com/Kong/mcp-bridge/internal/config"
)

// ClaimSet is the decoded, verified contents of a caller's bearer token.
type ClaimSet map[string]any

// Allow evaluates a list of requirements against claims. An empty or nil
// list is public (passes). Multiple requirements are AND-combined.
func Allow(claims ClaimSet, requirements []config.Requirement) bool {
	for _, req := range requirements {
		if !allowOne(claims, req) {
			return false
		}
	}
	return true
}

func allowOne(claims ClaimSet, req config.Requirement) bool {
	raw, ok := claims[req.ClaimName]
	if !ok {
		return false
	}

	tokens := normalise(raw)
	present := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		present[t] = struct{}{}
	}

	count := 0
	for _, v := range req.ClaimValues {
		if _, ok := present[v]; ok {
			count++
		}
	}

	switch req.MatchType {
	case config.MatchAll:
		return count == len(req.ClaimValues)
	case config.MatchAny:
		return count > 0
	default:
		return count > 0
	}
}

// normalise turns a claim value into a token set per §4.6: a string is
// split on whitespace, a []string/[]any is taken element-wise, and any
// other scalar is stringified to a single token.
func normalise(v any) []string {
	switch val := v.(type) {
	case string:
		return strings.Fields(val)
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out
	default:
		return []string{fmt.Sprintf("%v", val)}
	}
}
