package render

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// refPattern matches ${nr-var:...}, ${nr-env:...} and ${nr-sub:...}.
var refPattern = regexp.MustCompile(`\$\{(nr-var|nr-env|nr-sub):([^}]+)\}`)

// wholePattern matches a string that consists of exactly one reference and
// nothing else, the condition under which a non-string variable is
// substituted structurally rather than textually (§4.2).
var wholePattern = regexp.MustCompile(`^\$\{(nr-var|nr-env|nr-sub):([^}]+)\}$`)

// ExpandContext carries everything Expand needs to resolve a reference.
type ExpandContext struct {
	Values  Filled
	AgentID string
	// LookupEnv defaults to os.LookupEnv; overridable for tests.
	LookupEnv func(string) (string, bool)
}

func (c ExpandContext) lookupEnv(name string) (string, bool) {
	if c.LookupEnv != nil {
		return c.LookupEnv(name)
	}
	return os.LookupEnv(name)
}

// ExpandValue expands s, returning a structured value when s is exactly a
// single ${nr-var:...} reference to a non-string-typed variable, and a
// plain string otherwise (textual substitution of every reference found).
func ExpandValue(s string, ctx ExpandContext) (interface{}, error) {
	if m := wholePattern.FindStringSubmatch(s); m != nil && m[1] == "nr-var" {
		path := strings.TrimSpace(m[2])
		val, ok := ctx.Values[path]
		if !ok {
			return nil, fmt.Errorf("${nr-var:%s}: path unknown", path)
		}
		switch val.Type {
		case "map[string]string":
			return val.Map, nil
		case "map[string]file":
			return val.MapFile, nil
		case "file":
			return val.File, nil
		}
	}
	return ExpandString(s, ctx)
}

// ExpandString performs textual substitution of every reference in s.
func ExpandString(s string, ctx ExpandContext) (string, error) {
	var firstErr error
	out := refPattern.ReplaceAllStringFunc(s, func(token string) string {
		if firstErr != nil {
			return token
		}
		m := refPattern.FindStringSubmatch(token)
		kind, payload := m[1], strings.TrimSpace(m[2])
		resolved, err := resolveRef(kind, payload, ctx)
		if err != nil {
			firstErr = err
			return token
		}
		return resolved
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func resolveRef(kind, payload string, ctx ExpandContext) (string, error) {
	switch kind {
	case "nr-var":
		val, ok := ctx.Values[payload]
		if !ok {
			return "", fmt.Errorf("${nr-var:%s}: path unknown", payload)
		}
		return val.String, nil
	case "nr-env":
		name, def, hasDefault := splitDefault(payload)
		if v, ok := ctx.lookupEnv(name); ok {
			return v, nil
		}
		if hasDefault {
			return def, nil
		}
		return "", fmt.Errorf("${nr-env:%s}: environment variable unset and no default given", name)
	case "nr-sub":
		return ctx.AgentID, nil
	default:
		return "", fmt.Errorf("unknown reference kind %q", kind)
	}
}

// splitDefault supports an optional shell-style "NAME:-default" payload
// for ${nr-env:...}.
func splitDefault(payload string) (name, def string, hasDefault bool) {
	if idx := strings.Index(payload, ":-"); idx >= 0 {
		return payload[:idx], payload[idx+2:], true
	}
	return payload, "", false
}

// ExpandTree walks an untyped JSON-like tree (map[string]interface{},
// []interface{}, scalars) and expands every string leaf via ExpandValue.
// This is how deployment.* string leaves are substituted after
// conditional processing (§4.2: "Substitutions occur in all string leaves
// of deployment.*").
func ExpandTree(node interface{}, ctx ExpandContext) (interface{}, error) {
	switch t := node.(type) {
	case string:
		return ExpandValue(t, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			expanded, err := ExpandTree(v, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, v := range t {
			expanded, err := ExpandTree(v, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return node, nil
	}
}
