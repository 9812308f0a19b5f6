package render

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	tagIf   = "{{if "
	tagElse = "{{else}}"
	tagEnd  = "{{end}}"
)

// TruthFunc resolves a variable name referenced inside an {{if ...}} block
// to its truthiness. A missing variable must return false (§4.2).
type TruthFunc func(name string) bool

// ProcessConditionals resolves every {{if cond}}A{{else}}B{{end}} block in
// template. Outer blocks are matched before their nested content is
// rescanned, so that a discarded branch's nested blocks are never
// processed (§4.2). The result is idempotent: a string with no remaining
// conditional tags is returned unchanged (P7).
func ProcessConditionals(template string, truthy TruthFunc) (string, error) {
	for {
		idx := strings.Index(template, tagIf)
		if idx == -1 {
			return template, nil
		}

		condEnd := strings.Index(template[idx:], "}}")
		if condEnd == -1 {
			return "", fmt.Errorf("unterminated {{if }} tag at offset %d", idx)
		}
		condEnd += idx
		cond := strings.TrimSpace(template[idx+len(tagIf) : condEnd])
		bodyStart := condEnd + 2

		elsePos, endStart, err := findBlockEnd(template, bodyStart)
		if err != nil {
			return "", err
		}

		var ifBranch, elseBranch string
		if elsePos >= 0 {
			ifBranch = template[bodyStart:elsePos]
			elseBranch = template[elsePos+len(tagElse) : endStart]
		} else {
			ifBranch = template[bodyStart:endStart]
		}

		truth, err := evalCond(cond, truthy)
		if err != nil {
			return "", err
		}

		chosen := ifBranch
		if !truth {
			chosen = elseBranch
		}

		resolved, err := ProcessConditionals(chosen, truthy)
		if err != nil {
			return "", err
		}

		template = template[:idx] + resolved + template[endStart+len(tagEnd):]
	}
}

// findBlockEnd scans forward from bodyStart tracking nested {{if }} blocks
// to find the {{end}} matching the block that opened at bodyStart, and the
// position of a top-level {{else}} within that block, if any.
func findBlockEnd(template string, bodyStart int) (elsePos, endStart int, err error) {
	depth := 1
	elsePos = -1
	pos := bodyStart

	for {
		nextIf := indexFrom(template, tagIf, pos)
		nextElse := indexFrom(template, tagElse, pos)
		nextEnd := indexFrom(template, tagEnd, pos)

		next := minPositive(nextIf, nextElse, nextEnd)
		if next == -1 {
			return 0, 0, fmt.Errorf("unterminated {{if }} block starting near offset %d", bodyStart)
		}

		switch next {
		case nextIf:
			depth++
			pos = nextIf + len(tagIf)
		case nextEnd:
			depth--
			if depth == 0 {
				return elsePos, nextEnd, nil
			}
			pos = nextEnd + len(tagEnd)
		case nextElse:
			if depth == 1 && elsePos == -1 {
				elsePos = nextElse
			}
			pos = nextElse + len(tagElse)
		}
	}
}

func indexFrom(s, substr string, from int) int {
	i := strings.Index(s[from:], substr)
	if i == -1 {
		return -1
	}
	return i + from
}

func minPositive(vals ...int) int {
	min := -1
	for _, v := range vals {
		if v == -1 {
			continue
		}
		if min == -1 || v < min {
			min = v
		}
	}
	return min
}

// evalCond parses a condition of the form "var" or "!var".
func evalCond(cond string, truthy TruthFunc) (bool, error) {
	if cond == "" {
		return false, fmt.Errorf("empty {{if }} condition")
	}
	negate := false
	name := cond
	if strings.HasPrefix(cond, "!") {
		negate = true
		name = strings.TrimSpace(cond[1:])
	}
	result := truthy(name)
	if negate {
		result = !result
	}
	return result, nil
}

// IsTruthy implements the truthiness rules from §4.2 for a value already
// coerced to a render.Value. A nil value (variable not found) is false.
func IsTruthy(v *Value) bool {
	if v == nil {
		return false
	}
	switch v.Type {
	case "bool":
		return v.Bool
	case "number":
		return v.Number != 0
	default:
		s := strings.ToLower(strings.TrimSpace(v.String))
		if s == "" {
			return false
		}
		switch s {
		case "false", "0", "no", "off":
			return false
		}
		return true
	}
}

// ParseBoolLoose mirrors IsTruthy's string rules for ad-hoc string values
// that never went through Fill (used by tests and callers that only have a
// raw string, not a render.Value).
func ParseBoolLoose(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	switch s {
	case "false", "0", "no", "off":
		return false
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		n, _ := strconv.ParseFloat(s, 64)
		return n != 0
	}
	return true
}
