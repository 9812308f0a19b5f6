// Package render implements variable filling, reference expansion and
// conditional templating (§4.2 "Variable filling"/"Expansion"/"Conditional
// templating").
package render

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/newrelic/agent-control/internal/agenttype"
)

// FileValue is the (path, content) pair carried by a file-typed leaf. Path
// is filled in later by the assembler's Persister; Fill only knows the
// content.
type FileValue struct {
	Path    string
	Content string
}

// Value is the final, typed value of one variable leaf after filling.
type Value struct {
	Type    agenttype.VariableType
	String  string            // textual form, used by ${nr-var:...} expansion
	Bool    bool
	Number  float64
	Map     map[string]string
	File    FileValue
	MapFile map[string]FileValue
}

// Filled is the flattened, dotted-path view of every declared variable's
// final value (property P1: exactly the declared variables, plus
// defaults, never unknown keys).
type Filled map[string]*Value

// FillResult carries the filled tree plus the set of user-supplied keys
// that did not match any declared variable (logged and ignored, §4.2).
type FillResult struct {
	Values      Filled
	UnknownKeys []string
}

// VariantError reports a value outside a leaf's declared variant set.
type VariantError struct {
	Path     string
	Value    string
	Variants []string
}

func (e *VariantError) Error() string {
	return fmt.Sprintf("variable %q: value %q not allowed. Variants allowed: [%s]", e.Path, e.Value, strings.Join(e.Variants, ", "))
}

// Fill walks tree and userValues together, coercing every matching user
// value to its leaf's declared type, applying defaults where absent, and
// checking variant constraints. Unknown user keys are collected, not
// rejected (§4.2: "Unknown user keys are logged and ignored").
func Fill(tree agenttype.Tree, userValues map[string]interface{}) (*FillResult, error) {
	result := &FillResult{Values: Filled{}}
	if err := fillTree(tree, userValues, "", result); err != nil {
		return nil, err
	}
	sort.Strings(result.UnknownKeys)
	return result, nil
}

func fillTree(tree agenttype.Tree, values map[string]interface{}, prefix string, result *FillResult) error {
	consumed := map[string]bool{}

	for key, node := range tree {
		path := joinPath(prefix, key)
		raw, present := values[key]
		consumed[key] = true

		if node.IsLeaf() {
			val, err := fillLeaf(path, node.Leaf, raw, present)
			if err != nil {
				return err
			}
			result.Values[path] = val
			continue
		}

		var subValues map[string]interface{}
		if present {
			m, ok := raw.(map[string]interface{})
			if ok {
				subValues = m
			}
		}
		if err := fillTree(node.Children, subValues, path, result); err != nil {
			return err
		}
	}

	for key := range values {
		if !consumed[key] {
			result.UnknownKeys = append(result.UnknownKeys, joinPath(prefix, key))
		}
	}
	return nil
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func fillLeaf(path string, def *agenttype.VariableDefinition, raw interface{}, present bool) (*Value, error) {
	effective := raw
	isDefault := false
	if !present || effective == nil {
		effective = def.Default
		isDefault = true
	}

	if err := checkVariants(path, def, effective, isDefault); err != nil {
		return nil, err
	}

	return coerce(path, def.Type, effective)
}

// checkVariants enforces the enum constraint declared on a leaf, except
// the declared default is always allowed even when it falls outside the
// published variant set (§3, deliberate transitional affordance — see
// Open Question 2, preserved as specified).
func checkVariants(path string, def *agenttype.VariableDefinition, value interface{}, isDefault bool) error {
	if len(def.Variants) == 0 || value == nil {
		return nil
	}
	if isDefault {
		return nil
	}
	s := fmt.Sprintf("%v", value)
	for _, v := range def.Variants {
		if v == s {
			return nil
		}
	}
	return &VariantError{Path: path, Value: s, Variants: def.Variants}
}

func coerce(path string, typ agenttype.VariableType, raw interface{}) (*Value, error) {
	v := &Value{Type: typ}
	if raw == nil {
		return v, nil
	}

	switch typ {
	case agenttype.TypeString, agenttype.TypeFile:
		s, err := toString(path, raw)
		if err != nil {
			return nil, err
		}
		v.String = s
		if typ == agenttype.TypeFile {
			v.File = FileValue{Content: s}
		}
	case agenttype.TypeNumber:
		n, err := toNumber(path, raw)
		if err != nil {
			return nil, err
		}
		v.Number = n
		v.String = strconv.FormatFloat(n, 'f', -1, 64)
	case agenttype.TypeBool:
		b, err := toBool(path, raw)
		if err != nil {
			return nil, err
		}
		v.Bool = b
		v.String = strconv.FormatBool(b)
	case agenttype.TypeMapString:
		m, err := toMapString(path, raw)
		if err != nil {
			return nil, err
		}
		v.Map = m
	case agenttype.TypeMapFile:
		m, err := toMapString(path, raw)
		if err != nil {
			return nil, err
		}
		mf := make(map[string]FileValue, len(m))
		for k, content := range m {
			mf[k] = FileValue{Content: content}
		}
		v.MapFile = mf
	default:
		return nil, fmt.Errorf("variable %q: unknown declared type %q", path, typ)
	}
	return v, nil
}

func toString(path string, raw interface{}) (string, error) {
	switch t := raw.(type) {
	case string:
		return t, nil
	default:
		return fmt.Sprintf("%v", t), nil
	}
}

func toNumber(path string, raw interface{}) (float64, error) {
	switch t := raw.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("variable %q: %q is not a number", path, t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("variable %q: %v is not a number", path, t)
	}
}

func toBool(path string, raw interface{}) (bool, error) {
	switch t := raw.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("variable %q: %q is not a bool", path, t)
		}
		return b, nil
	default:
		return false, fmt.Errorf("variable %q: %v is not a bool", path, t)
	}
}

func toMapString(path string, raw interface{}) (map[string]string, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("variable %q: expected a mapping", path)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = strings.TrimSpace(fmt.Sprintf("%v", v))
	}
	return out, nil
}

// RequiredMissing returns the set of declared-required variables that Fill
// left empty, in deterministic order. The assembler calls this at render
// time (§4.2: "missing required keys fail later, at rendering").
func RequiredMissing(tree agenttype.Tree, filled Filled) []string {
	var missing []string
	walkTree(tree, "", func(path string, def *agenttype.VariableDefinition) {
		if !def.Required {
			return
		}
		val, ok := filled[path]
		if !ok || isEmptyValue(val) {
			missing = append(missing, path)
		}
	})
	sort.Strings(missing)
	return missing
}

func isEmptyValue(v *Value) bool {
	switch v.Type {
	case agenttype.TypeString, agenttype.TypeFile:
		return v.String == ""
	case agenttype.TypeMapString, agenttype.TypeMapFile:
		return len(v.Map) == 0 && len(v.MapFile) == 0
	default:
		return false
	}
}

func walkTree(tree agenttype.Tree, prefix string, fn func(path string, def *agenttype.VariableDefinition)) {
	for key, node := range tree {
		path := joinPath(prefix, key)
		if node.IsLeaf() {
			fn(path, node.Leaf)
			continue
		}
		walkTree(node.Children, path, fn)
	}
}
