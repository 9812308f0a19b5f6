package render

// Render processes conditional blocks and then expands references in
// every string leaf of an untyped deployment tree, in the order required
// by §4.2 ("Expansion is textual, performed post-conditional-processing").
func Render(tree interface{}, filled Filled, ctx ExpandContext) (interface{}, error) {
	truthy := func(name string) bool {
		return IsTruthy(filled[name])
	}
	return renderNode(tree, truthy, ctx)
}

func renderNode(node interface{}, truthy TruthFunc, ctx ExpandContext) (interface{}, error) {
	switch t := node.(type) {
	case string:
		processed, err := ProcessConditionals(t, truthy)
		if err != nil {
			return nil, err
		}
		return ExpandValue(processed, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			rendered, err := renderNode(v, truthy, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, v := range t {
			rendered, err := renderNode(v, truthy, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return node, nil
	}
}
