package coordinator

import (
	"fmt"
	"regexp"

	"github.com/hspmesh/hsp/types"
)

// outputRefPattern matches a parameter value that is *entirely* a dependency
// reference of the shape "<output_of_subtask:name>". A value embedding the token
// alongside other text is left untouched — only a full-value match resolves to
// the dependency's structured result.
var outputRefPattern = regexp.MustCompile(`^<output_of_subtask:([^<>]+)>$`)

// substitute walks template, replacing any string value that is exactly an
// "<output_of_subtask:name>" reference with results[name], recursively, so a
// reference may sit inside a nested map or slice. Returns KindParameterSubstitution
// if a reference names a subtask absent from results (not yet run, or failed).
func substitute(template map[string]any, results map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(template))
	for k, v := range template {
		resolved, err := substituteValue(v, results)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func substituteValue(v any, results map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		m := outputRefPattern.FindStringSubmatch(val)
		if m == nil {
			return val, nil
		}
		name := m[1]
		result, ok := results[name]
		if !ok {
			return nil, types.NewError(types.KindParameterSubstitution,
				fmt.Sprintf("parameter reference to subtask %q has no available result", name))
		}
		return result, nil
	case map[string]any:
		return substitute(val, results)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := substituteValue(item, results)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}
