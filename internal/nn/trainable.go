package nn

import (
	"path"
	"strings"

	"contactnet/internal/errors"
)

// ResolveTrainable selects the parameters named by patterns. A pattern is a
// glob over dotted parameter names, or a bare prefix such as "encoder" which
// selects every parameter under it. No patterns selects every parameter.
// A pattern that selects nothing is a configuration error.
func ResolveTrainable(params []*Param, patterns []string) ([]*Param, error) {
	if len(patterns) == 0 {
		return params, nil
	}
	selected := make([]bool, len(params))
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, errors.WrapConfiguration(err, "trainable pattern %q", pattern)
		}
		matched := false
		for i, p := range params {
			if matchParam(pattern, p.Name) {
				selected[i] = true
				matched = true
			}
		}
		if !matched {
			return nil, errors.Configuration("trainable pattern %q matches no parameter", pattern)
		}
	}

	out := make([]*Param, 0, len(params))
	for i, p := range params {
		if selected[i] {
			out = append(out, p)
		}
	}
	return out, nil
}

func matchParam(pattern, name string) bool {
	if ok, _ := path.Match(pattern, name); ok {
		return true
	}
	return strings.HasPrefix(name, pattern+".")
}
