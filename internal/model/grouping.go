package model

import (
	"fmt"
	"strings"
)

// ClassGroup names one output class and the raw categories it aggregates.
type ClassGroup struct {
	Name       string   `json:"name" yaml:"name"`
	Categories []string `json:"categories" yaml:"categories"`
}

// ClassGrouping maps each output class to raw category indices. It is resolved
// once against the dataset's category table and never changes afterwards.
type ClassGrouping struct {
	names   []string
	members [][]int
}

// ResolveGrouping joins the configured groups against the dataset's raw
// category names. Unknown categories and empty groups are rejected.
func ResolveGrouping(categories []string, groups []ClassGroup) (ClassGrouping, error) {
	if len(groups) == 0 {
		return ClassGrouping{}, fmt.Errorf("at least one class group is required")
	}
	index := make(map[string]int, len(categories))
	for i, c := range categories {
		index[strings.ToUpper(strings.TrimSpace(c))] = i
	}

	g := ClassGrouping{
		names:   make([]string, 0, len(groups)),
		members: make([][]int, 0, len(groups)),
	}
	for gi, group := range groups {
		if len(group.Categories) == 0 {
			return ClassGrouping{}, fmt.Errorf("class group %d (%s) has no categories", gi, group.Name)
		}
		seen := make(map[int]struct{}, len(group.Categories))
		members := make([]int, 0, len(group.Categories))
		for _, c := range group.Categories {
			idx, ok := index[strings.ToUpper(strings.TrimSpace(c))]
			if !ok {
				return ClassGrouping{}, fmt.Errorf("class group %d (%s): unknown category %q", gi, group.Name, c)
			}
			if _, dup := seen[idx]; dup {
				continue
			}
			seen[idx] = struct{}{}
			members = append(members, idx)
		}
		name := group.Name
		if name == "" {
			name = fmt.Sprintf("%d", gi)
		}
		g.names = append(g.names, name)
		g.members = append(g.members, members)
	}
	return g, nil
}

// IdentityGrouping maps each raw category to its own output class.
func IdentityGrouping(categories []string) ClassGrouping {
	g := ClassGrouping{
		names:   append([]string(nil), categories...),
		members: make([][]int, len(categories)),
	}
	for i := range categories {
		g.members[i] = []int{i}
	}
	return g
}

// Width is the number of output classes.
func (g ClassGrouping) Width() int {
	return len(g.members)
}

// Names returns the output class names.
func (g ClassGrouping) Names() []string {
	return append([]string(nil), g.names...)
}

// Members returns the raw category indices of class i.
func (g ClassGrouping) Members(i int) []int {
	return append([]int(nil), g.members[i]...)
}

// Apply ORs the raw category flags of each group into one label per class.
func (g ClassGrouping) Apply(raw []float64) ([]float64, error) {
	out := make([]float64, len(g.members))
	for c, members := range g.members {
		for _, idx := range members {
			if idx >= len(raw) {
				return nil, fmt.Errorf("raw label width %d too small for category %d", len(raw), idx)
			}
			if raw[idx] > 0.5 {
				out[c] = 1
				break
			}
		}
	}
	return out, nil
}
