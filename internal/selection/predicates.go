package selection

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"contactnet/internal/errors"
	"contactnet/internal/model"
	"contactnet/internal/sid"
)

// Predicate decides whether a row is kept. Implementations must be free of
// side effects so they can be evaluated in any order.
type Predicate interface {
	Name() string
	Keep(row model.Row) bool
}

type identifierPredicate struct {
	ids sid.Set
}

// ByIdentifier keeps rows whose normalized identifier is in ids.
func ByIdentifier(ids []string) Predicate {
	return identifierPredicate{ids: sid.NewSet(ids)}
}

func (p identifierPredicate) Name() string { return "identifier" }

func (p identifierPredicate) Keep(row model.Row) bool {
	return p.ids.Contains(row.Identifier)
}

type maxAssemblyPredicate struct {
	max int
}

// ByMaxAssembly keeps rows whose assembly count is at most max.
func ByMaxAssembly(max int) Predicate {
	return maxAssemblyPredicate{max: max}
}

func (p maxAssemblyPredicate) Name() string { return "max_ba=" + strconv.Itoa(p.max) }

func (p maxAssemblyPredicate) Keep(row model.Row) bool {
	return row.AssemblyCount <= p.max
}

type interfacePredicate struct {
	categories map[string]struct{}
}

// ByInterfaceCategories keeps rows whose interface categories intersect
// categories. Category names compare case-insensitively.
func ByInterfaceCategories(categories []string) Predicate {
	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		set[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return interfacePredicate{categories: set}
}

func (p interfacePredicate) Name() string { return "interface" }

func (p interfacePredicate) Keep(row model.Row) bool {
	for _, c := range row.InterfaceCategories {
		if _, ok := p.categories[strings.ToUpper(strings.TrimSpace(c))]; ok {
			return true
		}
	}
	return false
}

type sizePredicate struct {
	maxSize     int
	minResidues int
}

// BySize keeps rows with at most maxSize atoms and at least minResidues
// residues. A zero bound is disabled.
func BySize(maxSize, minResidues int) Predicate {
	return sizePredicate{maxSize: maxSize, minResidues: minResidues}
}

func (p sizePredicate) Name() string { return "size" }

func (p sizePredicate) Keep(row model.Row) bool {
	if p.maxSize > 0 && row.Size > p.maxSize {
		return false
	}
	if p.minResidues > 0 && row.NumResidues < p.minResidues {
		return false
	}
	return true
}

// LoadIdentifierList reads whitespace separated identifiers from path.
func LoadIdentifierList(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.Configuration("identifier list path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "open identifier list %s", path)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		ids = append(ids, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapConfiguration(err, "read identifier list %s", path)
	}
	if len(ids) == 0 {
		return nil, errors.Configuration("identifier list %s is empty", path)
	}
	return ids, nil
}
