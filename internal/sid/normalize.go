package sid

import "strings"

// Normalize canonicalizes structure identifiers of the form
// "<pdb>_<assembly>_<chain>". The PDB code is case-insensitive while chain
// names keep their case, since large assemblies use both "A" and "a".
func Normalize(id string) string {
	normalized := strings.TrimSpace(id)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, ":", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.Trim(normalized, "_")
	if normalized == "" {
		return ""
	}
	normalized = collapseSeparators(normalized)

	code, rest, found := strings.Cut(normalized, "_")
	code = strings.ToLower(code)
	if !found {
		return code
	}
	return code + "_" + rest
}

// PDBCode returns the lowercase structure code of an identifier.
func PDBCode(id string) string {
	code, _, _ := strings.Cut(Normalize(id), "_")
	return code
}

func collapseSeparators(value string) string {
	for strings.Contains(value, "__") {
		value = strings.ReplaceAll(value, "__", "_")
	}
	return value
}

// Set is a normalized identifier allow-list.
type Set map[string]struct{}

// NewSet normalizes ids into a Set, dropping empty entries.
func NewSet(ids []string) Set {
	set := make(Set, len(ids))
	for _, id := range ids {
		if n := Normalize(id); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Contains reports whether id is in the set after normalization.
func (s Set) Contains(id string) bool {
	_, ok := s[Normalize(id)]
	return ok
}
