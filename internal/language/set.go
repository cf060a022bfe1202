package language

import "sort"

// Set is an unordered collection of languages. The zero value is ready
// to use through NewSet; a nil Set contains nothing.
type Set map[Language]struct{}

// NewSet builds a Set from the given languages.
func NewSet(langs ...Language) Set {
	s := make(Set, len(langs))
	for _, l := range langs {
		s[l] = struct{}{}
	}
	return s
}

// ParseSet parses a list of language identifiers.
func ParseSet(csv []string) (Set, error) {
	s := make(Set, len(csv))
	for _, raw := range csv {
		l, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		s[l] = struct{}{}
	}
	return s, nil
}

// Contains reports whether l is in the set.
func (s Set) Contains(l Language) bool {
	_, ok := s[l]
	return ok
}

// Add inserts l.
func (s Set) Add(l Language) {
	s[l] = struct{}{}
}

// Intersect returns the languages present in both sets.
func (s Set) Intersect(other Set) Set {
	out := make(Set)
	for l := range s {
		if other.Contains(l) {
			out[l] = struct{}{}
		}
	}
	return out
}

// Diff returns the languages in s that are not in other.
func (s Set) Diff(other Set) Set {
	out := make(Set)
	for l := range s {
		if !other.Contains(l) {
			out[l] = struct{}{}
		}
	}
	return out
}

// Sorted returns the languages ordered by IETF tag. Provider calls use
// it so request parameters and logs come out deterministic.
func (s Set) Sorted() []Language {
	langs := make([]Language, 0, len(s))
	for l := range s {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i].String() < langs[j].String() })
	return langs
}

// Tags returns the sorted IETF tags of the set.
func (s Set) Tags() []string {
	sorted := s.Sorted()
	tags := make([]string, len(sorted))
	for i, l := range sorted {
		tags[i] = l.String()
	}
	return tags
}
