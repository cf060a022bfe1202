// Package matcher compares parsed release information against a video
// and produces the set of properties they agree on. The scorer turns
// those sets into numbers.
package matcher

import (
	"regexp"
	"strings"

	"github.com/sublight/sublight/internal/scanner"
	"github.com/sublight/sublight/internal/video"
)

// Set holds the names of matched properties.
type Set map[string]struct{}

// NewSet builds a Set from property names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts a property name.
func (s Set) Add(name string) { s[name] = struct{}{} }

// Has reports whether the property matched.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Union merges other into s and returns s.
func (s Set) Union(other Set) Set {
	for name := range other {
		s[name] = struct{}{}
	}
	return s
}

// Delete removes a property name.
func (s Set) Delete(name string) { delete(s, name) }

// Copy returns an independent copy.
func (s Set) Copy() Set {
	out := make(Set, len(s))
	for name := range s {
		out[name] = struct{}{}
	}
	return out
}

// Names returns the matched property names, unsorted.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}

var punctuationPattern = regexp.MustCompile(`[\p{P}\p{S}]+`)
var spacePattern = regexp.MustCompile(`\s+`)

// Normalize prepares a title for comparison: fold case, turn
// punctuation into spaces, collapse runs of whitespace.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = punctuationPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

func normalizedIn(candidate string, names ...string) bool {
	n := Normalize(candidate)
	for _, name := range names {
		if name != "" && Normalize(name) == n {
			return true
		}
	}
	return false
}

// Scene groups that release identical encodes of the same source.
// A subtitle made for one fits the others.
var equivalentReleaseGroups = [][]string{
	{"LOL", "DIMENSION"},
	{"ASAP", "IMMERSE", "FLEET"},
	{"AVS", "SVA"},
}

var bracketTagPattern = regexp.MustCompile(`\[\w+\]`)

// NormalizeReleaseGroup uppercases a group name and strips bracketed
// tracker tags like [rartv].
func NormalizeReleaseGroup(group string) string {
	return strings.TrimSpace(strings.ToUpper(bracketTagPattern.ReplaceAllString(group, "")))
}

// equivalentGroups returns the group itself plus every group released
// in sync with it.
func equivalentGroups(group string) []string {
	for _, groups := range equivalentReleaseGroups {
		for _, g := range groups {
			if g == group {
				return groups
			}
		}
	}
	return []string{group}
}

// ReleaseGroupsMatch applies the equivalence table with containment
// semantics so decorated names like "DIMENSION[rartv]" still match.
// The candidate side may be a whole version or release string.
func ReleaseGroupsMatch(videoGroup, candidate string) bool {
	vg := NormalizeReleaseGroup(videoGroup)
	gg := NormalizeReleaseGroup(candidate)
	if vg == "" || gg == "" {
		return false
	}
	for _, g := range equivalentGroups(vg) {
		if strings.Contains(gg, g) {
			return true
		}
	}
	return false
}

// GuessMatches compares a guess from a release name against v.
//
// Only properties present in the guess can match. When both sides carry
// the property it matches on (normalized) equality. When the video side
// is missing the property, partial decides: a partial guess comes from
// a name known to be incomplete, so the absent video property counts as
// a match instead of never matching.
func GuessMatches(v *video.Video, g *scanner.Guess, partial bool) Set {
	matches := make(Set)
	if g == nil {
		return matches
	}

	// cmp applies the presence rules for one property.
	cmp := func(name string, guessHas, videoHas, equal bool) {
		switch {
		case !guessHas:
		case !videoHas:
			if partial {
				matches.Add(name)
			}
		case equal:
			matches.Add(name)
		}
	}

	if v.Kind == video.KindEpisode {
		cmp("series", g.Series != "", v.Series != "",
			normalizedIn(g.Series, append([]string{v.Series}, v.AlternativeSeries...)...))
		cmp("title", g.Title != "", v.Title != "", normalizedIn(g.Title, v.Title))
		cmp("season", g.Season != 0, v.Season != 0, g.Season == v.Season)
		cmp("episode", g.Episode() != 0, v.Episode != 0, g.Episode() == v.Episode)
	} else {
		cmp("title", g.Title != "", v.Title != "",
			normalizedIn(g.Title, append([]string{v.Title}, v.AlternativeTitles...)...))
		cmp("edition", g.Edition != "", v.Edition != "", g.Edition == v.Edition)
	}

	cmp("year", g.Year != 0, v.Year != 0, g.Year == v.Year)
	cmp("country", g.Country != "", v.Country != "", g.Country == v.Country)
	cmp("release_group", g.ReleaseGroup != "", v.ReleaseGroup != "",
		ReleaseGroupsMatch(v.ReleaseGroup, g.ReleaseGroup))
	cmp("resolution", g.Resolution != "", v.Resolution != "", g.Resolution == v.Resolution)
	cmp("source", g.Source != "", v.Source != "", strings.EqualFold(g.Source, v.Source))
	cmp("video_codec", g.VideoCodec != "", v.VideoCodec != "", g.VideoCodec == v.VideoCodec)
	cmp("audio_codec", g.AudioCodec != "", v.AudioCodec != "", g.AudioCodec == v.AudioCodec)
	cmp("streaming_service", g.StreamingService != "", v.StreamingService != "",
		g.StreamingService == v.StreamingService)

	return matches
}

// NameMatches parses a release name and matches it against v.
func NameMatches(v *video.Video, name string, partial bool) Set {
	if name == "" {
		return make(Set)
	}
	return GuessMatches(v, scanner.Parse(name), partial)
}
