// Package score turns match sets into integers using per-kind weight
// tables. A content-hash match subsumes every positional property, and
// database-ID matches subsume the properties the database was keyed on,
// so redundant evidence is never counted twice.
package score

import (
	"fmt"
	"sort"

	"github.com/sublight/sublight/internal/matcher"
	"github.com/sublight/sublight/internal/video"
)

var movieWeights = map[string]int{
	"hash":             46,
	"title":            13,
	"year":             7,
	"country":          1,
	"imdb_id":          31,
	"tmdb_id":          20,
	"resolution":       2,
	"source":           2,
	"video_codec":      2,
	"audio_codec":      1,
	"release_group":    6,
	"edition":          2,
	"hearing_impaired": 1,
}

var episodeWeights = map[string]int{
	"hash":              46,
	"series":            23,
	"year":              2,
	"country":           1,
	"season":            6,
	"episode":           6,
	"title":             12,
	"release_group":     6,
	"source":            2,
	"resolution":        2,
	"video_codec":       2,
	"audio_codec":       1,
	"streaming_service": 1,
	"imdb_id":           35,
	"series_imdb_id":    30,
	"tvdb_id":           23,
	"series_tvdb_id":    20,
	"tmdb_id":           18,
	"series_tmdb_id":    15,
	"hearing_impaired":  1,
}

var (
	movieMax   int
	episodeMax int
)

func init() {
	for _, w := range movieWeights {
		movieMax += w
	}
	for _, w := range episodeWeights {
		episodeMax += w
	}
}

// Weights returns the weight table for a kind. Callers must not
// mutate it.
func Weights(kind video.Kind) map[string]int {
	if kind == video.KindEpisode {
		return episodeWeights
	}
	return movieWeights
}

// Max returns the sum of all weights for a kind, the ceiling any match
// set can score.
func Max(kind video.Kind) int {
	if kind == video.KindEpisode {
		return episodeMax
	}
	return movieMax
}

// HashWeight returns the weight of a content-hash match for a kind.
func HashWeight(kind video.Kind) int {
	return Weights(kind)["hash"]
}

// ScaleMinScore converts a 0-100 minimum-score percentage into an
// absolute score threshold, as a share of the kind's hash weight.
func ScaleMinScore(pct int, kind video.Kind) int {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct * HashWeight(kind) / 100
}

// Properties subsumed by each identity match.
var (
	hashKept     = []string{"hash", "hearing_impaired", "foreign_only"}
	seriesIDDrop = []string{"series", "year", "country"}
	episodeIDDrop = []string{
		"series", "year", "country", "season", "episode", "title",
	}
	movieIDDrop = []string{"title", "year", "country"}
)

// reduce applies the subsumption rules to a copy of the match set.
func reduce(matches matcher.Set, kind video.Kind) matcher.Set {
	m := matches.Copy()

	if m.Has("hash") {
		reduced := make(matcher.Set, len(hashKept))
		for _, name := range hashKept {
			if m.Has(name) {
				reduced.Add(name)
			}
		}
		return reduced
	}

	if kind == video.KindEpisode {
		for _, id := range []string{"series_imdb_id", "series_tvdb_id", "series_tmdb_id"} {
			if m.Has(id) {
				for _, name := range seriesIDDrop {
					m.Delete(name)
				}
			}
		}
		for _, id := range []string{"imdb_id", "tvdb_id", "tmdb_id"} {
			if m.Has(id) {
				for _, name := range episodeIDDrop {
					m.Delete(name)
				}
			}
		}
		return m
	}

	if m.Has("imdb_id") || m.Has("tmdb_id") {
		for _, name := range movieIDDrop {
			m.Delete(name)
		}
	}
	return m
}

// Compute sums the weights of a match set for a kind after applying
// the subsumption rules.
func Compute(matches matcher.Set, kind video.Kind) int {
	weights := Weights(kind)
	total := 0
	for name := range reduce(matches, kind) {
		total += weights[name]
	}
	if total > Max(kind) {
		panic(fmt.Sprintf("score %d exceeds maximum %d for %s", total, Max(kind), kind))
	}
	return total
}

// Breakdown lists the weights contributing to a match set's score
// after subsumption, highest first, for debug logging.
func Breakdown(matches matcher.Set, kind video.Kind) []string {
	weights := Weights(kind)

	type part struct {
		name   string
		weight int
	}
	var parts []part
	for name := range reduce(matches, kind) {
		parts = append(parts, part{name, weights[name]})
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].weight != parts[j].weight {
			return parts[i].weight > parts[j].weight
		}
		return parts[i].name < parts[j].name
	})

	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = fmt.Sprintf("%s=%d", p.name, p.weight)
	}
	return out
}
