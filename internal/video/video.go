// Package video models the videos subtitles are searched for. A Video
// is identified from its release name and progressively enriched by
// refiners before providers are queried.
package video

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/scanner"
)

// ErrGuessing means a name did not carry enough structure to identify
// a movie or an episode.
var ErrGuessing = errors.New("cannot guess video from name")

// Kind discriminates the two video kinds.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindEpisode Kind = "episode"
)

// Video is a movie or an episode. The release property and file fields
// apply to both kinds; the identity fields below them are kind-specific
// and zero for the other kind.
type Video struct {
	Name string // file path or bare release name
	Kind Kind

	// Release properties, from the name or probed metadata.
	Source           string
	ReleaseGroup     string
	Resolution       string
	StreamingService string
	VideoCodec       string
	AudioCodec       string
	Edition          string
	FrameRate        float64
	Duration         time.Duration

	// File facts, present only when the video exists on disk.
	Size    int64
	ModTime time.Time
	Hashes  map[string]string

	// Languages of subtitles already present, embedded or alongside.
	SubtitleLanguages language.Set

	// Identity. Title is the movie title, or the episode title for
	// episodes. Year is the movie year, or the series start year.
	Title             string
	AlternativeTitles []string
	Year              int
	Country           string
	ImdbID            string
	TmdbID            int
	TvdbID            int

	// Episode identity. A multi-episode file keeps its lowest number.
	// OriginalSeries marks a series whose name needs no year
	// disambiguator; refiners clear it when they pin down a year.
	Series            string
	AlternativeSeries []string
	OriginalSeries    bool
	Season            int
	Episode           int
	SeriesImdbID      string
	SeriesTvdbID      int
	SeriesTmdbID      int
}

// FromGuess builds a Video from parsed release information. It fails
// with ErrGuessing when the guess identifies neither kind.
func FromGuess(name string, g *scanner.Guess) (*Video, error) {
	switch g.Type {
	case "episode":
		if g.Series == "" || g.Season == 0 || len(g.Episodes) == 0 {
			return nil, fmt.Errorf("%w: %q has no usable episode information", ErrGuessing, name)
		}
		return &Video{
			Name:              name,
			Kind:              KindEpisode,
			Series:            g.Series,
			OriginalSeries:    g.Year == 0,
			Season:            g.Season,
			Episode:           g.Episodes[0],
			Title:             g.Title,
			Year:              g.Year,
			Country:           g.Country,
			Source:            g.Source,
			ReleaseGroup:      g.ReleaseGroup,
			Resolution:        g.Resolution,
			StreamingService:  g.StreamingService,
			VideoCodec:        g.VideoCodec,
			AudioCodec:        g.AudioCodec,
			Edition:           g.Edition,
			Hashes:            make(map[string]string),
			SubtitleLanguages: make(language.Set),
		}, nil
	case "movie":
		if g.Title == "" {
			return nil, fmt.Errorf("%w: %q has no usable movie information", ErrGuessing, name)
		}
		return &Video{
			Name:              name,
			Kind:              KindMovie,
			Title:             g.Title,
			Year:              g.Year,
			Country:           g.Country,
			Source:            g.Source,
			ReleaseGroup:      g.ReleaseGroup,
			Resolution:        g.Resolution,
			StreamingService:  g.StreamingService,
			VideoCodec:        g.VideoCodec,
			AudioCodec:        g.AudioCodec,
			Edition:           g.Edition,
			Hashes:            make(map[string]string),
			SubtitleLanguages: make(language.Set),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrGuessing, name)
}

// FromName identifies a video from a name or path without touching the
// filesystem.
func FromName(name string) (*Video, error) {
	return FromGuess(name, scanner.ParsePath(name))
}

// Scan identifies a video from an existing file and records its file
// facts and the languages of subtitle files sitting next to it.
func Scan(path string) (*Video, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scan video: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("scan video: %s is a directory", path)
	}

	v, err := FromName(path)
	if err != nil {
		return nil, err
	}
	v.Size = info.Size()
	v.ModTime = info.ModTime()

	for _, l := range scanExternalSubtitles(path) {
		v.SubtitleLanguages.Add(l)
	}
	return v, nil
}

// ScanDirectory walks dir and scans every video file under it. Hidden
// files and directories, sample files and files that yield no usable
// guess are skipped.
func ScanDirectory(dir string) ([]*Video, error) {
	var videos []*Video
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !scanner.IsVideoFile(name) || scanner.IsSampleFile(name) {
			return nil
		}
		v, err := Scan(path)
		if err != nil {
			return nil
		}
		videos = append(videos, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan directory %s: %w", dir, err)
	}
	return videos, nil
}

// scanExternalSubtitles finds subtitle files next to the video and
// derives their languages from the "<stem>.<tag>.<ext>" convention. A
// subtitle without a parseable tag counts as the undefined language.
func scanExternalSubtitles(path string) []language.Language {
	dir := filepath.Dir(path)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var langs []language.Language
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !scanner.IsSubtitleFile(name) || !strings.HasPrefix(name, stem) {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(name, stem), filepath.Ext(name))
		rest = strings.TrimPrefix(rest, ".")
		l := language.Undefined
		if rest != "" {
			if parsed, err := language.FromIETF(rest); err == nil {
				l = parsed
			}
		}
		langs = append(langs, l)
	}
	return langs
}

// Age returns how long ago the file was modified, zero for videos that
// are not on disk.
func (v *Video) Age(now time.Time) time.Duration {
	if v.ModTime.IsZero() {
		return 0
	}
	if age := now.Sub(v.ModTime); age > 0 {
		return age
	}
	return 0
}

// Exists reports whether the video has file facts, meaning it was
// scanned from disk.
func (v *Video) Exists() bool {
	return !v.ModTime.IsZero()
}

// String renders a short identity for logs.
func (v *Video) String() string {
	if v.Kind == KindEpisode {
		return fmt.Sprintf("%s S%02dE%02d", v.Series, v.Season, v.Episode)
	}
	if v.Year != 0 {
		return fmt.Sprintf("%s (%d)", v.Title, v.Year)
	}
	return v.Title
}

// Check reports whether the video still needs subtitles in any of the
// wanted languages. Videos already covered, or older than maxAge when
// one is set, are skipped. With undefinedOK, an existing subtitle of
// undefined language counts as covering everything.
func Check(v *Video, want language.Set, maxAge time.Duration, undefinedOK bool, now time.Time) bool {
	if undefinedOK && v.SubtitleLanguages.Contains(language.Undefined) {
		return false
	}
	if len(want.Diff(v.SubtitleLanguages)) == 0 {
		return false
	}
	if maxAge > 0 && v.Exists() && v.Age(now) > maxAge {
		return false
	}
	return true
}
