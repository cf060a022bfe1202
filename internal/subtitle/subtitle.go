// Package subtitle defines the subtitle record produced by providers
// and consumed by the scorer and the download pipeline.
package subtitle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/matcher"
	"github.com/sublight/sublight/internal/video"
)

// ErrNoContent is returned when content-dependent operations run before
// the subtitle has been downloaded.
var ErrNoContent = errors.New("subtitle has no content")

// Subtitle is one candidate found by a provider. Content stays nil
// until the provider's DownloadSubtitle has run. Identity is
// (ProviderName, ID).
type Subtitle struct {
	ProviderName string
	ID           string
	Language     language.Language

	HearingImpaired bool
	ForeignOnly     bool

	PageLink     string
	DownloadLink string

	// Encoding is the charset declared by the provider, if any. An
	// unrecognized label is ignored and the content is sniffed instead.
	Encoding string
	Content  []byte
	FPS      float64

	// Releases are the release names the provider published for this
	// subtitle. They feed the default match computation.
	Releases []string

	// Asserted holds matches the provider claimed directly, such as a
	// hash match reported by its search API.
	Asserted matcher.Set

	// MatchFunc, when set, replaces the default release-name matching.
	// Providers with richer metadata install a closure over their own
	// payload here.
	MatchFunc func(*video.Video) matcher.Set
}

// Preferences are the caller's boolean subtitle preferences. A nil
// field means no preference and never contributes a match.
type Preferences struct {
	HearingImpaired *bool
	ForeignOnly     *bool
}

// GetMatches computes the match set of s against v. Guess matches from
// the release names (or MatchFunc), provider-asserted matches and
// boolean-preference matches are unioned.
func (s *Subtitle) GetMatches(v *video.Video, prefs Preferences) matcher.Set {
	m := make(matcher.Set)
	if s.MatchFunc != nil {
		m = m.Union(s.MatchFunc(v))
	} else {
		for _, release := range s.Releases {
			m = m.Union(matcher.NameMatches(v, release, false))
		}
	}
	m = m.Union(s.Asserted)

	if prefs.HearingImpaired != nil && *prefs.HearingImpaired == s.HearingImpaired {
		m.Add("hearing_impaired")
	}
	if prefs.ForeignOnly != nil && *prefs.ForeignOnly == s.ForeignOnly {
		m.Add("foreign_only")
	}
	return m
}

// Text returns the content decoded to UTF-8 with line endings
// normalized to LF.
func (s *Subtitle) Text() (string, error) {
	if len(s.Content) == 0 {
		return "", ErrNoContent
	}
	decoded, err := DecodeContent(s.Content, s.Encoding, s.Language)
	if err != nil {
		return "", err
	}
	return string(FixLineEndings([]byte(decoded))), nil
}

// IsValid reports whether the downloaded content parses as a subtitle.
// SubRip is validated cue by cue; other recognized formats pass on a
// signature check alone.
func (s *Subtitle) IsValid() bool {
	text, err := s.Text()
	if err != nil {
		return false
	}
	format := SniffFormat([]byte(text))
	if format != FormatSubRip && format != FormatUnknown {
		return true
	}
	return validSubRip(text)
}

// Ext returns the file extension matching the sniffed content format,
// defaulting to SubRip.
func (s *Subtitle) Ext() string {
	if len(s.Content) == 0 {
		return ".srt"
	}
	return SniffFormat(s.Content).Ext()
}

// Save writes the decoded text to path as UTF-8.
func (s *Subtitle) Save(path string) error {
	text, err := s.Text()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

func (s *Subtitle) String() string {
	return fmt.Sprintf("%s:%s [%s]", s.ProviderName, s.ID, s.Language)
}

// Path derives the output path for a subtitle of the given language
// next to videoPath. The language suffix is the IETF tag, omitted for
// the undefined language. ext defaults to ".srt".
func Path(videoPath string, l language.Language, ext string) string {
	if ext == "" {
		ext = ".srt"
	}
	stem := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	if l.IsUndefined() {
		return stem + ext
	}
	return stem + "." + l.String() + ext
}
