// Package podnapisi implements the Podnapisi.NET provider using its
// JSON search API. Downloads arrive as ZIP archives holding a single
// subtitle file.
package podnapisi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/archive"
	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/matcher"
	"github.com/sublight/sublight/internal/provider"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
)

// Name is the registered provider name.
const Name = "podnapisi"

const (
	defaultBaseURL = "https://www.podnapisi.net"
	defaultTimeout = 30 * time.Second
)

// Provider talks to podnapisi.net.
type Provider struct {
	baseURL *url.URL
	http    *http.Client
	log     zerolog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New builds the provider. The service needs no credentials.
func New(s provider.Settings, log zerolog.Logger) (*Provider, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rawURL := s.BaseURL
	if rawURL == "" {
		rawURL = defaultBaseURL
	}
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, provider.NewConfigError(Name, fmt.Sprintf("invalid base_url: %v", err))
	}
	return &Provider{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("provider", Name).Logger(),
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capabilities() provider.Capabilities {
	set := language.NewSet()
	for _, l := range language.All() {
		if l.Alpha2() != "" {
			set.Add(l)
		}
	}
	set.Add(language.Make("por", "BR", ""))
	set.Add(language.Make("srp", "", "Latn"))
	return provider.Capabilities{
		Languages:  set,
		VideoKinds: []video.Kind{video.KindMovie, video.KindEpisode},
	}
}

// Initialize is a no-op, the API is sessionless.
func (p *Provider) Initialize(ctx context.Context) error { return nil }

// Terminate is a no-op.
func (p *Provider) Terminate(ctx context.Context) error { return nil }

// ListSubtitles queries the advanced search once per language.
func (p *Provider) ListSubtitles(ctx context.Context, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error) {
	var subs []*subtitle.Subtitle
	seen := make(map[string]bool)
	for _, l := range languages.Sorted() {
		results, err := p.query(ctx, v, l)
		if err != nil {
			return nil, err
		}
		for _, s := range results {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			subs = append(subs, s)
		}
	}
	p.log.Debug().
		Str("video", v.Name).
		Int("found", len(subs)).
		Msg("Search completed")
	return subs, nil
}

func (p *Provider) query(ctx context.Context, v *video.Video, l language.Language) ([]*subtitle.Subtitle, error) {
	params := url.Values{}
	params.Set("language", strings.ToLower(l.String()))
	if v.Kind == video.KindEpisode {
		params.Set("keywords", v.Series)
		if v.Season > 0 {
			params.Set("seasons", strconv.Itoa(v.Season))
		}
		if v.Episode > 0 {
			params.Set("episodes", strconv.Itoa(v.Episode))
		}
	} else {
		params.Set("keywords", v.Title)
		if v.Year > 0 {
			params.Set("year", strconv.Itoa(v.Year))
		}
	}

	endpoint := p.baseURL.JoinPath("subtitles", "search", "advanced")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, provider.NewProviderError(Name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, provider.NewUnavailableError(Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}
	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, provider.NewProviderError(Name, err)
	}

	subs := make([]*subtitle.Subtitle, 0, len(payload.Data))
	for _, entry := range payload.Data {
		if entry.PID == "" {
			continue
		}
		lang, err := language.FromIETF(entry.Language)
		if err != nil {
			continue
		}
		s := &subtitle.Subtitle{
			ProviderName:    Name,
			ID:              entry.PID,
			Language:        lang,
			HearingImpaired: entry.hasFlag("hearing_impaired"),
			ForeignOnly:     entry.hasFlag("foreign_only"),
			PageLink:        p.baseURL.JoinPath(entry.URL).String(),
			FPS:             entry.FPS,
			Releases:        append(entry.Releases, entry.CustomReleases...),
		}
		s.MatchFunc = matchFunc(s, entry)
		subs = append(subs, s)
	}
	return subs, nil
}

// matchFunc layers the indexed feature data over the release-name
// guesses.
func matchFunc(s *subtitle.Subtitle, entry searchEntry) func(*video.Video) matcher.Set {
	return func(v *video.Video) matcher.Set {
		m := make(matcher.Set)
		for _, release := range s.Releases {
			m = m.Union(matcher.NameMatches(v, release, false))
		}
		movie := entry.Movie
		if v.Kind == video.KindEpisode {
			if movie.Title != "" && matcher.Normalize(movie.Title) == matcher.Normalize(v.Series) {
				m.Add("series")
			}
			if movie.EpisodeInfo.Season > 0 && movie.EpisodeInfo.Season == v.Season {
				m.Add("season")
			}
			if movie.EpisodeInfo.Episode > 0 && movie.EpisodeInfo.Episode == v.Episode {
				m.Add("episode")
			}
			if movie.Year > 0 && movie.Year == v.Year {
				m.Add("year")
			}
		} else {
			if movie.Title != "" && matcher.Normalize(movie.Title) == matcher.Normalize(v.Title) {
				m.Add("title")
			}
			if movie.Year > 0 && movie.Year == v.Year {
				m.Add("year")
			}
		}
		return m
	}
}

// DownloadSubtitle fetches the ZIP container and extracts the one
// subtitle inside.
func (p *Provider) DownloadSubtitle(ctx context.Context, s *subtitle.Subtitle) error {
	endpoint := p.baseURL.JoinPath("subtitles", s.ID, "download")
	endpoint.RawQuery = url.Values{"container": {"zip"}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return provider.NewUnavailableError(Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	content, err := archive.ExtractSubtitle(data)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	s.Content = content
	p.log.Debug().
		Str("subtitle", s.ID).
		Int("bytes", len(content)).
		Msg("Subtitle downloaded")
	return nil
}

func statusError(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return provider.NewTooManyRequestsError(Name)
	case status >= 500:
		return provider.NewUnavailableError(Name, fmt.Errorf("status %d", status))
	default:
		return provider.NewProviderError(Name, fmt.Errorf("status %d", status))
	}
}

type searchResponse struct {
	Status string        `json:"status"`
	Data   []searchEntry `json:"data"`
}

type searchEntry struct {
	PID            string   `json:"pid"`
	Language       string   `json:"language"`
	URL            string   `json:"url"`
	FPS            float64  `json:"fps"`
	Flags          []string `json:"flags"`
	Releases       []string `json:"releases"`
	CustomReleases []string `json:"custom_releases"`
	Movie          struct {
		Title       string `json:"title"`
		Year        int    `json:"year"`
		EpisodeInfo struct {
			Season  int `json:"season"`
			Episode int `json:"episode"`
		} `json:"episode_info"`
	} `json:"movie"`
}

func (e searchEntry) hasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

func init() {
	provider.Register(Name, func(s provider.Settings, _ *cache.Cache, log zerolog.Logger) (provider.Provider, error) {
		return New(s, log)
	})
}
