// Package gestdown implements the Gestdown provider, a JSON proxy in
// front of Addic7ed. Shows resolve to opaque ids which are cached; the
// proxy answers 423 while it refreshes a show, which counts as a
// transient failure.
package gestdown

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

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/matcher"
	"github.com/sublight/sublight/internal/provider"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
)

// Name is the registered provider name.
const Name = "gestdown"

const (
	defaultBaseURL = "https://api.gestdown.info"
	defaultTimeout = 30 * time.Second

	showTTL = 24 * time.Hour
)

// Provider talks to the Gestdown API.
type Provider struct {
	baseURL *url.URL
	http    *http.Client
	cache   *cache.Cache
	log     zerolog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New builds the provider. The proxy needs no credentials.
func New(s provider.Settings, c *cache.Cache, log zerolog.Logger) (*Provider, error) {
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
		cache:   c,
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
	return provider.Capabilities{
		Languages:  set,
		VideoKinds: []video.Kind{video.KindEpisode},
	}
}

// Initialize is a no-op, the API is sessionless.
func (p *Provider) Initialize(ctx context.Context) error { return nil }

// Terminate is a no-op.
func (p *Provider) Terminate(ctx context.Context) error { return nil }

// ListSubtitles resolves the series to a show id and asks for the
// episode's subtitles once per language.
func (p *Provider) ListSubtitles(ctx context.Context, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error) {
	if v.Kind != video.KindEpisode || v.Series == "" {
		return nil, nil
	}

	showID, err := p.searchShowID(ctx, v.Series)
	if err != nil {
		return nil, err
	}
	if showID == "" {
		p.log.Debug().Str("series", v.Series).Msg("Show not found")
		return nil, nil
	}

	var subs []*subtitle.Subtitle
	for _, l := range languages.Sorted() {
		name, err := language.Convert(Name, l)
		if err != nil {
			continue
		}
		results, err := p.query(ctx, showID, v, l, name)
		if err != nil {
			return nil, err
		}
		subs = append(subs, results...)
	}
	p.log.Debug().
		Str("video", v.Name).
		Str("show", showID).
		Int("found", len(subs)).
		Msg("Search completed")
	return subs, nil
}

// searchShowID resolves a series name to the proxy's show id, cached
// because ids never change.
func (p *Provider) searchShowID(ctx context.Context, series string) (string, error) {
	key := cache.Key(Name, "show", matcher.Normalize(series))
	if p.cache != nil {
		if id, ok := p.cache.GetString(key); ok {
			return id, nil
		}
	}

	endpoint := p.baseURL.JoinPath("shows", "search", series)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", provider.NewProviderError(Name, err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", provider.NewUnavailableError(Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode)
	}
	var payload struct {
		Shows []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"shows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", provider.NewProviderError(Name, err)
	}

	var showID string
	for _, show := range payload.Shows {
		if matcher.Normalize(show.Name) == matcher.Normalize(series) {
			showID = show.ID
			break
		}
	}
	if showID == "" && len(payload.Shows) == 1 {
		showID = payload.Shows[0].ID
	}
	if p.cache != nil && showID != "" {
		p.cache.SetWithTTL(key, showID, showTTL)
	}
	return showID, nil
}

func (p *Provider) query(ctx context.Context, showID string, v *video.Video, l language.Language, langName string) ([]*subtitle.Subtitle, error) {
	endpoint := p.baseURL.JoinPath(
		"subtitles", "get", showID,
		strconv.Itoa(v.Season), strconv.Itoa(v.Episode), langName,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, provider.NewProviderError(Name, err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, provider.NewUnavailableError(Name, err)
	}
	defer resp.Body.Close()

	// No subtitles for this episode and language.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}
	var payload struct {
		MatchingSubtitles []struct {
			SubtitleID      string `json:"subtitleId"`
			Version         string `json:"version"`
			Completed       bool   `json:"completed"`
			HearingImpaired bool   `json:"hearingImpaired"`
			DownloadURI     string `json:"downloadUri"`
		} `json:"matchingSubtitles"`
		Episode struct {
			Season int    `json:"season"`
			Number int    `json:"number"`
			Title  string `json:"title"`
		} `json:"episode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, provider.NewProviderError(Name, err)
	}

	var subs []*subtitle.Subtitle
	for _, entry := range payload.MatchingSubtitles {
		if !entry.Completed || entry.SubtitleID == "" {
			continue
		}
		s := &subtitle.Subtitle{
			ProviderName:    Name,
			ID:              entry.SubtitleID,
			Language:        l,
			HearingImpaired: entry.HearingImpaired,
			DownloadLink:    entry.DownloadURI,
		}
		if entry.Version != "" {
			s.Releases = append(s.Releases, entry.Version)
		}
		s.MatchFunc = matchFunc(s, payload.Episode.Season, payload.Episode.Number, payload.Episode.Title)
		subs = append(subs, s)
	}
	return subs, nil
}

// matchFunc asserts the episode identity returned by the API alongside
// the version-string guesses. Version strings are often nothing more
// than the group name, so the group is also checked by containment.
// The show id was resolved from the series name, so every result
// already belongs to the series.
func matchFunc(s *subtitle.Subtitle, season, episode int, title string) func(*video.Video) matcher.Set {
	return func(v *video.Video) matcher.Set {
		m := make(matcher.Set)
		for _, release := range s.Releases {
			m = m.Union(matcher.NameMatches(v, release, true))
			if matcher.ReleaseGroupsMatch(v.ReleaseGroup, release) {
				m.Add("release_group")
			}
		}
		m.Add("series")
		if season > 0 && season == v.Season {
			m.Add("season")
		}
		if episode > 0 && episode == v.Episode {
			m.Add("episode")
		}
		if title != "" && matcher.Normalize(title) == matcher.Normalize(v.Title) {
			m.Add("title")
		}
		return m
	}
}

// DownloadSubtitle fetches the subtitle bytes directly, no archive.
func (p *Provider) DownloadSubtitle(ctx context.Context, s *subtitle.Subtitle) error {
	if s.DownloadLink == "" {
		return provider.NewProviderError(Name, fmt.Errorf("subtitle %s has no download uri", s.ID))
	}
	endpoint, err := p.baseURL.Parse(s.DownloadLink)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
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
	content, err := io.ReadAll(resp.Body)
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
	case status == http.StatusLocked:
		// The proxy is refreshing the show from upstream.
		return provider.NewUnavailableError(Name, fmt.Errorf("show is being refreshed"))
	case status == http.StatusTooManyRequests:
		return provider.NewTooManyRequestsError(Name)
	case status >= 500:
		return provider.NewUnavailableError(Name, fmt.Errorf("status %d", status))
	default:
		return provider.NewProviderError(Name, fmt.Errorf("status %d", status))
	}
}

// converter renders languages as the English names the API routes on.
type converter struct{}

var specialNames = map[language.Language]string{
	language.Make("por", "BR", ""): "Portuguese (Brazilian)",
}

var specialLanguages = func() map[string]language.Language {
	m := make(map[string]language.Language, len(specialNames))
	for l, name := range specialNames {
		m[strings.ToLower(name)] = l
	}
	return m
}()

func (converter) Convert(l language.Language) (string, error) {
	if name, ok := specialNames[l]; ok {
		return name, nil
	}
	return language.Convert("name", l)
}

func (converter) Reverse(name string) (language.Language, error) {
	if l, ok := specialLanguages[strings.ToLower(strings.TrimSpace(name))]; ok {
		return l, nil
	}
	return language.Reverse("name", name)
}

func init() {
	language.RegisterConverter(Name, converter{})
	provider.Register(Name, func(s provider.Settings, c *cache.Cache, log zerolog.Logger) (provider.Provider, error) {
		return New(s, c, log)
	})
}
