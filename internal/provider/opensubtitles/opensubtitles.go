// Package opensubtitles implements the provider for the OpenSubtitles
// REST API. Credentialed sessions share a process-wide token cache
// sized by the token's own expiry claim; anonymous sessions search
// with reduced download quota.
package opensubtitles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/matcher"
	"github.com/sublight/sublight/internal/provider"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
	"github.com/sublight/sublight/internal/videohash"
)

// Name is the registered provider name.
const Name = "opensubtitles"

const (
	defaultBaseURL  = "https://api.opensubtitles.com/api/v1"
	defaultAgent    = "Sublight v1"
	defaultTimeout  = 30 * time.Second
	defaultTokenTTL = 24 * time.Hour
)

// Provider is a session against the OpenSubtitles REST API.
type Provider struct {
	apiKey    string
	userAgent string
	username  string
	password  string
	baseURL   *url.URL
	http      *http.Client
	cache     *cache.Cache
	log       zerolog.Logger

	token    string
	ownToken bool
}

var _ provider.Provider = (*Provider)(nil)

// New builds the provider. An API key is mandatory; username and
// password switch the session from anonymous to credentialed.
func New(s provider.Settings, c *cache.Cache, log zerolog.Logger) (*Provider, error) {
	apiKey := strings.TrimSpace(s.APIKey)
	if apiKey == "" {
		return nil, provider.NewConfigError(Name, "api_key is required")
	}
	if (s.Username == "") != (s.Password == "") {
		return nil, provider.NewConfigError(Name, "username and password must be set together")
	}
	userAgent := strings.TrimSpace(s.UserAgent)
	if userAgent == "" {
		userAgent = defaultAgent
	}
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
		apiKey:    apiKey,
		userAgent: userAgent,
		username:  s.Username,
		password:  s.Password,
		baseURL:   baseURL,
		http:      &http.Client{Timeout: timeout},
		cache:     c,
		log:       log.With().Str("provider", Name).Logger(),
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Languages:  supportedLanguages(),
		VideoKinds: []video.Kind{video.KindMovie, video.KindEpisode},
	}
}

func (p *Provider) tokenKey() string {
	return cache.Key(Name, "token", p.username)
}

// Initialize logs in when credentials are configured, reusing a cached
// token when one is still live. Idempotent.
func (p *Provider) Initialize(ctx context.Context) error {
	if p.token != "" || p.username == "" {
		return nil
	}
	if p.cache != nil {
		if token, ok := p.cache.GetString(p.tokenKey()); ok {
			p.token = token
			p.ownToken = false
			return nil
		}
	}

	body, err := json.Marshal(map[string]string{
		"username": p.username,
		"password": p.password,
	})
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL.JoinPath("login").String(), bytes.NewReader(body))
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.applyHeaders(req)

	resp, err := p.http.Do(req)
	if err != nil {
		return provider.NewUnavailableError(Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.statusError(resp.StatusCode)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return provider.NewProviderError(Name, err)
	}
	if payload.Token == "" {
		return provider.NewAuthError(Name, nil)
	}

	p.token = payload.Token
	p.ownToken = true
	if p.cache != nil {
		p.cache.SetWithTTL(p.tokenKey(), payload.Token, tokenTTL(payload.Token))
	}
	return nil
}

// Terminate logs out sessions this provider opened itself. Tokens taken
// from the shared cache are left alone for other sessions. Idempotent.
func (p *Provider) Terminate(ctx context.Context) error {
	if p.token == "" {
		return nil
	}
	token := p.token
	own := p.ownToken
	p.token = ""
	p.ownToken = false
	if !own {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL.JoinPath("logout").String(), nil)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	p.applyHeaders(req)

	resp, err := p.http.Do(req)
	if err != nil {
		return provider.NewUnavailableError(Name, err)
	}
	resp.Body.Close()
	if p.cache != nil {
		p.cache.Delete(p.tokenKey())
	}
	return nil
}

// ListSubtitles queries the subtitles endpoint, preferring hash search
// and falling back to identity fields.
func (p *Provider) ListSubtitles(ctx context.Context, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error) {
	params := p.buildQuery(v, languages)
	endpoint := p.baseURL.JoinPath("subtitles")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, provider.NewProviderError(Name, err)
	}
	p.applyHeaders(req)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, provider.NewUnavailableError(Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp.StatusCode)
	}
	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, provider.NewProviderError(Name, err)
	}
	subs := p.parseSearchResponse(payload, v)
	p.log.Debug().
		Str("video", v.Name).
		Int("total", payload.Meta.Total).
		Int("usable", len(subs)).
		Msg("Search completed")
	return subs, nil
}

// buildQuery maps the video's identity onto search parameters.
func (p *Provider) buildQuery(v *video.Video, languages language.Set) url.Values {
	params := url.Values{}

	var codes []string
	for _, l := range languages.Sorted() {
		code, err := language.Convert(Name, l)
		if err != nil {
			continue
		}
		codes = append(codes, code)
	}
	params.Set("languages", strings.Join(codes, ","))

	if hash, ok := v.Hashes[videohash.OpenSubtitles]; ok {
		params.Set("moviehash", hash)
	}

	if v.Kind == video.KindEpisode {
		params.Set("type", "episode")
		params.Set("query", v.Series)
		if v.Season > 0 {
			params.Set("season_number", strconv.Itoa(v.Season))
		}
		if v.Episode > 0 {
			params.Set("episode_number", strconv.Itoa(v.Episode))
		}
		if id := strings.TrimPrefix(v.SeriesImdbID, "tt"); id != "" {
			params.Set("parent_imdb_id", id)
		}
	} else {
		params.Set("type", "movie")
		params.Set("query", v.Title)
		if v.Year > 0 {
			params.Set("year", strconv.Itoa(v.Year))
		}
		if id := strings.TrimPrefix(v.ImdbID, "tt"); id != "" {
			params.Set("imdb_id", id)
		}
	}
	params.Set("order_by", "download_count")
	params.Set("order_direction", "desc")
	return params
}

func (p *Provider) parseSearchResponse(payload searchResponse, v *video.Video) []*subtitle.Subtitle {
	subs := make([]*subtitle.Subtitle, 0, len(payload.Data))
	for _, entry := range payload.Data {
		attrs := entry.Attributes
		l, err := language.Reverse(Name, attrs.Language)
		if err != nil {
			continue
		}
		fileID := attrs.primaryFileID()
		if fileID == 0 {
			continue
		}

		var releases []string
		if attrs.Release != "" {
			releases = append(releases, attrs.Release)
		}
		if name := attrs.primaryFileName(); name != "" && name != attrs.Release {
			releases = append(releases, name)
		}

		s := &subtitle.Subtitle{
			ProviderName:    Name,
			ID:              entry.ID,
			Language:        l,
			HearingImpaired: attrs.HearingImpaired,
			ForeignOnly:     attrs.ForeignPartsOnly,
			PageLink:        attrs.URL,
			DownloadLink:    strconv.FormatInt(fileID, 10),
			FPS:             attrs.FPS,
			Releases:        releases,
		}
		s.MatchFunc = matchFunc(s, attrs)
		subs = append(subs, s)
	}
	return subs
}

// matchFunc compares the feature details the API asserted against the
// video, on top of the release-name guesses.
func matchFunc(s *subtitle.Subtitle, attrs searchAttributes) func(*video.Video) matcher.Set {
	return func(v *video.Video) matcher.Set {
		m := make(matcher.Set)
		for _, release := range s.Releases {
			m = m.Union(matcher.NameMatches(v, release, false))
		}
		if attrs.MovieHashMatch {
			m.Add("hash")
		}

		fd := attrs.FeatureDetails
		if v.Kind == video.KindEpisode {
			if fd.ParentIMDBID > 0 && v.SeriesImdbID == formatIMDBID(fd.ParentIMDBID) {
				m.Add("series_imdb_id")
			}
			if fd.IMDBID > 0 && v.ImdbID == formatIMDBID(fd.IMDBID) {
				m.Add("imdb_id")
			}
			if fd.ParentTitle != "" && matcher.Normalize(fd.ParentTitle) == matcher.Normalize(v.Series) {
				m.Add("series")
			}
			if fd.SeasonNumber > 0 && fd.SeasonNumber == v.Season {
				m.Add("season")
			}
			if fd.EpisodeNumber > 0 && fd.EpisodeNumber == v.Episode {
				m.Add("episode")
			}
		} else {
			if fd.IMDBID > 0 && v.ImdbID == formatIMDBID(fd.IMDBID) {
				m.Add("imdb_id")
			}
			if fd.Title != "" && matcher.Normalize(fd.Title) == matcher.Normalize(v.Title) {
				m.Add("title")
			}
			if fd.Year > 0 && fd.Year == v.Year {
				m.Add("year")
			}
		}
		return m
	}
}

// DownloadSubtitle negotiates a download link for the subtitle's file
// and fetches it. A rate-limited sentinel page served with status 200
// is detected by its content type and reported as a quota error.
func (p *Provider) DownloadSubtitle(ctx context.Context, s *subtitle.Subtitle) error {
	fileID, err := strconv.ParseInt(s.DownloadLink, 10, 64)
	if err != nil || fileID <= 0 {
		return provider.NewProviderError(Name, fmt.Errorf("subtitle %s has no file id", s.ID))
	}

	body, err := json.Marshal(map[string]any{"file_id": fileID, "sub_format": "srt"})
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL.JoinPath("download").String(), bytes.NewReader(body))
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.applyHeaders(req)

	resp, err := p.http.Do(req)
	if err != nil {
		return provider.NewUnavailableError(Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.statusError(resp.StatusCode)
	}
	var info struct {
		Link      string `json:"link"`
		Remaining int    `json:"remaining"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return provider.NewProviderError(Name, err)
	}
	if info.Link == "" {
		if info.Remaining <= 0 {
			return provider.NewDownloadLimitError(Name)
		}
		return provider.NewProviderError(Name, fmt.Errorf("download response missing link"))
	}

	linkURL, err := p.baseURL.Parse(info.Link)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	dataReq, err := http.NewRequestWithContext(ctx, http.MethodGet, linkURL.String(), nil)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	dataReq.Header.Set("User-Agent", p.userAgent)

	dataResp, err := p.http.Do(dataReq)
	if err != nil {
		return provider.NewUnavailableError(Name, err)
	}
	defer dataResp.Body.Close()

	if dataResp.StatusCode != http.StatusOK {
		return p.statusError(dataResp.StatusCode)
	}
	if strings.Contains(dataResp.Header.Get("Content-Type"), "text/html") {
		return provider.NewDownloadLimitError(Name)
	}

	content, err := io.ReadAll(dataResp.Body)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	s.Content = content
	p.log.Debug().
		Str("subtitle", s.ID).
		Int("bytes", len(content)).
		Int("remaining", info.Remaining).
		Msg("Subtitle downloaded")
	return nil
}

func (p *Provider) applyHeaders(req *http.Request) {
	req.Header.Set("Api-Key", p.apiKey)
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")
	if p.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
}

// statusError maps an HTTP status to the provider error taxonomy. A
// rejected token is also dropped from the shared cache so the next
// initialization logs in fresh.
func (p *Provider) statusError(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if p.cache != nil {
			p.cache.Delete(p.tokenKey())
		}
		p.token = ""
		return provider.NewAuthError(Name, fmt.Errorf("status %d", status))
	case status == http.StatusNotAcceptable:
		return provider.NewDownloadLimitError(Name)
	case status == http.StatusTooManyRequests:
		return provider.NewTooManyRequestsError(Name)
	case status >= 500:
		return provider.NewUnavailableError(Name, fmt.Errorf("status %d", status))
	default:
		return provider.NewProviderError(Name, fmt.Errorf("status %d", status))
	}
}

// tokenTTL sizes the cache entry from the token's expiry claim,
// falling back to a day when the claim is absent or unreadable.
func tokenTTL(token string) time.Duration {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return defaultTokenTTL
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return defaultTokenTTL
	}
	ttl := time.Until(exp.Time) - time.Minute
	if ttl <= 0 {
		return defaultTokenTTL
	}
	return ttl
}

func formatIMDBID(id int64) string {
	return fmt.Sprintf("tt%07d", id)
}

type searchResponse struct {
	Data []struct {
		ID         string           `json:"id"`
		Attributes searchAttributes `json:"attributes"`
	} `json:"data"`
	Meta struct {
		Total int `json:"total_count"`
	} `json:"meta"`
}

type searchAttributes struct {
	Language         string         `json:"language"`
	Release          string         `json:"release"`
	URL              string         `json:"url"`
	FPS              float64        `json:"fps"`
	HearingImpaired  bool           `json:"hearing_impaired"`
	ForeignPartsOnly bool           `json:"foreign_parts_only"`
	MovieHashMatch   bool           `json:"moviehash_match"`
	DownloadCount    int            `json:"download_count"`
	FeatureDetails   featureDetails `json:"feature_details"`
	Files            []searchFile   `json:"files"`
}

func (a searchAttributes) primaryFileID() int64 {
	if len(a.Files) == 0 {
		return 0
	}
	return a.Files[0].FileID
}

func (a searchAttributes) primaryFileName() string {
	if len(a.Files) == 0 {
		return ""
	}
	return a.Files[0].FileName
}

type featureDetails struct {
	FeatureType   string `json:"feature_type"`
	Title         string `json:"title"`
	Year          int    `json:"year"`
	IMDBID        int64  `json:"imdb_id"`
	TMDBID        int64  `json:"tmdb_id"`
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
	ParentIMDBID  int64  `json:"parent_imdb_id"`
	ParentTitle   string `json:"parent_title"`
}

type searchFile struct {
	FileID   int64  `json:"file_id"`
	FileName string `json:"file_name"`
}

func supportedLanguages() language.Set {
	set := language.NewSet()
	for _, l := range language.All() {
		if l.Alpha2() != "" {
			set.Add(l)
		}
	}
	set.Add(language.Make("por", "BR", ""))
	set.Add(language.Make("zho", "TW", ""))
	return set
}

// converter maps languages onto the lowercase codes the REST API uses.
type converter struct{}

var specialCodes = map[language.Language]string{
	language.Make("por", "BR", ""): "pt-br",
	language.Make("zho", "", ""):   "zh-cn",
	language.Make("zho", "TW", ""): "zh-tw",
}

var specialLanguages = map[string]language.Language{
	"pt-br": language.Make("por", "BR", ""),
	"pt-pt": language.Make("por", "", ""),
	"zh-cn": language.Make("zho", "", ""),
	"zh-tw": language.Make("zho", "TW", ""),
}

func (converter) Convert(l language.Language) (string, error) {
	if code, ok := specialCodes[l]; ok {
		return code, nil
	}
	if a2 := l.Alpha2(); a2 != "" {
		return a2, nil
	}
	return "", fmt.Errorf("%w: %s to %s", language.ErrNoConversion, l, Name)
}

func (converter) Reverse(code string) (language.Language, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if l, ok := specialLanguages[code]; ok {
		return l, nil
	}
	return language.FromIETF(code)
}

func init() {
	language.RegisterConverter(Name, converter{})
	provider.Register(Name, func(s provider.Settings, c *cache.Cache, log zerolog.Logger) (provider.Provider, error) {
		return New(s, c, log)
	})
}
