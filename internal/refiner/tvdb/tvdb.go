// Package tvdb refines episodes through the TVDB API. TVDB requires a
// bearer token from a login call; tokens last a month but refresh
// after a day so expiry never races a request.
package tvdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/matcher"
	"github.com/sublight/sublight/internal/refiner"
	"github.com/sublight/sublight/internal/video"
)

// Name is the registered refiner name.
const Name = "tvdb"

const (
	defaultBaseURL = "https://api4.thetvdb.com/v4"
	defaultTimeout = 10 * time.Second

	tokenRefresh = 24 * time.Hour
	resultTTL    = 7 * 24 * time.Hour
)

var (
	ErrAPIKeyMissing = errors.New("TVDB API key is not configured")
	ErrAuthFailed    = errors.New("TVDB authentication failed")
	ErrAPIError      = errors.New("TVDB API error")
	ErrRateLimited   = errors.New("TVDB API rate limited")
)

// Refiner resolves series ids through TVDB.
type Refiner struct {
	apiKey  string
	baseURL string
	http    *http.Client
	cache   *cache.Cache
	log     zerolog.Logger

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

// New builds the refiner. The API key is mandatory.
func New(s refiner.Settings, c *cache.Cache, log zerolog.Logger) (*Refiner, error) {
	if s.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Refiner{
		apiKey:  s.APIKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   c,
		log:     log.With().Str("refiner", Name).Logger(),
	}, nil
}

func (r *Refiner) Name() string { return Name }

// Refine fills the TVDB series id for episodes, plus the IMDb and TMDB
// series ids TVDB knows about. Movies are left alone, TVDB indexes
// television.
func (r *Refiner) Refine(ctx context.Context, v *video.Video, opts refiner.Options) error {
	if v.Kind != video.KindEpisode || v.Series == "" {
		return nil
	}
	if !opts.Force && v.SeriesTvdbID != 0 {
		return nil
	}

	id, err := r.resolve(ctx, v.Series, v.Year)
	if err != nil {
		return err
	}
	if id == nil {
		r.log.Debug().Str("series", v.Series).Msg("No TVDB match")
		return nil
	}
	v.SeriesTvdbID = id.TvdbID
	if id.ImdbID != "" && v.SeriesImdbID == "" {
		v.SeriesImdbID = id.ImdbID
	}
	if id.TmdbID != 0 && v.SeriesTmdbID == 0 {
		v.SeriesTmdbID = id.TmdbID
	}
	v.Series = id.Name
	if v.Year == 0 {
		v.Year = id.Year
	}
	r.log.Debug().
		Str("series", v.Series).
		Int("series_tvdb_id", v.SeriesTvdbID).
		Msg("Resolved series on TVDB")
	return nil
}

type identity struct {
	TvdbID int
	ImdbID string
	TmdbID int
	Name   string
	Year   int
}

func (r *Refiner) resolve(ctx context.Context, series string, year int) (*identity, error) {
	key := cache.Key(Name, "series", matcher.Normalize(series), strconv.Itoa(year))
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			if id, ok := cached.(*identity); ok {
				return id, nil
			}
		}
	}

	tvdbID, id, err := r.search(ctx, series, year)
	if err != nil {
		return nil, err
	}
	if tvdbID == 0 {
		return nil, nil
	}
	if err := r.seriesDetail(ctx, tvdbID, id); err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetWithTTL(key, id, resultTTL)
	}
	return id, nil
}

func (r *Refiner) search(ctx context.Context, series string, year int) (int, *identity, error) {
	params := url.Values{}
	params.Set("query", series)
	params.Set("type", "series")

	var payload struct {
		Data []struct {
			TvdbID string `json:"tvdb_id"`
			Name   string `json:"name"`
			Year   string `json:"year"`
		} `json:"data"`
	}
	if err := r.doRequest(ctx, r.baseURL+"/search", params, &payload); err != nil {
		return 0, nil, err
	}

	for _, result := range payload.Data {
		if matcher.Normalize(result.Name) != matcher.Normalize(series) {
			continue
		}
		resultYear, _ := strconv.Atoi(result.Year)
		if year != 0 && resultYear != 0 && resultYear != year {
			continue
		}
		tvdbID, err := strconv.Atoi(result.TvdbID)
		if err != nil || tvdbID == 0 {
			continue
		}
		return tvdbID, &identity{TvdbID: tvdbID, Name: result.Name, Year: resultYear}, nil
	}
	return 0, nil, nil
}

func (r *Refiner) seriesDetail(ctx context.Context, tvdbID int, id *identity) error {
	var payload struct {
		Data struct {
			RemoteIDs []struct {
				ID         string `json:"id"`
				SourceName string `json:"sourceName"`
			} `json:"remoteIds"`
		} `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/series/%d/extended", r.baseURL, tvdbID)
	if err := r.doRequest(ctx, endpoint, nil, &payload); err != nil {
		return err
	}
	for _, remote := range payload.Data.RemoteIDs {
		switch remote.SourceName {
		case "IMDB":
			id.ImdbID = remote.ID
		case "TheMovieDB.com":
			id.TmdbID, _ = strconv.Atoi(remote.ID)
		}
	}
	return nil
}

// authenticate gets or refreshes the bearer token.
func (r *Refiner) authenticate(ctx context.Context) error {
	r.mu.RLock()
	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		r.mu.RUnlock()
		return nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return nil
	}

	body, err := json.Marshal(map[string]string{"apikey": r.apiKey})
	if err != nil {
		return fmt.Errorf("marshaling login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.log.Error().Int("status", resp.StatusCode).Msg("TVDB authentication failed")
		return ErrAuthFailed
	}
	var payload struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if payload.Data.Token == "" {
		return ErrAuthFailed
	}

	r.token = payload.Data.Token
	r.tokenExpiry = time.Now().Add(tokenRefresh)
	r.log.Debug().Msg("TVDB authentication successful")
	return nil
}

func (r *Refiner) doRequest(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	if err := r.authenticate(ctx); err != nil {
		return err
	}

	reqURL := endpoint
	if len(params) > 0 {
		reqURL = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	r.mu.RLock()
	token := r.token
	r.mu.RUnlock()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("TVDB request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		// Token expired early, drop it so the next call logs in again.
		r.mu.Lock()
		r.token = ""
		r.mu.Unlock()
		return fmt.Errorf("%w: unauthorized", ErrAPIError)
	case http.StatusNotFound:
		return nil
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func init() {
	refiner.Register(Name, func(s refiner.Settings, c *cache.Cache, log zerolog.Logger) (refiner.Refiner, error) {
		return New(s, c, log)
	})
}
