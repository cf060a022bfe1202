// Package tmdb refines videos through the TMDB API: search resolves
// the TMDB id, the external-ids endpoint supplies the IMDb and TVDB
// ids the providers key on.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/matcher"
	"github.com/sublight/sublight/internal/refiner"
	"github.com/sublight/sublight/internal/video"
)

// Name is the registered refiner name.
const Name = "tmdb"

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
	defaultTimeout = 10 * time.Second

	resultTTL = 7 * 24 * time.Hour
)

var (
	ErrAPIKeyMissing = errors.New("TMDB API key is not configured")
	ErrAPIError      = errors.New("TMDB API error")
	ErrRateLimited   = errors.New("TMDB API rate limited")
)

// Refiner resolves TMDB, IMDb and TVDB ids through TMDB.
type Refiner struct {
	apiKey  string
	baseURL string
	http    *http.Client
	cache   *cache.Cache
	log     zerolog.Logger
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

// Refine fills TMDB and IMDb ids, plus the TVDB id for episodes.
func (r *Refiner) Refine(ctx context.Context, v *video.Video, opts refiner.Options) error {
	switch v.Kind {
	case video.KindMovie:
		if !opts.Force && v.TmdbID != 0 && v.ImdbID != "" {
			return nil
		}
		if v.Title == "" {
			return nil
		}
		return r.refineMovie(ctx, v)
	case video.KindEpisode:
		if !opts.Force && v.SeriesTmdbID != 0 && v.SeriesImdbID != "" {
			return nil
		}
		if v.Series == "" {
			return nil
		}
		return r.refineEpisode(ctx, v)
	}
	return nil
}

// identity is what a search plus external-ids lookup resolves.
type identity struct {
	TmdbID int
	ImdbID string
	TvdbID int
	Title  string
	Year   int
}

func (r *Refiner) refineMovie(ctx context.Context, v *video.Video) error {
	id, err := r.resolve(ctx, "movie", v.Title, v.Year)
	if err != nil {
		return err
	}
	if id == nil {
		r.log.Debug().Str("title", v.Title).Msg("No TMDB match")
		return nil
	}
	v.TmdbID = id.TmdbID
	if id.ImdbID != "" {
		v.ImdbID = id.ImdbID
	}
	v.Title = id.Title
	if v.Year == 0 {
		v.Year = id.Year
	}
	r.log.Debug().
		Str("title", v.Title).
		Int("tmdb_id", v.TmdbID).
		Str("imdb_id", v.ImdbID).
		Msg("Resolved movie on TMDB")
	return nil
}

func (r *Refiner) refineEpisode(ctx context.Context, v *video.Video) error {
	id, err := r.resolve(ctx, "tv", v.Series, v.Year)
	if err != nil {
		return err
	}
	if id == nil {
		r.log.Debug().Str("series", v.Series).Msg("No TMDB match")
		return nil
	}
	v.SeriesTmdbID = id.TmdbID
	if id.ImdbID != "" {
		v.SeriesImdbID = id.ImdbID
	}
	if id.TvdbID != 0 {
		v.SeriesTvdbID = id.TvdbID
	}
	v.Series = id.Title
	if v.Year == 0 {
		v.Year = id.Year
	}
	r.log.Debug().
		Str("series", v.Series).
		Int("series_tmdb_id", v.SeriesTmdbID).
		Str("series_imdb_id", v.SeriesImdbID).
		Msg("Resolved series on TMDB")
	return nil
}

// resolve searches for the title and fetches its external ids, with
// the whole identity cached as one unit.
func (r *Refiner) resolve(ctx context.Context, kind, title string, year int) (*identity, error) {
	key := cache.Key(Name, kind, matcher.Normalize(title), strconv.Itoa(year))
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			if id, ok := cached.(*identity); ok {
				return id, nil
			}
		}
	}

	tmdbID, id, err := r.search(ctx, kind, title, year)
	if err != nil {
		return nil, err
	}
	if tmdbID == 0 {
		return nil, nil
	}
	if err := r.externalIDs(ctx, kind, tmdbID, id); err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetWithTTL(key, id, resultTTL)
	}
	return id, nil
}

func (r *Refiner) search(ctx context.Context, kind, title string, year int) (int, *identity, error) {
	params := url.Values{}
	params.Set("api_key", r.apiKey)
	params.Set("query", title)
	params.Set("include_adult", "false")
	if year > 0 {
		if kind == "movie" {
			params.Set("year", strconv.Itoa(year))
		} else {
			params.Set("first_air_date_year", strconv.Itoa(year))
		}
	}

	var payload struct {
		Results []struct {
			ID           int    `json:"id"`
			Title        string `json:"title"`
			Name         string `json:"name"`
			ReleaseDate  string `json:"release_date"`
			FirstAirDate string `json:"first_air_date"`
		} `json:"results"`
	}
	endpoint := fmt.Sprintf("%s/search/%s", r.baseURL, kind)
	if err := r.doRequest(ctx, endpoint, params, &payload); err != nil {
		return 0, nil, err
	}

	for _, result := range payload.Results {
		name := result.Title
		date := result.ReleaseDate
		if kind == "tv" {
			name = result.Name
			date = result.FirstAirDate
		}
		if matcher.Normalize(name) != matcher.Normalize(title) {
			continue
		}
		resultYear := 0
		if len(date) >= 4 {
			resultYear, _ = strconv.Atoi(date[:4])
		}
		if year != 0 && resultYear != 0 && resultYear != year {
			continue
		}
		return result.ID, &identity{TmdbID: result.ID, Title: name, Year: resultYear}, nil
	}
	return 0, nil, nil
}

func (r *Refiner) externalIDs(ctx context.Context, kind string, tmdbID int, id *identity) error {
	params := url.Values{}
	params.Set("api_key", r.apiKey)

	var payload struct {
		ImdbID string `json:"imdb_id"`
		TvdbID int    `json:"tvdb_id"`
	}
	endpoint := fmt.Sprintf("%s/%s/%d/external_ids", r.baseURL, kind, tmdbID)
	if err := r.doRequest(ctx, endpoint, params, &payload); err != nil {
		return err
	}
	id.ImdbID = payload.ImdbID
	id.TvdbID = payload.TvdbID
	return nil
}

func (r *Refiner) doRequest(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("TMDB request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
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
