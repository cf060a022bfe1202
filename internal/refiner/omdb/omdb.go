// Package omdb refines videos with IMDb ids resolved through the OMDb
// API: movie ids for movies, series ids for episodes. Results cache
// for a week, ids do not move.
package omdb

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
const Name = "omdb"

const (
	defaultBaseURL = "https://www.omdbapi.com"
	defaultTimeout = 10 * time.Second

	resultTTL = 7 * 24 * time.Hour
)

var (
	ErrAPIKeyMissing = errors.New("OMDb API key is not configured")
	ErrAPIError      = errors.New("OMDb API error")
)

// Refiner resolves IMDb ids through OMDb search.
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

// Refine fills the IMDb id the video is missing: the movie id for
// movies, the series id for episodes.
func (r *Refiner) Refine(ctx context.Context, v *video.Video, opts refiner.Options) error {
	switch v.Kind {
	case video.KindMovie:
		if !opts.Force && v.ImdbID != "" {
			return nil
		}
		if v.Title == "" {
			return nil
		}
		return r.refineMovie(ctx, v)
	case video.KindEpisode:
		if !opts.Force && v.SeriesImdbID != "" {
			return nil
		}
		if v.Series == "" {
			return nil
		}
		return r.refineEpisode(ctx, v)
	}
	return nil
}

func (r *Refiner) refineMovie(ctx context.Context, v *video.Video) error {
	result, err := r.search(ctx, "movie", v.Title, v.Year)
	if err != nil {
		return err
	}
	if result == nil {
		r.log.Debug().Str("title", v.Title).Msg("No OMDb match")
		return nil
	}
	v.ImdbID = result.ImdbID
	v.Title = result.Title
	if v.Year == 0 {
		v.Year = result.year()
	}
	r.log.Debug().
		Str("title", v.Title).
		Str("imdb_id", v.ImdbID).
		Msg("Resolved movie on OMDb")
	return nil
}

func (r *Refiner) refineEpisode(ctx context.Context, v *video.Video) error {
	result, err := r.search(ctx, "series", v.Series, v.Year)
	if err != nil {
		return err
	}
	if result == nil {
		r.log.Debug().Str("series", v.Series).Msg("No OMDb match")
		return nil
	}
	v.SeriesImdbID = result.ImdbID
	v.Series = result.Title
	if v.Year == 0 {
		v.Year = result.year()
	}
	r.log.Debug().
		Str("series", v.Series).
		Str("series_imdb_id", v.SeriesImdbID).
		Msg("Resolved series on OMDb")
	return nil
}

type searchResult struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	ImdbID string `json:"imdbID"`
	Type   string `json:"Type"`
}

// year parses the leading year, series years come as ranges.
func (s *searchResult) year() int {
	if len(s.Year) < 4 {
		return 0
	}
	y, _ := strconv.Atoi(s.Year[:4])
	return y
}

// search queries OMDb and returns the first result whose title matches
// under normalization, nil when nothing matches.
func (r *Refiner) search(ctx context.Context, kind, title string, year int) (*searchResult, error) {
	key := cache.Key(Name, kind, matcher.Normalize(title), strconv.Itoa(year))
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			if result, ok := cached.(*searchResult); ok {
				return result, nil
			}
		}
	}

	params := url.Values{}
	params.Set("apikey", r.apiKey)
	params.Set("s", title)
	params.Set("type", kind)
	if kind == "movie" && year != 0 {
		params.Set("y", strconv.Itoa(year))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OMDb request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}
	var payload struct {
		Search   []searchResult `json:"Search"`
		Response string         `json:"Response"`
		Error    string         `json:"Error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if payload.Response == "False" {
		if payload.Error == "Movie not found!" {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrAPIError, payload.Error)
	}

	var match *searchResult
	for i := range payload.Search {
		result := &payload.Search[i]
		if result.Type != kind || result.ImdbID == "" {
			continue
		}
		if matcher.Normalize(result.Title) != matcher.Normalize(title) {
			continue
		}
		if year != 0 && result.year() != 0 && result.year() != year {
			continue
		}
		match = result
		break
	}
	if match != nil && r.cache != nil {
		r.cache.SetWithTTL(key, match, resultTTL)
	}
	return match, nil
}

func init() {
	refiner.Register(Name, func(s refiner.Settings, c *cache.Cache, log zerolog.Logger) (refiner.Refiner, error) {
		return New(s, c, log)
	})
}
