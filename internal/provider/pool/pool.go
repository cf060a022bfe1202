// Package pool coordinates a set of subtitle providers: lazy session
// management, bounded parallel fan-out, failure isolation and best-
// subtitle selection.
package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/provider"
	"github.com/sublight/sublight/internal/score"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
)

// Session states. Discard is pool-level and sticky, so it is tracked
// apart from the session.
type state int

const (
	stateNew state = iota
	stateReady
	stateClosed
)

// Config holds pool construction inputs.
type Config struct {
	// Providers is the declaration order. Merged results follow it.
	Providers []string
	// Settings per provider name.
	Settings map[string]provider.Settings
	// MaxWorkers bounds concurrent provider operations.
	MaxWorkers int
	// Timeout is the per-operation deadline.
	Timeout time.Duration
	// RetryBackoff is the pause before the single retry after a
	// transient upstream failure.
	RetryBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
}

// session wraps one provider with its lifecycle state. The mutex
// serializes all calls to the provider.
type session struct {
	mu    sync.Mutex
	p     provider.Provider
	state state
}

// Pool owns provider sessions for a run. Construction fails on
// configuration errors; everything after that fails closed, discarding
// the broken provider and keeping the rest.
type Pool struct {
	log zerolog.Logger
	cfg Config

	sessions map[string]*session

	mu          sync.Mutex
	discarded   map[string]bool
	authRetried map[string]bool

	workers chan struct{}
}

// DownloadOptions steers candidate selection in DownloadBestSubtitles.
type DownloadOptions struct {
	// Languages to satisfy, one subtitle each.
	Languages language.Set
	// MinScore is a 0-100 percentage of the video kind's hash weight.
	MinScore int
	// HearingImpaired and ForeignOnly are tri-state preferences.
	HearingImpaired *bool
	ForeignOnly     *bool
	// OnlyOne stops after the first successful download.
	OnlyOne bool
	// IgnoreIDs blacklists candidates by subtitle ID, bare or as
	// provider:id.
	IgnoreIDs map[string]struct{}
}

func (o DownloadOptions) prefs() subtitle.Preferences {
	return subtitle.Preferences{
		HearingImpaired: o.HearingImpaired,
		ForeignOnly:     o.ForeignOnly,
	}
}

// New constructs every declared provider from the registry eagerly so
// configuration errors surface here, and defers session initialization
// to first use.
func New(cfg Config, c *cache.Cache, log zerolog.Logger) (*Pool, error) {
	providers := make([]provider.Provider, 0, len(cfg.Providers))
	seen := make(map[string]bool, len(cfg.Providers))
	for _, name := range cfg.Providers {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, err := provider.New(name, cfg.Settings[name], c, log)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return NewWithProviders(cfg, providers, log), nil
}

// NewWithProviders builds a pool over already-constructed providers.
// The slice order is the declaration order.
func NewWithProviders(cfg Config, providers []provider.Provider, log zerolog.Logger) *Pool {
	cfg.applyDefaults()

	pl := &Pool{
		log:         log.With().Str("component", "pool").Logger(),
		cfg:         cfg,
		sessions:    make(map[string]*session, len(providers)),
		discarded:   make(map[string]bool),
		authRetried: make(map[string]bool),
		workers:     make(chan struct{}, cfg.MaxWorkers),
	}
	pl.cfg.Providers = make([]string, 0, len(providers))
	for _, p := range providers {
		name := p.Name()
		if _, ok := pl.sessions[name]; ok {
			continue
		}
		pl.cfg.Providers = append(pl.cfg.Providers, name)
		pl.sessions[name] = &session{p: p}
	}
	return pl
}

// Providers returns the declaration order.
func (pl *Pool) Providers() []string {
	return pl.cfg.Providers
}

// Discarded returns the providers dropped during this pool's lifetime,
// sorted.
func (pl *Pool) Discarded() []string {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	names := make([]string, 0, len(pl.discarded))
	for name := range pl.discarded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (pl *Pool) isDiscarded(name string) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.discarded[name]
}

func (pl *Pool) discard(name string, err error) {
	pl.mu.Lock()
	pl.discarded[name] = true
	pl.mu.Unlock()
	pl.log.Warn().Str("provider", name).Err(err).Msg("Provider discarded")
}

type listTaskResult struct {
	index     int
	name      string
	subtitles []*subtitle.Subtitle
}

// ListSubtitles fans the search out across all eligible providers and
// merges the results in declaration order. Provider failures discard
// that provider and never fail the call; only caller cancellation
// returns an error.
func (pl *Pool) ListSubtitles(ctx context.Context, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error) {
	eligible := pl.eligibleProviders(v, languages)
	if len(eligible) == 0 {
		pl.log.Debug().Str("video", v.Name).Msg("No provider eligible")
		return nil, nil
	}

	var wg sync.WaitGroup
	resultsChan := make(chan listTaskResult, len(eligible))

	for i, name := range eligible {
		wg.Add(1)
		go func(index int, name string) {
			defer wg.Done()
			pl.workers <- struct{}{}
			defer func() { <-pl.workers }()

			subs, err := pl.listProvider(ctx, name, v, languages)
			if err != nil {
				return
			}
			resultsChan <- listTaskResult{index: index, name: name, subtitles: subs}
		}(i, name)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	ordered := make([][]*subtitle.Subtitle, len(eligible))
	for result := range resultsChan {
		ordered[result.index] = result.subtitles
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var merged []*subtitle.Subtitle
	for _, subs := range ordered {
		for _, s := range subs {
			key := s.ProviderName + ":" + s.ID
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, s)
		}
	}
	pl.log.Info().
		Str("video", v.Name).
		Int("providers", len(eligible)).
		Int("subtitles", len(merged)).
		Msg("Listing complete")
	return merged, nil
}

// eligibleProviders filters the declaration order down to providers
// that are not discarded and can serve this video and languages.
func (pl *Pool) eligibleProviders(v *video.Video, languages language.Set) []string {
	var eligible []string
	for _, name := range pl.cfg.Providers {
		if pl.isDiscarded(name) {
			continue
		}
		s := pl.sessions[name]
		if s == nil {
			continue
		}
		if !provider.Check(s.p, v) {
			pl.log.Debug().Str("provider", name).Str("video", v.Name).Msg("Video check failed")
			continue
		}
		if len(provider.CheckLanguages(s.p, languages)) == 0 {
			pl.log.Debug().Str("provider", name).Msg("No language served")
			continue
		}
		eligible = append(eligible, name)
	}
	return eligible
}

// listProvider runs one provider's search under its session mutex,
// applying the retry and discard policy.
func (pl *Pool) listProvider(ctx context.Context, name string, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error) {
	s := pl.sessions[name]
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := pl.ensureReady(ctx, s); err != nil {
		return nil, err
	}

	providerLanguages := provider.CheckLanguages(s.p, languages)
	subs, err := pl.callList(ctx, s, v, providerLanguages)
	if err == nil {
		pl.log.Debug().Str("provider", name).Int("count", len(subs)).Msg("Provider listed")
		return subs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	err = translate(name, err)
	if provider.IsUnavailableError(err) {
		if werr := pl.wait(ctx); werr != nil {
			return nil, werr
		}
		subs, retryErr := pl.callList(ctx, s, v, providerLanguages)
		if retryErr == nil {
			return subs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = translate(name, retryErr)
	}
	pl.transition(s, name, err)
	return nil, err
}

func (pl *Pool) callList(ctx context.Context, s *session, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error) {
	opCtx, cancel := context.WithTimeout(ctx, pl.cfg.Timeout)
	defer cancel()
	return s.p.ListSubtitles(opCtx, v, languages)
}

// DownloadSubtitle fetches one subtitle through its provider. It
// returns nil only when the download succeeded and the content passes
// validation.
func (pl *Pool) DownloadSubtitle(ctx context.Context, sub *subtitle.Subtitle) error {
	name := sub.ProviderName
	s, ok := pl.sessions[name]
	if !ok {
		return provider.NewConfigError(name, "subtitle from undeclared provider")
	}
	if pl.isDiscarded(name) {
		return provider.NewProviderError(name, errors.New("provider discarded"))
	}

	pl.workers <- struct{}{}
	defer func() { <-pl.workers }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := pl.ensureReady(ctx, s); err != nil {
		return err
	}

	err := pl.callDownload(ctx, s, sub)
	if err != nil {
		if ctx.Err() != nil {
			sub.Content = nil
			return ctx.Err()
		}
		err = translate(name, err)
		if provider.IsUnavailableError(err) {
			if werr := pl.wait(ctx); werr != nil {
				return werr
			}
			if retryErr := pl.callDownload(ctx, s, sub); retryErr != nil {
				if ctx.Err() != nil {
					sub.Content = nil
					return ctx.Err()
				}
				err = translate(name, retryErr)
				pl.transition(s, name, err)
				return err
			}
			err = nil
		} else {
			pl.transition(s, name, err)
			return err
		}
	}

	if !sub.IsValid() {
		pl.log.Warn().Str("subtitle", sub.String()).Msg("Downloaded content failed validation")
		return provider.NewInvalidSubtitleError(name, sub.ID)
	}
	return nil
}

func (pl *Pool) callDownload(ctx context.Context, s *session, sub *subtitle.Subtitle) error {
	opCtx, cancel := context.WithTimeout(ctx, pl.cfg.Timeout)
	defer cancel()
	return s.p.DownloadSubtitle(opCtx, sub)
}

// scoredCandidate pairs a candidate with its selection sort keys.
type scoredCandidate struct {
	sub           *subtitle.Subtitle
	score         int
	hearingMatch  bool
	foreignMatch  bool
	providerOrder int
}

// DownloadBestSubtitles scores the candidates against the video, picks
// greedily per language and downloads with fallback on failure.
func (pl *Pool) DownloadBestSubtitles(ctx context.Context, candidates []*subtitle.Subtitle, v *video.Video, opts DownloadOptions) ([]*subtitle.Subtitle, error) {
	threshold := score.ScaleMinScore(opts.MinScore, v.Kind)
	prefs := opts.prefs()

	order := make(map[string]int, len(pl.cfg.Providers))
	for i, name := range pl.cfg.Providers {
		order[name] = i
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for _, sub := range candidates {
		matches := sub.GetMatches(v, prefs)
		providerOrder, ok := order[sub.ProviderName]
		if !ok {
			providerOrder = len(pl.cfg.Providers)
		}
		sc := scoredCandidate{
			sub:           sub,
			score:         score.Compute(matches, v.Kind),
			hearingMatch:  matches.Has("hearing_impaired"),
			foreignMatch:  matches.Has("foreign_only"),
			providerOrder: providerOrder,
		}
		pl.log.Debug().
			Str("subtitle", sub.String()).
			Int("score", sc.score).
			Strs("matches", matches.Names()).
			Msg("Candidate scored")
		scored = append(scored, sc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.hearingMatch != b.hearingMatch {
			return a.hearingMatch
		}
		if a.foreignMatch != b.foreignMatch {
			return a.foreignMatch
		}
		return a.providerOrder < b.providerOrder
	})

	var downloaded []*subtitle.Subtitle
	accepted := make(language.Set)
	for _, c := range scored {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}
		if c.score < threshold {
			pl.log.Debug().Str("subtitle", c.sub.String()).Int("score", c.score).Int("min", threshold).Msg("Score below minimum")
			break
		}
		if ignored(opts.IgnoreIDs, c.sub) {
			continue
		}
		if len(opts.Languages) > 0 && !opts.Languages.Contains(c.sub.Language) {
			continue
		}
		if accepted.Contains(c.sub.Language) {
			continue
		}
		if err := pl.DownloadSubtitle(ctx, c.sub); err != nil {
			if ctx.Err() != nil {
				return downloaded, ctx.Err()
			}
			pl.log.Debug().Str("subtitle", c.sub.String()).Err(err).Msg("Download failed, trying next candidate")
			continue
		}
		downloaded = append(downloaded, c.sub)
		accepted.Add(c.sub.Language)

		if opts.OnlyOne {
			break
		}
		if len(opts.Languages) > 0 && len(opts.Languages.Diff(accepted)) == 0 {
			break
		}
	}
	return downloaded, nil
}

func ignored(ids map[string]struct{}, s *subtitle.Subtitle) bool {
	if len(ids) == 0 {
		return false
	}
	if _, ok := ids[s.ID]; ok {
		return true
	}
	_, ok := ids[s.ProviderName+":"+s.ID]
	return ok
}

// Terminate closes every initialized provider session. Errors are
// logged and swallowed.
func (pl *Pool) Terminate(ctx context.Context) {
	for _, name := range pl.cfg.Providers {
		s := pl.sessions[name]
		if s == nil {
			continue
		}
		s.mu.Lock()
		if s.state != stateNew {
			termCtx, cancel := context.WithTimeout(ctx, pl.cfg.Timeout)
			if err := s.p.Terminate(termCtx); err != nil {
				pl.log.Warn().Str("provider", name).Err(err).Msg("Terminate failed")
			}
			cancel()
			s.state = stateClosed
		}
		s.mu.Unlock()
	}
}

// ensureReady initializes the session if it is new or was closed after
// an authentication failure. Callers hold the session mutex.
func (pl *Pool) ensureReady(ctx context.Context, s *session) error {
	if s.state == stateReady {
		return nil
	}
	name := s.p.Name()
	initCtx, cancel := context.WithTimeout(ctx, pl.cfg.Timeout)
	defer cancel()
	if err := s.p.Initialize(initCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = translate(name, err)
		pl.transition(s, name, err)
		return err
	}
	s.state = stateReady
	pl.log.Debug().Str("provider", name).Msg("Provider initialized")
	return nil
}

// transition applies the error policy: authentication failures close
// the session and get one re-initialization per pool, transient and
// quota failures discard the provider, a not-initialized error
// propagates untouched.
func (pl *Pool) transition(s *session, name string, err error) {
	switch {
	case provider.IsAuthError(err):
		pl.mu.Lock()
		retried := pl.authRetried[name]
		pl.authRetried[name] = true
		pl.mu.Unlock()
		if retried {
			pl.discard(name, err)
		} else {
			s.state = stateClosed
			pl.log.Warn().Str("provider", name).Msg("Authentication failed, will re-initialize once")
		}
	case errors.Is(err, provider.ErrNotInitialized):
		// Programming error, no state change.
	default:
		pl.discard(name, err)
	}
}

// translate folds uncategorized errors into the provider taxonomy.
func translate(name string, err error) error {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewTimeoutError(name, err)
	}
	return provider.NewProviderError(name, err)
}

// wait blocks for the retry backoff, honoring cancellation.
func (pl *Pool) wait(ctx context.Context) error {
	timer := time.NewTimer(pl.cfg.RetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
