// Package engine drives a full acquisition run: pre-check videos,
// refine them, list candidates through the provider pool, download the
// best per language, save next to the video and record history. Every
// run carries a correlation id through logs and history rows.
package engine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/history"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/provider/pool"
	"github.com/sublight/sublight/internal/refiner"
	"github.com/sublight/sublight/internal/score"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
)

// Config holds the engine's construction inputs.
type Config struct {
	// Pool configures the provider pool built for each run.
	Pool pool.Config
	// Refiners is the refinement order.
	Refiners []string
	// RefinerSettings per refiner name.
	RefinerSettings map[string]refiner.Settings
}

// Options steer one run.
type Options struct {
	// MinScore is a 0-100 percentage of the video kind's hash weight.
	MinScore int
	// HearingImpaired and ForeignOnly are tri-state preferences.
	HearingImpaired *bool
	ForeignOnly     *bool
	// OnlyOne saves a single subtitle per video, without a language
	// suffix.
	OnlyOne bool
	// Age skips videos whose file is older.
	Age time.Duration
	// Force bypasses the pre-checks and re-runs refiners.
	Force bool
	// IgnoreIDs blacklists candidates by subtitle ID, bare or as
	// provider:id.
	IgnoreIDs map[string]struct{}
	// Directory overrides the save location, default is next to the
	// video.
	Directory string
}

// Result maps each processed video to the subtitles downloaded and
// saved for it.
type Result map[*video.Video][]*subtitle.Subtitle

// Count returns the total number of saved subtitles.
func (r Result) Count() int {
	n := 0
	for _, subs := range r {
		n += len(subs)
	}
	return n
}

// ExitCode maps a run result to the process exit code: 0 when at least
// one subtitle was saved or nothing was requested, 1 otherwise.
func ExitCode(r Result, requested int) int {
	if requested == 0 || r.Count() > 0 {
		return 0
	}
	return 1
}

// Engine owns the refiner pipeline and optional history store, and
// builds a fresh provider pool per run so provider discards reset
// between runs.
type Engine struct {
	cfg      Config
	cache    *cache.Cache
	refiners *refiner.Pipeline
	history  *history.Store
	log      zerolog.Logger
}

// New builds the engine. The history store may be nil. Provider and
// refiner configuration errors surface here, not mid-run.
func New(cfg Config, c *cache.Cache, hist *history.Store, log zerolog.Logger) (*Engine, error) {
	refiners, err := refiner.FromConfig(cfg.Refiners, cfg.RefinerSettings, c, log)
	if err != nil {
		return nil, err
	}
	if _, err := pool.New(cfg.Pool, c, log); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		cache:    c,
		refiners: refiners,
		history:  hist,
		log:      log.With().Str("component", "engine").Logger(),
	}, nil
}

// Refiners returns the configured refinement order.
func (e *Engine) Refiners() []string {
	return e.refiners.Names()
}

// Refine runs the configured refiners over v.
func (e *Engine) Refine(ctx context.Context, v *video.Video, force bool) error {
	return e.refiners.Refine(ctx, v, refiner.Options{Force: force})
}

// DownloadBestSubtitles runs the pipeline over the videos. Videos that
// need no subtitles are skipped before any network work; the rest are
// refined in sequence and served one by one from a run-scoped pool.
// Cancellation returns the partial result.
func (e *Engine) DownloadBestSubtitles(ctx context.Context, videos []*video.Video, languages language.Set, opts Options) (Result, error) {
	runID := uuid.NewString()
	log := e.log.With().Str("run_id", runID).Logger()

	result := make(Result)

	now := time.Now()
	var accepted []*video.Video
	for _, v := range videos {
		if !opts.Force && !video.Check(v, languages, opts.Age, opts.OnlyOne, now) {
			log.Debug().Stringer("video", v).Msg("Video needs no subtitles, skipping")
			continue
		}
		accepted = append(accepted, v)
	}
	if len(accepted) == 0 {
		log.Info().Int("videos", len(videos)).Msg("No videos need subtitles")
		return result, nil
	}

	pl, err := pool.New(e.cfg.Pool, e.cache, log)
	if err != nil {
		return nil, err
	}
	defer pl.Terminate(ctx)

	for _, v := range accepted {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.refiners.Refine(ctx, v, refiner.Options{Force: opts.Force}); err != nil {
			return result, err
		}

		candidates, err := pl.ListSubtitles(ctx, v, languages)
		if err != nil {
			return result, err
		}

		downloaded, err := pl.DownloadBestSubtitles(ctx, candidates, v, e.downloadOptions(ctx, v, languages, opts, log))
		if err != nil {
			return result, err
		}

		saved := e.save(v, downloaded, opts, log)
		e.record(ctx, runID, v, saved, opts, log)
		result[v] = saved
	}

	log.Info().
		Int("videos", len(accepted)).
		Int("subtitles", result.Count()).
		Strs("discarded", pl.Discarded()).
		Msg("Run finished")
	return result, nil
}

// downloadOptions translates run options to pool selection options,
// folding past downloads into the blacklist so an only-one re-run
// fetches something new.
func (e *Engine) downloadOptions(ctx context.Context, v *video.Video, languages language.Set, opts Options, log zerolog.Logger) pool.DownloadOptions {
	ignore := opts.IgnoreIDs
	if opts.OnlyOne && !opts.Force && e.history != nil {
		past, err := e.history.DownloadedIDs(ctx, v.Name)
		if err != nil {
			log.Warn().Err(err).Msg("Could not load download history, selecting without blacklist")
		} else if len(past) > 0 {
			merged := make(map[string]struct{}, len(ignore)+len(past))
			for id := range ignore {
				merged[id] = struct{}{}
			}
			for id := range past {
				merged[id] = struct{}{}
			}
			ignore = merged
		}
	}
	return pool.DownloadOptions{
		Languages:       languages,
		MinScore:        opts.MinScore,
		HearingImpaired: opts.HearingImpaired,
		ForeignOnly:     opts.ForeignOnly,
		OnlyOne:         opts.OnlyOne,
		IgnoreIDs:       ignore,
	}
}

// save writes each downloaded subtitle next to its video, or into the
// override directory. Save failures drop the subtitle from the result.
func (e *Engine) save(v *video.Video, subs []*subtitle.Subtitle, opts Options, log zerolog.Logger) []*subtitle.Subtitle {
	saved := make([]*subtitle.Subtitle, 0, len(subs))
	for _, s := range subs {
		l := s.Language
		if opts.OnlyOne {
			l = language.Undefined
		}
		path := subtitle.Path(v.Name, l, s.Ext())
		if opts.Directory != "" {
			path = filepath.Join(opts.Directory, filepath.Base(path))
		}
		if err := s.Save(path); err != nil {
			log.Error().Err(err).Str("subtitle", s.String()).Str("path", path).Msg("Could not save subtitle")
			continue
		}
		log.Info().Str("subtitle", s.String()).Str("path", path).Msg("Subtitle saved")
		saved = append(saved, s)
	}
	return saved
}

func (e *Engine) record(ctx context.Context, runID string, v *video.Video, subs []*subtitle.Subtitle, opts Options, log zerolog.Logger) {
	if e.history == nil {
		return
	}
	prefs := subtitle.Preferences{
		HearingImpaired: opts.HearingImpaired,
		ForeignOnly:     opts.ForeignOnly,
	}
	for _, s := range subs {
		entry := history.Entry{
			RunID:      runID,
			VideoPath:  v.Name,
			Provider:   s.ProviderName,
			SubtitleID: s.ID,
			Language:   s.Language.String(),
			Score:      score.Compute(s.GetMatches(v, prefs), v.Kind),
		}
		if _, err := e.history.Record(ctx, entry); err != nil {
			log.Warn().Err(err).Str("subtitle", s.String()).Msg("Could not record download")
		}
	}
}
