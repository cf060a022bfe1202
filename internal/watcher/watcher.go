// Package watcher periodically scans the configured directories and
// downloads missing subtitles through the engine.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/engine"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/notify"
	"github.com/sublight/sublight/internal/video"
)

// Config contains the watcher schedule and the run parameters handed
// to the engine on every scan.
type Config struct {
	Directories []string
	Interval    time.Duration
	// Jitter widens each interval by a random amount up to its value,
	// spreading provider load across instances.
	Jitter    time.Duration
	Languages language.Set
	Options   engine.Options
	// Notifier, when set, is told about every scan that downloaded
	// something.
	Notifier *notify.Notifier
}

// Watcher owns the scan schedule.
type Watcher struct {
	cfg       Config
	engine    *engine.Engine
	scheduler gocron.Scheduler
	logger    zerolog.Logger
}

// New creates a watcher. At least one directory must be configured.
func New(cfg Config, eng *engine.Engine, logger zerolog.Logger) (*Watcher, error) {
	if len(cfg.Directories) == 0 {
		return nil, errors.New("no directories to watch")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}

	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Watcher{
		cfg:       cfg,
		engine:    eng,
		scheduler: gs,
		logger:    logger.With().Str("component", "watcher").Logger(),
	}, nil
}

// Start schedules the periodic scan and runs the first one
// immediately. Scans never overlap; a scan still running when the next
// interval fires pushes the schedule back instead.
func (w *Watcher) Start() error {
	definition := gocron.DurationJob(w.cfg.Interval)
	if w.cfg.Jitter > 0 {
		definition = gocron.DurationRandomJob(w.cfg.Interval, w.cfg.Interval+w.cfg.Jitter)
	}

	_, err := w.scheduler.NewJob(
		definition,
		gocron.NewTask(w.scan),
		gocron.WithName("library-scan"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create scan job: %w", err)
	}

	w.logger.Info().
		Strs("directories", w.cfg.Directories).
		Dur("interval", w.cfg.Interval).
		Dur("jitter", w.cfg.Jitter).
		Msg("Starting watcher")
	w.scheduler.Start()
	return nil
}

// Stop stops the scheduler gracefully.
func (w *Watcher) Stop() error {
	w.logger.Info().Msg("Stopping watcher")
	return w.scheduler.Shutdown()
}

// scan walks every configured directory and feeds the engine.
func (w *Watcher) scan() {
	start := time.Now()

	var videos []*video.Video
	for _, dir := range w.cfg.Directories {
		found, err := video.ScanDirectory(dir)
		if err != nil {
			w.logger.Error().Err(err).Str("directory", dir).Msg("Scan failed")
			continue
		}
		videos = append(videos, found...)
	}
	if len(videos) == 0 {
		w.logger.Debug().Msg("No videos found")
		return
	}

	result, err := w.engine.DownloadBestSubtitles(context.Background(), videos, w.cfg.Languages, w.cfg.Options)
	if err != nil {
		w.logger.Error().Err(err).Msg("Scan run failed")
		return
	}

	w.logger.Info().
		Int("videos", len(videos)).
		Int("subtitles", result.Count()).
		Dur("duration", time.Since(start)).
		Msg("Scan completed")

	if w.cfg.Notifier != nil && result.Count() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := w.cfg.Notifier.Downloaded(ctx, notify.FromResult(result)); err != nil {
			w.logger.Warn().Err(err).Msg("Download notification failed")
		}
	}
}
