package main

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/config"
	"github.com/sublight/sublight/internal/engine"
	"github.com/sublight/sublight/internal/history"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/logger"
	"github.com/sublight/sublight/internal/notify"
	"github.com/sublight/sublight/internal/provider"
	"github.com/sublight/sublight/internal/provider/custom"
	"github.com/sublight/sublight/internal/provider/pool"
)

// app bundles the pieces every subcommand assembles: configuration,
// logging, the cache, the optional history store and the engine.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	cache    *cache.Cache
	hist     *history.Store
	engine   *engine.Engine
	notifier *notify.Notifier
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	a := &app{cfg: cfg, log: log}

	if cfg.Download.Definitions != "" {
		names, err := custom.LoadDirectory(cfg.Download.Definitions, log.Logger)
		if err != nil {
			a.close()
			return nil, err
		}
		log.Debug().Strs("providers", names).Msg("Loaded provider definitions")
	}

	a.cache = cache.New(cache.Config{
		TTL:      cfg.Cache.TTL,
		MaxItems: cfg.Cache.MaxItems,
	})

	if cfg.History.Path != "" {
		hist, err := history.Open(cfg.History.Path, log.Logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.hist = hist
	}

	eng, err := engine.New(engine.Config{
		Pool:            a.poolConfig(),
		Refiners:        cfg.Download.Refiners,
		RefinerSettings: cfg.Refiners,
	}, a.cache, a.hist, log.Logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine = eng

	if cfg.Notify.Enabled() {
		a.notifier = notify.New(notify.Config{
			URL:      cfg.Notify.URL,
			Method:   cfg.Notify.Method,
			Username: cfg.Notify.Username,
			Password: cfg.Notify.Password,
			Headers:  cfg.Notify.Headers,
		}, nil, log.Logger)
	}

	return a, nil
}

// poolConfig resolves the provider list. An explicitly configured
// list is taken as is, configuration errors and all. The default is
// every registered provider that can be constructed from the
// available settings, so installs without API keys still get the
// key-less providers.
func (a *app) poolConfig() pool.Config {
	providers := a.cfg.Download.Providers
	if len(providers) == 0 {
		for _, name := range provider.Registered() {
			if name == custom.Name {
				continue
			}
			if _, err := provider.New(name, a.cfg.Providers[name], a.cache, zerolog.Nop()); err != nil {
				a.log.Debug().Err(err).Str("provider", name).Msg("Provider not configured, skipping")
				continue
			}
			providers = append(providers, name)
		}
	}
	return pool.Config{
		Providers:  providers,
		Settings:   a.cfg.Providers,
		MaxWorkers: a.cfg.Download.MaxWorkers,
	}
}

// languages parses the configured language list.
func (a *app) languages() (language.Set, error) {
	langs, err := language.ParseSet(a.cfg.Download.Languages)
	if err != nil {
		return nil, err
	}
	if len(langs) == 0 {
		return nil, errors.New("no languages configured")
	}
	return langs, nil
}

// options builds engine options from the configured defaults.
func (a *app) options() engine.Options {
	d := a.cfg.Download
	return engine.Options{
		MinScore:        d.MinScore,
		HearingImpaired: d.HearingImpaired,
		ForeignOnly:     d.ForeignOnly,
		OnlyOne:         d.OnlyOne,
		Age:             d.Age,
		Force:           d.Force,
		IgnoreIDs:       d.IgnoreSet(),
		Directory:       d.Directory,
	}
}

func (a *app) close() {
	if a.hist != nil {
		_ = a.hist.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}
