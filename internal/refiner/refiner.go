// Package refiner enriches videos with information their names alone
// cannot carry: file hashes, embedded track metadata and external
// database ids. Refiners run as an ordered pipeline where failure is
// logged and skipped, never fatal.
package refiner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/video"
)

// Options steer a refinement run.
type Options struct {
	// Force re-runs refiners that would otherwise skip an already
	// refined video.
	Force bool
}

// Refiner fills in missing fields of a video from one source. Refine
// must be idempotent: running it on an already refined video changes
// nothing unless Force is set.
type Refiner interface {
	Name() string
	Refine(ctx context.Context, v *video.Video, opts Options) error
}

// Settings carries per-refiner configuration, decoded from the
// refiner.<name> config section.
type Settings struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Command overrides the probe binary for the metadata refiner.
	Command string `mapstructure:"command"`
}

// Factory constructs a refiner from its settings.
type Factory func(s Settings, c *cache.Cache, log zerolog.Logger) (Refiner, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a refiner factory under name. Refiner packages call it
// from init; later registrations replace earlier ones.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New constructs the named refiner.
func New(name string, s Settings, c *cache.Cache, log zerolog.Logger) (Refiner, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown refiner %q", name)
	}
	return f(s, c, log)
}

// Registered returns the registered refiner names, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pipeline runs refiners in order. Cheap local refiners go first,
// network refiners later; the order is the caller's.
type Pipeline struct {
	refiners []Refiner
	log      zerolog.Logger
}

// NewPipeline builds a pipeline over the given refiners.
func NewPipeline(refiners []Refiner, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		refiners: refiners,
		log:      log.With().Str("component", "refiner").Logger(),
	}
}

// FromConfig constructs the named refiners in order and wraps them in
// a pipeline.
func FromConfig(names []string, settings map[string]Settings, c *cache.Cache, log zerolog.Logger) (*Pipeline, error) {
	refiners := make([]Refiner, 0, len(names))
	for _, name := range names {
		r, err := New(name, settings[name], c, log)
		if err != nil {
			return nil, err
		}
		refiners = append(refiners, r)
	}
	return NewPipeline(refiners, log), nil
}

// Names returns the pipeline's refiner names in run order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.refiners))
	for i, r := range p.refiners {
		names[i] = r.Name()
	}
	return names
}

// Refine runs every refiner on the video in order. A refiner error is
// logged and the next refiner runs on the unchanged video; only context
// cancellation aborts the run.
func (p *Pipeline) Refine(ctx context.Context, v *video.Video, opts Options) error {
	for _, r := range p.refiners {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Refine(ctx, v, opts); err != nil {
			p.log.Warn().
				Err(err).
				Str("refiner", r.Name()).
				Str("video", v.Name).
				Msg("Refiner failed, continuing")
		}
	}
	return nil
}
