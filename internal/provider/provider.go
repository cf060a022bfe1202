// Package provider defines the subtitle provider interface, its error
// taxonomy and the registry the pool draws providers from.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
)

// Capabilities declares what a provider can serve. The pool consults
// it before dispatching any network work.
type Capabilities struct {
	// Languages the provider can search for.
	Languages language.Set
	// VideoKinds the provider indexes.
	VideoKinds []video.Kind
	// RequiredHash names the hash algorithm the provider needs on the
	// video, empty when none.
	RequiredHash string
}

// SupportsKind reports whether the provider indexes videos of kind k.
func (c Capabilities) SupportsKind(k video.Kind) bool {
	for _, kind := range c.VideoKinds {
		if kind == k {
			return true
		}
	}
	return false
}

// Provider is a subtitle source. Implementations are stateful
// sessions: Initialize before use, Terminate when done. The pool
// serializes calls per provider, implementations need not be
// goroutine-safe.
type Provider interface {
	Name() string
	Capabilities() Capabilities

	// Initialize opens the session, authenticating when credentials
	// were configured.
	Initialize(ctx context.Context) error

	// Terminate closes the session. Idempotent.
	Terminate(ctx context.Context) error

	// ListSubtitles searches for subtitles matching the video in any
	// of the given languages.
	ListSubtitles(ctx context.Context, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error)

	// DownloadSubtitle fetches the subtitle content and stores it on
	// s.Content.
	DownloadSubtitle(ctx context.Context, s *subtitle.Subtitle) error
}

// Check reports whether the provider can serve this video: the video's
// kind is supported and the required hash, if any, is present.
func Check(p Provider, v *video.Video) bool {
	caps := p.Capabilities()
	if !caps.SupportsKind(v.Kind) {
		return false
	}
	if caps.RequiredHash == "" {
		return true
	}
	_, ok := v.Hashes[caps.RequiredHash]
	return ok
}

// CheckLanguages returns the requested languages the provider can
// serve.
func CheckLanguages(p Provider, languages language.Set) language.Set {
	return languages.Intersect(p.Capabilities().Languages)
}

// Settings carries per-provider configuration, decoded from the
// provider.<name> config section. Providers read the fields they use
// and must fail construction on malformed values, not later.
type Settings struct {
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	APIKey    string        `mapstructure:"api_key"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// BaseURL overrides the provider's default endpoint, for mirrors
	// and self-hosted instances.
	BaseURL string `mapstructure:"base_url"`
	// Definition points a file-defined provider at its YAML source.
	Definition string `mapstructure:"definition"`
}

// Factory constructs a provider from its settings. The cache is the
// process-wide store for provider tokens and lookup results.
type Factory func(s Settings, c *cache.Cache, log zerolog.Logger) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a provider factory under name. Provider packages call
// it from init; later registrations replace earlier ones.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New constructs the named provider.
func New(name string, s Settings, c *cache.Cache, log zerolog.Logger) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, NewConfigError(name, fmt.Sprintf("unknown provider %q", name))
	}
	return f(s, c, log)
}

// Registered returns the registered provider names, sorted.
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
