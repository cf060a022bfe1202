// Package mock provides an in-memory subtitle provider with canned
// results and failure injection, for tests and offline runs.
package mock

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/provider"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
)

const sampleContent = `1
00:00:01,000 --> 00:00:03,000
Canned subtitle line one.

2
00:00:04,000 --> 00:00:06,000
Canned subtitle line two.
`

// Options configures a mock provider's capabilities, catalog and
// injected failures.
type Options struct {
	Languages    language.Set
	Kinds        []video.Kind
	RequiredHash string

	// Subtitles is the canned catalog. When nil, ListSubtitles
	// fabricates one subtitle per requested language.
	Subtitles []*subtitle.Subtitle

	// InitErr fails every Initialize call.
	InitErr error
	// ListErr fails every ListSubtitles call.
	ListErr error
	// FailFirstLists fails only the first N ListSubtitles calls with
	// ListErr, then succeeds.
	FailFirstLists int
	// DownloadErr fails every DownloadSubtitle call.
	DownloadErr error
}

// Provider implements provider.Provider entirely in memory.
type Provider struct {
	name string
	opts Options

	initialized bool

	// Call counters for assertions.
	Initializations int
	Terminations    int
	ListCalls       int
	DownloadCalls   int
}

var _ provider.Provider = (*Provider)(nil)

// New creates a mock provider with the given name and options.
func New(name string, opts Options) *Provider {
	if opts.Languages == nil {
		opts.Languages = language.NewSet(language.Make("eng", "", ""))
	}
	if opts.Kinds == nil {
		opts.Kinds = []video.Kind{video.KindMovie, video.KindEpisode}
	}
	return &Provider{name: name, opts: opts}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Languages:    p.opts.Languages,
		VideoKinds:   p.opts.Kinds,
		RequiredHash: p.opts.RequiredHash,
	}
}

func (p *Provider) Initialize(ctx context.Context) error {
	p.Initializations++
	if p.opts.InitErr != nil {
		return p.opts.InitErr
	}
	p.initialized = true
	return nil
}

func (p *Provider) Terminate(ctx context.Context) error {
	p.Terminations++
	p.initialized = false
	return nil
}

func (p *Provider) ListSubtitles(ctx context.Context, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error) {
	p.ListCalls++
	if !p.initialized {
		return nil, provider.NewNotInitializedError(p.name)
	}
	if p.opts.ListErr != nil {
		if p.opts.FailFirstLists == 0 || p.ListCalls <= p.opts.FailFirstLists {
			return nil, p.opts.ListErr
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.opts.Subtitles != nil {
		var out []*subtitle.Subtitle
		for _, s := range p.opts.Subtitles {
			if languages.Contains(s.Language) {
				out = append(out, s)
			}
		}
		return out, nil
	}

	var out []*subtitle.Subtitle
	for i, l := range languages.Sorted() {
		out = append(out, &subtitle.Subtitle{
			ProviderName: p.name,
			ID:           fmt.Sprintf("%s-%d", p.name, i+1),
			Language:     l,
			Releases:     []string{v.Name},
		})
	}
	return out, nil
}

func (p *Provider) DownloadSubtitle(ctx context.Context, s *subtitle.Subtitle) error {
	p.DownloadCalls++
	if !p.initialized {
		return provider.NewNotInitializedError(p.name)
	}
	if p.opts.DownloadErr != nil {
		return p.opts.DownloadErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Content == nil {
		s.Content = []byte(sampleContent)
	}
	return nil
}

func init() {
	provider.Register("mock", func(_ provider.Settings, _ *cache.Cache, _ zerolog.Logger) (provider.Provider, error) {
		return New("mock", Options{}), nil
	})
}
