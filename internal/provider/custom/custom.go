package custom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/archive"
	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/matcher"
	"github.com/sublight/sublight/internal/provider"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
)

// Name is the generic factory name. It builds a provider from the
// definition file named in the settings; definitions loaded with
// LoadDirectory register under their own names instead.
const Name = "custom"

const defaultTimeout = 30 * time.Second

// Provider executes one compiled definition.
type Provider struct {
	def     *Definition
	caps    provider.Capabilities
	baseURL *url.URL
	http    *http.Client
	log     zerolog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New compiles a definition into a provider. Settings may override the
// definition's base URL and the HTTP timeout.
func New(def *Definition, s provider.Settings, log zerolog.Logger) (*Provider, error) {
	if err := def.Validate(); err != nil {
		return nil, provider.NewConfigError(Name, err.Error())
	}
	rawURL := def.BaseURL
	if s.BaseURL != "" {
		rawURL = s.BaseURL
	}
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, provider.NewConfigError(def.Name, fmt.Sprintf("invalid base_url: %v", err))
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Provider{
		def: def,
		caps: provider.Capabilities{
			Languages:  def.LanguageSet(),
			VideoKinds: def.VideoKinds(),
		},
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("provider", def.Name).Logger(),
	}, nil
}

func (p *Provider) Name() string { return p.def.Name }

func (p *Provider) Capabilities() provider.Capabilities { return p.caps }

// Initialize is a no-op, definitions describe sessionless sites.
func (p *Provider) Initialize(ctx context.Context) error { return nil }

// Terminate is a no-op.
func (p *Provider) Terminate(ctx context.Context) error { return nil }

// ListSubtitles runs the definition's search. Language-parameterized
// definitions query once per language, the rest query once and read
// the language off each row.
func (p *Provider) ListSubtitles(ctx context.Context, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error) {
	if !p.caps.SupportsKind(v.Kind) {
		return nil, nil
	}

	var subs []*subtitle.Subtitle
	seen := make(map[string]bool)
	if p.def.languageParameterized() {
		for _, l := range languages.Sorted() {
			if !p.caps.Languages.Contains(l) {
				continue
			}
			results, err := p.query(ctx, v, languages, l)
			if err != nil {
				return nil, err
			}
			for _, s := range results {
				if seen[s.ID] {
					continue
				}
				seen[s.ID] = true
				subs = append(subs, s)
			}
		}
	} else {
		results, err := p.query(ctx, v, languages, language.Undefined)
		if err != nil {
			return nil, err
		}
		subs = results
	}
	p.log.Debug().
		Str("video", v.Name).
		Int("found", len(subs)).
		Msg("Search completed")
	return subs, nil
}

// query runs one search request and parses its rows. queried is the
// language substituted into the templates, Undefined for unparameterized
// definitions.
func (p *Provider) query(ctx context.Context, v *video.Video, languages language.Set, queried language.Language) ([]*subtitle.Subtitle, error) {
	sctx := &searchContext{
		Keywords: keywords(v),
		Series:   v.Series,
		Title:    v.Title,
		Season:   v.Season,
		Episode:  v.Episode,
		Year:     v.Year,
	}
	if queried != language.Undefined {
		sctx.Language = queried.String()
	}

	path, err := evaluate(p.def.Search.Path, sctx)
	if err != nil {
		return nil, provider.NewProviderError(p.def.Name, err)
	}
	inputs, err := evaluateAll(p.def.Search.Inputs, sctx)
	if err != nil {
		return nil, provider.NewProviderError(p.def.Name, err)
	}
	endpoint, err := p.baseURL.Parse(path)
	if err != nil {
		return nil, provider.NewProviderError(p.def.Name, err)
	}
	values := url.Values{}
	for key, val := range inputs {
		values.Set(key, val)
	}

	method := strings.ToUpper(p.def.Search.Method)
	if method == "" {
		method = http.MethodGet
	}
	var req *http.Request
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		endpoint.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	}
	if err != nil {
		return nil, provider.NewProviderError(p.def.Name, err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, provider.NewUnavailableError(p.def.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, provider.NewProviderError(p.def.Name, err)
	}

	var subs []*subtitle.Subtitle
	doc.Find(p.def.Search.Rows).Each(func(_ int, row *goquery.Selection) {
		s, ok := p.parseRow(row, languages, queried)
		if ok {
			subs = append(subs, s)
		}
	})
	return subs, nil
}

// parseRow turns one result row into a subtitle, or reports false when
// a required field is missing or the language is not wanted.
func (p *Provider) parseRow(row *goquery.Selection, languages language.Set, queried language.Language) (*subtitle.Subtitle, bool) {
	fields := make(map[string]string, len(p.def.Search.Fields))
	for name, field := range p.def.Search.Fields {
		val, ok := extractField(row, field)
		if !ok {
			p.log.Debug().Str("field", name).Msg("Row dropped, missing required field")
			return nil, false
		}
		fields[name] = val
	}

	download := fields["download"]
	if download == "" {
		return nil, false
	}

	l := queried
	switch {
	case fields["language"] != "":
		parsed, err := language.FromIETF(fields["language"])
		if err != nil {
			p.log.Debug().Str("code", fields["language"]).Msg("Row dropped, unknown language")
			return nil, false
		}
		l = parsed
	case p.def.Language != "":
		l, _ = language.FromIETF(p.def.Language)
	}
	if l == language.Undefined || !languages.Contains(l) {
		return nil, false
	}

	id := fields["id"]
	if id == "" {
		id = download
	}
	s := &subtitle.Subtitle{
		ProviderName: p.def.Name,
		ID:           id,
		Language:     l,
		DownloadLink: download,
	}
	if release := fields["release"]; release != "" {
		s.Releases = append(s.Releases, release)
	}
	if page := fields["page"]; page != "" {
		if resolved, err := p.baseURL.Parse(page); err == nil {
			s.PageLink = resolved.String()
		}
	}
	s.MatchFunc = func(v *video.Video) matcher.Set {
		m := make(matcher.Set)
		for _, release := range s.Releases {
			m = m.Union(matcher.NameMatches(v, release, true))
		}
		return m
	}
	return s, true
}

// extractField reads one field from a row. The bool is false when a
// required value is absent.
func extractField(row *goquery.Selection, f Field) (string, bool) {
	if f.Text != "" {
		return f.Text, true
	}
	sel := row
	if f.Selector != "" {
		sel = row.Find(f.Selector)
	}
	if sel.Length() == 0 {
		return "", f.Optional
	}
	var val string
	if f.Attribute != "" {
		val, _ = sel.First().Attr(f.Attribute)
	} else {
		val = sel.First().Text()
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return "", f.Optional
	}
	return val, true
}

// DownloadSubtitle fetches the link and unpacks it when the payload is
// an archive.
func (p *Provider) DownloadSubtitle(ctx context.Context, s *subtitle.Subtitle) error {
	endpoint, err := p.baseURL.Parse(s.DownloadLink)
	if err != nil {
		return provider.NewProviderError(p.def.Name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return provider.NewProviderError(p.def.Name, err)
	}
	if p.def.Download.Referer != "" {
		req.Header.Set("Referer", p.def.Download.Referer)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return provider.NewUnavailableError(p.def.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return p.statusError(resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.NewProviderError(p.def.Name, err)
	}
	if archive.IsArchive(content) {
		content, err = archive.ExtractSubtitle(content)
		if err != nil {
			return provider.NewProviderError(p.def.Name, err)
		}
	}
	s.Content = content
	p.log.Debug().
		Str("subtitle", s.ID).
		Int("bytes", len(content)).
		Msg("Subtitle downloaded")
	return nil
}

func (p *Provider) statusError(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return provider.NewTooManyRequestsError(p.def.Name)
	case status >= 500:
		return provider.NewUnavailableError(p.def.Name, fmt.Errorf("status %d", status))
	default:
		return provider.NewProviderError(p.def.Name, fmt.Errorf("status %d", status))
	}
}

// keywords builds the query string for the video, series style for
// episodes and title plus year for movies.
func keywords(v *video.Video) string {
	if v.Kind == video.KindEpisode {
		return fmt.Sprintf("%s S%02dE%02d", v.Series, v.Season, v.Episode)
	}
	if v.Year != 0 {
		return fmt.Sprintf("%s %d", v.Title, v.Year)
	}
	return v.Title
}

// LoadDirectory parses every YAML definition under dir and registers
// each as a provider under its own name. It returns the registered
// names sorted.
func LoadDirectory(dir string, log zerolog.Logger) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading definitions directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := ParseDefinitionFile(path)
		if err != nil {
			return nil, err
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		provider.Register(def.Name, func(s provider.Settings, _ *cache.Cache, log zerolog.Logger) (provider.Provider, error) {
			return New(def, s, log)
		})
		names = append(names, def.Name)
		log.Debug().Str("provider", def.Name).Str("file", entry.Name()).Msg("Registered definition")
	}
	sort.Strings(names)
	return names, nil
}

func init() {
	provider.Register(Name, func(s provider.Settings, _ *cache.Cache, log zerolog.Logger) (provider.Provider, error) {
		if s.Definition == "" {
			return nil, provider.NewConfigError(Name, "definition file path is required")
		}
		def, err := ParseDefinitionFile(s.Definition)
		if err != nil {
			return nil, provider.NewConfigError(Name, err.Error())
		}
		return New(def, s, log)
	})
}
