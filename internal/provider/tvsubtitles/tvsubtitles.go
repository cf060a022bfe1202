// Package tvsubtitles implements the TVsubtitles provider by scraping
// the site's search, season and episode pages. Show and episode ids
// are cached because they are stable and cost one page fetch each.
package tvsubtitles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
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

// Name is the registered provider name.
const Name = "tvsubtitles"

const (
	defaultBaseURL = "http://www.tvsubtitles.net"
	defaultTimeout = 30 * time.Second

	showTTL    = 7 * 24 * time.Hour
	episodeTTL = 24 * time.Hour
)

var (
	showLinkPattern     = regexp.MustCompile(`^/tvshow-(\d+)\.html$`)
	showTextPattern     = regexp.MustCompile(`^(.+?) \((\d{4})-(?:\d{4})?\)$`)
	episodeLinkPattern  = regexp.MustCompile(`^episode-(\d+)\.html$`)
	subtitleLinkPattern = regexp.MustCompile(`^/subtitle-(\d+)\.html$`)
	flagPattern         = regexp.MustCompile(`flags/([a-z]+)\.gif$`)
)

// Provider scrapes tvsubtitles.net.
type Provider struct {
	baseURL *url.URL
	http    *http.Client
	cache   *cache.Cache
	log     zerolog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New builds the provider.
func New(s provider.Settings, c *cache.Cache, log zerolog.Logger) (*Provider, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rawURL := s.BaseURL
	if rawURL == "" {
		rawURL = defaultBaseURL
	}
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, provider.NewConfigError(Name, fmt.Sprintf("invalid base_url: %v", err))
	}
	return &Provider{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   c,
		log:     log.With().Str("provider", Name).Logger(),
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capabilities() provider.Capabilities {
	set := language.NewSet()
	for _, l := range language.All() {
		if l.Alpha2() != "" {
			set.Add(l)
		}
	}
	set.Add(language.Make("por", "BR", ""))
	return provider.Capabilities{
		Languages:  set,
		VideoKinds: []video.Kind{video.KindEpisode},
	}
}

// Initialize is a no-op, the site needs no session.
func (p *Provider) Initialize(ctx context.Context) error { return nil }

// Terminate is a no-op.
func (p *Provider) Terminate(ctx context.Context) error { return nil }

// ListSubtitles resolves the series to a show id, the season to its
// episode ids and scrapes the episode page for subtitle rows.
func (p *Provider) ListSubtitles(ctx context.Context, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error) {
	if v.Kind != video.KindEpisode || v.Series == "" {
		return nil, nil
	}

	showID, err := p.searchShowID(ctx, v.Series, v.Year)
	if err != nil {
		return nil, err
	}
	if showID == 0 {
		p.log.Debug().Str("series", v.Series).Msg("Show not found")
		return nil, nil
	}

	episodeIDs, err := p.episodeIDs(ctx, showID, v.Season)
	if err != nil {
		return nil, err
	}
	episodeID, ok := episodeIDs[v.Episode]
	if !ok {
		p.log.Debug().Int("show", showID).Int("season", v.Season).Int("episode", v.Episode).Msg("Episode not listed")
		return nil, nil
	}

	subs, err := p.episodeSubtitles(ctx, episodeID, v, languages)
	if err != nil {
		return nil, err
	}
	p.log.Debug().
		Str("video", v.Name).
		Int("episode_id", episodeID).
		Int("found", len(subs)).
		Msg("Scrape completed")
	return subs, nil
}

// searchShowID posts the series name to the search page and picks the
// suggestion whose name matches, honoring the start year when known.
func (p *Provider) searchShowID(ctx context.Context, series string, year int) (int, error) {
	key := cache.Key(Name, "show", matcher.Normalize(series), strconv.Itoa(year))
	if p.cache != nil {
		if id, ok := p.cache.GetInt(key); ok {
			return id, nil
		}
	}

	form := url.Values{"q": {series}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL.JoinPath("search.php").String(), strings.NewReader(form.Encode()))
	if err != nil {
		return 0, provider.NewProviderError(Name, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	doc, err := p.fetchDocument(req)
	if err != nil {
		return 0, err
	}

	var showID int
	doc.Find(`a[href^="/tvshow-"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		link := showLinkPattern.FindStringSubmatch(href)
		if link == nil {
			return true
		}
		text := showTextPattern.FindStringSubmatch(strings.TrimSpace(sel.Text()))
		if text == nil {
			return true
		}
		if matcher.Normalize(text[1]) != matcher.Normalize(series) {
			return true
		}
		if year != 0 {
			if first, _ := strconv.Atoi(text[2]); first != year {
				return true
			}
		}
		showID, _ = strconv.Atoi(link[1])
		return false
	})

	if p.cache != nil && showID != 0 {
		p.cache.SetWithTTL(key, showID, showTTL)
	}
	return showID, nil
}

// episodeIDs scrapes the season page's episode table.
func (p *Provider) episodeIDs(ctx context.Context, showID, season int) (map[int]int, error) {
	key := cache.Key(Name, "episodes", strconv.Itoa(showID), strconv.Itoa(season))
	if p.cache != nil {
		if v, ok := p.cache.Get(key); ok {
			if ids, ok := v.(map[int]int); ok {
				return ids, nil
			}
		}
	}

	page := fmt.Sprintf("tvshow-%d-%d.html", showID, season)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL.JoinPath(page).String(), nil)
	if err != nil {
		return nil, provider.NewProviderError(Name, err)
	}
	doc, err := p.fetchDocument(req)
	if err != nil {
		return nil, err
	}

	ids := make(map[int]int)
	doc.Find("table#table5 tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		href, _ := cells.Eq(1).Find("a").Attr("href")
		link := episodeLinkPattern.FindStringSubmatch(href)
		if link == nil {
			return
		}
		// The first cell holds the number as "3x10".
		parts := strings.SplitN(strings.TrimSpace(cells.Eq(0).Text()), "x", 2)
		if len(parts) != 2 {
			return
		}
		episode, err := strconv.Atoi(parts[1])
		if err != nil {
			return
		}
		id, _ := strconv.Atoi(link[1])
		ids[episode] = id
	})

	if p.cache != nil && len(ids) > 0 {
		p.cache.SetWithTTL(key, ids, episodeTTL)
	}
	return ids, nil
}

// episodeSubtitles scrapes the subtitle rows of one episode page.
func (p *Provider) episodeSubtitles(ctx context.Context, episodeID int, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error) {
	page := fmt.Sprintf("episode-%d.html", episodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL.JoinPath(page).String(), nil)
	if err != nil {
		return nil, provider.NewProviderError(Name, err)
	}
	doc, err := p.fetchDocument(req)
	if err != nil {
		return nil, err
	}

	var subs []*subtitle.Subtitle
	doc.Find(`a[href^="/subtitle-"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		link := subtitleLinkPattern.FindStringSubmatch(href)
		if link == nil {
			return
		}
		row := sel.Find("div.subtitlen")
		if row.Length() == 0 {
			return
		}

		src, _ := row.Find("h5 img").Attr("src")
		flag := flagPattern.FindStringSubmatch(src)
		if flag == nil {
			return
		}
		l, err := language.Reverse(Name, flag[1])
		if err != nil || !languages.Contains(l) {
			return
		}

		release := strings.TrimSpace(row.Find("h5").Text())
		rip := strings.TrimSpace(row.Find(`p[title="rip"]`).Text())

		s := &subtitle.Subtitle{
			ProviderName: Name,
			ID:           link[1],
			Language:     l,
			PageLink:     p.baseURL.JoinPath(fmt.Sprintf("subtitle-%s.html", link[1])).String(),
		}
		if release != "" {
			s.Releases = append(s.Releases, release)
		}
		if rip != "" {
			s.Releases = append(s.Releases, rip)
		}
		s.MatchFunc = matchFunc(s, v.Series, v.Season, v.Episode, v.Year)
		subs = append(subs, s)
	})
	return subs, nil
}

// matchFunc asserts the page's own series/season/episode identity on
// top of the release-name guesses, since every row on an episode page
// belongs to that episode.
func matchFunc(s *subtitle.Subtitle, series string, season, episode, year int) func(*video.Video) matcher.Set {
	return func(v *video.Video) matcher.Set {
		m := make(matcher.Set)
		for _, release := range s.Releases {
			m = m.Union(matcher.NameMatches(v, release, true))
		}
		if series != "" && matcher.Normalize(series) == matcher.Normalize(v.Series) {
			m.Add("series")
		}
		if season > 0 && season == v.Season {
			m.Add("season")
		}
		if episode > 0 && episode == v.Episode {
			m.Add("episode")
		}
		if year > 0 && year == v.Year {
			m.Add("year")
		}
		return m
	}
}

// DownloadSubtitle fetches the download endpoint, which serves a ZIP
// holding the subtitle file.
func (p *Provider) DownloadSubtitle(ctx context.Context, s *subtitle.Subtitle) error {
	page := fmt.Sprintf("download-%s.html", s.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL.JoinPath(page).String(), nil)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return provider.NewUnavailableError(Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	content, err := archive.ExtractSubtitle(data)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	s.Content = content
	p.log.Debug().
		Str("subtitle", s.ID).
		Int("bytes", len(content)).
		Msg("Subtitle downloaded")
	return nil
}

func (p *Provider) fetchDocument(req *http.Request) (*goquery.Document, error) {
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, provider.NewUnavailableError(Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, provider.NewProviderError(Name, err)
	}
	return doc, nil
}

func statusError(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return provider.NewTooManyRequestsError(Name)
	case status >= 500:
		return provider.NewUnavailableError(Name, fmt.Errorf("status %d", status))
	default:
		return provider.NewProviderError(Name, fmt.Errorf("status %d", status))
	}
}

// converter extends the alpha-2 codes with the site's own flag names.
type converter struct{}

var specialLanguages = map[string]language.Language{
	"br": language.Make("por", "BR", ""),
	"ua": language.Make("ukr", "", ""),
	"gr": language.Make("ell", "", ""),
	"cn": language.Make("zho", "", ""),
	"cz": language.Make("ces", "", ""),
	"jp": language.Make("jpn", "", ""),
}

var specialCodes = func() map[language.Language]string {
	m := make(map[language.Language]string, len(specialLanguages))
	for code, l := range specialLanguages {
		m[l] = code
	}
	return m
}()

func (converter) Convert(l language.Language) (string, error) {
	if code, ok := specialCodes[l]; ok {
		return code, nil
	}
	if a2 := l.Alpha2(); a2 != "" {
		return a2, nil
	}
	return "", fmt.Errorf("%w: %s to %s", language.ErrNoConversion, l, Name)
}

func (converter) Reverse(code string) (language.Language, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if l, ok := specialLanguages[code]; ok {
		return l, nil
	}
	return language.FromAlpha2(code)
}

func init() {
	language.RegisterConverter(Name, converter{})
	provider.Register(Name, func(s provider.Settings, c *cache.Cache, log zerolog.Logger) (provider.Provider, error) {
		return New(s, c, log)
	})
}
