// Package napiprojekt implements the NapiProjekt provider. Lookups key
// on the MD5 content hash alone, so the adapter requires the
// napiprojekt hash on the video and asserts a hash match on every
// result.
package napiprojekt

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/matcher"
	"github.com/sublight/sublight/internal/provider"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
	"github.com/sublight/sublight/internal/videohash"
)

// Name is the registered provider name.
const Name = "napiprojekt"

const (
	defaultBaseURL = "http://napiprojekt.pl"
	defaultTimeout = 30 * time.Second

	searchPath   = "/unit_napisy/dl.php"
	downloadPath = "/api/api-napiprojekt3.php"

	// notFoundSentinel is the literal body served when no subtitle
	// exists for the hash.
	notFoundSentinel = "NPc0"

	// clientName must be sent verbatim or the download API refuses.
	clientName    = "NapiProjektPython"
	clientVersion = "0.1"
)

// Provider talks to napiprojekt.pl.
type Provider struct {
	username string
	password string
	baseURL  *url.URL
	http     *http.Client
	log      zerolog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New builds the provider. Credentials are optional, anonymous lookups
// are allowed.
func New(s provider.Settings, log zerolog.Logger) (*Provider, error) {
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
		username: s.Username,
		password: s.Password,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		log:      log.With().Str("provider", Name).Logger(),
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Languages: language.NewSet(
			language.Make("pol", "", ""),
			language.Make("eng", "", ""),
		),
		VideoKinds:   []video.Kind{video.KindMovie, video.KindEpisode},
		RequiredHash: videohash.NapiProjekt,
	}
}

// Initialize is a no-op, the API is sessionless.
func (p *Provider) Initialize(ctx context.Context) error { return nil }

// Terminate is a no-op.
func (p *Provider) Terminate(ctx context.Context) error { return nil }

// ListSubtitles probes the lookup endpoint once per language. A body
// equal to the not-found sentinel means no subtitle for that language;
// anything else means one exists, to be fetched by DownloadSubtitle.
func (p *Provider) ListSubtitles(ctx context.Context, v *video.Video, languages language.Set) ([]*subtitle.Subtitle, error) {
	hash, ok := v.Hashes[videohash.NapiProjekt]
	if !ok || hash == "" {
		return nil, nil
	}

	var subs []*subtitle.Subtitle
	for _, l := range languages.Sorted() {
		code, err := language.Convert(Name, l)
		if err != nil {
			continue
		}
		found, err := p.probe(ctx, hash, code)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		subs = append(subs, &subtitle.Subtitle{
			ProviderName: Name,
			ID:           hash + ":" + code,
			Language:     l,
			DownloadLink: hash,
			Asserted:     matcher.Set{"hash": {}},
		})
	}
	p.log.Debug().
		Str("video", v.Name).
		Str("hash", hash).
		Int("found", len(subs)).
		Msg("Hash lookup completed")
	return subs, nil
}

func (p *Provider) probe(ctx context.Context, hash, code string) (bool, error) {
	params := url.Values{}
	params.Set("f", hash)
	params.Set("t", subhash(hash))
	params.Set("v", "other")
	params.Set("kolejka", "false")
	params.Set("nick", p.username)
	params.Set("pass", p.password)
	params.Set("napios", "posix")
	params.Set("l", code)

	endpoint := p.baseURL.JoinPath(searchPath)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return false, provider.NewProviderError(Name, err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return false, provider.NewUnavailableError(Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, statusError(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, provider.NewProviderError(Name, err)
	}
	return string(body) != notFoundSentinel, nil
}

// DownloadSubtitle fetches the subtitle through the XML API, which
// wraps the content in base64.
func (p *Provider) DownloadSubtitle(ctx context.Context, s *subtitle.Subtitle) error {
	hash := s.DownloadLink
	if hash == "" {
		return provider.NewProviderError(Name, fmt.Errorf("subtitle %s has no hash", s.ID))
	}
	code, err := language.Convert(Name, s.Language)
	if err != nil {
		return provider.NewProviderError(Name, err)
	}

	form := url.Values{}
	form.Set("downloaded_subtitles_id", hash)
	form.Set("downloaded_subtitles_lang", code)
	form.Set("downloaded_subtitles_txt", "1")
	form.Set("client", clientName)
	form.Set("client_ver", clientVersion)
	form.Set("mode", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL.JoinPath(downloadPath).String(), strings.NewReader(form.Encode()))
	if err != nil {
		return provider.NewProviderError(Name, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return provider.NewUnavailableError(Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	var payload struct {
		Status    string `xml:"status"`
		Subtitles struct {
			ID      string `xml:"id"`
			Content string `xml:"content"`
		} `xml:"subtitles"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return provider.NewProviderError(Name, err)
	}
	if payload.Status != "success" {
		return provider.NewProviderError(Name, fmt.Errorf("subtitle %s no longer available", s.ID))
	}
	content, err := base64.StdEncoding.DecodeString(payload.Subtitles.Content)
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

// subhash derives the secondary checksum the lookup endpoint demands
// from the primary MD5 hex hash. Indexing is in hex digits; the final
// window may fall on the last digit and shrink to one character.
func subhash(hash string) string {
	if len(hash) != 32 {
		return ""
	}
	idx := [5]int{0xe, 0x3, 0x6, 0x8, 0x2}
	mul := [5]int{2, 2, 5, 4, 3}
	add := [5]int{0, 0xd, 0x10, 0xb, 0x5}

	out := make([]byte, 0, 5)
	for i := 0; i < 5; i++ {
		d, err := strconv.ParseInt(string(hash[idx[i]]), 16, 32)
		if err != nil {
			return ""
		}
		t := add[i] + int(d)
		end := t + 2
		if end > len(hash) {
			end = len(hash)
		}
		v, err := strconv.ParseInt(hash[t:end], 16, 32)
		if err != nil {
			return ""
		}
		out = append(out, hexDigit((int(v)*mul[i])&0xf))
	}
	return string(out)
}

func hexDigit(v int) byte {
	if v < 10 {
		return byte('0' + v)
	}
	return byte('a' + v - 10)
}

// converter maps to the uppercase codes the API expects. Only Polish
// and English exist on the service.
type converter struct{}

func (converter) Convert(l language.Language) (string, error) {
	switch l {
	case language.Make("pol", "", ""):
		return "PL", nil
	case language.Make("eng", "", ""):
		return "ENG", nil
	}
	return "", fmt.Errorf("%w: %s to %s", language.ErrNoConversion, l, Name)
}

func (converter) Reverse(code string) (language.Language, error) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "PL":
		return language.Make("pol", "", ""), nil
	case "ENG":
		return language.Make("eng", "", ""), nil
	}
	return language.Undefined, fmt.Errorf("%w: %s code %q", language.ErrNoConversion, Name, code)
}

func init() {
	language.RegisterConverter(Name, converter{})
	provider.Register(Name, func(s provider.Settings, _ *cache.Cache, log zerolog.Logger) (provider.Provider, error) {
		return New(s, log)
	})
}
