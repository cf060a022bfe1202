package opensubtitles

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/provider"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
	"github.com/sublight/sublight/internal/videohash"
)

var english = language.Make("eng", "", "")

func newTestProvider(t *testing.T, server *httptest.Server, s provider.Settings) (*Provider, *cache.Cache) {
	t.Helper()
	c := cache.New(cache.Config{})
	t.Cleanup(c.Close)
	if s.APIKey == "" {
		s.APIKey = "test-key"
	}
	s.BaseURL = server.URL
	p, err := New(s, c, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, c
}

func TestNewValidation(t *testing.T) {
	if _, err := New(provider.Settings{}, nil, zerolog.Nop()); !provider.IsConfigError(err) {
		t.Errorf("New() without api_key error = %v, want config error", err)
	}
	if _, err := New(provider.Settings{APIKey: "k", Username: "u"}, nil, zerolog.Nop()); !provider.IsConfigError(err) {
		t.Errorf("New() with lone username error = %v, want config error", err)
	}
	if _, err := New(provider.Settings{APIKey: "k"}, nil, zerolog.Nop()); err != nil {
		t.Errorf("New() anonymous error = %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	p, err := New(provider.Settings{APIKey: "k"}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	caps := p.Capabilities()
	for _, l := range []language.Language{
		english,
		language.Make("por", "BR", ""),
		language.Make("zho", "TW", ""),
	} {
		if !caps.Languages.Contains(l) {
			t.Errorf("Languages missing %s", l)
		}
	}
	if !caps.SupportsKind(video.KindMovie) || !caps.SupportsKind(video.KindEpisode) {
		t.Errorf("VideoKinds = %v, want movie and episode", caps.VideoKinds)
	}
	if caps.RequiredHash != "" {
		t.Errorf("RequiredHash = %q, want none", caps.RequiredHash)
	}
}

func TestConverter(t *testing.T) {
	tests := []struct {
		l    language.Language
		code string
	}{
		{english, "en"},
		{language.Make("por", "", ""), "pt"},
		{language.Make("por", "BR", ""), "pt-br"},
		{language.Make("zho", "", ""), "zh-cn"},
		{language.Make("zho", "TW", ""), "zh-tw"},
	}
	for _, tt := range tests {
		code, err := language.Convert(Name, tt.l)
		if err != nil {
			t.Errorf("Convert(%s) error = %v", tt.l, err)
			continue
		}
		if code != tt.code {
			t.Errorf("Convert(%s) = %q, want %q", tt.l, code, tt.code)
		}
		back, err := language.Reverse(Name, code)
		if err != nil {
			t.Errorf("Reverse(%q) error = %v", code, err)
			continue
		}
		if back != tt.l {
			t.Errorf("Reverse(%q) = %s, want %s", code, back, tt.l)
		}
	}

	if _, err := language.Convert(Name, language.Make("fil", "", "")); err == nil {
		t.Error("Convert(fil) expected error, language has no alpha-2 code")
	}
	if l, err := language.Reverse(Name, "pt-pt"); err != nil || l != language.Make("por", "", "") {
		t.Errorf("Reverse(pt-pt) = %s, %v, want por", l, err)
	}
}

func TestInitializeAnonymous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	p, _ := newTestProvider(t, server, provider.Settings{})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if p.token != "" {
		t.Errorf("anonymous session got token %q", p.token)
	}
}

func TestInitializeLogsIn(t *testing.T) {
	var logins int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Api-Key") != "test-key" {
			t.Errorf("Api-Key = %q", r.Header.Get("Api-Key"))
		}
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Errorf("decode login body: %v", err)
		}
		if creds["username"] != "alice" || creds["password"] != "secret" {
			t.Errorf("credentials = %v", creds)
		}
		logins++
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	}))
	defer server.Close()

	p, c := newTestProvider(t, server, provider.Settings{Username: "alice", Password: "secret"})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if p.token != "tok-1" {
		t.Errorf("token = %q, want tok-1", p.token)
	}
	if cached, ok := c.GetString(p.tokenKey()); !ok || cached != "tok-1" {
		t.Errorf("cached token = %q, %v", cached, ok)
	}

	// Second call is a no-op on a live session.
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if logins != 1 {
		t.Errorf("logins = %d, want 1", logins)
	}
}

func TestInitializeReusesCachedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	p, c := newTestProvider(t, server, provider.Settings{Username: "alice", Password: "secret"})
	c.Set(p.tokenKey(), "cached-tok")

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if p.token != "cached-tok" {
		t.Errorf("token = %q, want cached-tok", p.token)
	}

	// The session does not own the token, terminating must not log out.
	if err := p.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if _, ok := c.GetString(p.tokenKey()); !ok {
		t.Error("cached token was dropped by a borrowing session")
	}
}

func TestInitializeBadCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p, _ := newTestProvider(t, server, provider.Settings{Username: "alice", Password: "wrong"})
	if err := p.Initialize(context.Background()); !provider.IsAuthError(err) {
		t.Errorf("Initialize() error = %v, want auth error", err)
	}
}

const movieSearchBody = `{
	"total_count": 2,
	"data": [
		{
			"id": "9000",
			"attributes": {
				"language": "en",
				"release": "Man.of.Steel.2013.720p.BluRay.x264-Felony",
				"url": "https://www.opensubtitles.com/en/subtitles/9000",
				"fps": 23.976,
				"hearing_impaired": true,
				"moviehash_match": true,
				"feature_details": {
					"feature_type": "Movie",
					"title": "Man of Steel",
					"year": 2013,
					"imdb_id": 770828
				},
				"files": [{"file_id": 501, "file_name": "man.of.steel.2013.srt"}]
			}
		},
		{
			"id": "9001",
			"attributes": {
				"language": "pt-br",
				"release": "Man.of.Steel.2013.1080p.WEB-DL",
				"feature_details": {"title": "Man of Steel", "year": 2013},
				"files": [{"file_id": 502}]
			}
		},
		{
			"id": "9002",
			"attributes": {
				"language": "en",
				"release": "no.files.entry"
			}
		}
	]
}`

func movieVideo() *video.Video {
	return &video.Video{
		Name:         "Man.of.Steel.2013.720p.BluRay.x264-Felony.mkv",
		Kind:         video.KindMovie,
		Title:        "Man of Steel",
		Year:         2013,
		ImdbID:       "tt0770828",
		Source:       "Blu-ray",
		Resolution:   "720p",
		VideoCodec:   "H.264",
		ReleaseGroup: "Felony",
		Hashes:       map[string]string{videohash.OpenSubtitles: "5b8f8f4e41ccb807"},
	}
}

func TestListSubtitlesMovie(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subtitles" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("type") != "movie" {
			t.Errorf("type = %q", q.Get("type"))
		}
		if q.Get("query") != "Man of Steel" {
			t.Errorf("query = %q", q.Get("query"))
		}
		if q.Get("year") != "2013" {
			t.Errorf("year = %q", q.Get("year"))
		}
		if q.Get("imdb_id") != "0770828" {
			t.Errorf("imdb_id = %q", q.Get("imdb_id"))
		}
		if q.Get("moviehash") != "5b8f8f4e41ccb807" {
			t.Errorf("moviehash = %q", q.Get("moviehash"))
		}
		if q.Get("languages") != "en,pt-br" {
			t.Errorf("languages = %q", q.Get("languages"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(movieSearchBody))
	}))
	defer server.Close()

	p, _ := newTestProvider(t, server, provider.Settings{})
	langs := language.NewSet(english, language.Make("por", "BR", ""))
	subs, err := p.ListSubtitles(context.Background(), movieVideo(), langs)
	if err != nil {
		t.Fatalf("ListSubtitles() error = %v", err)
	}
	// The entry without files is unusable and dropped.
	if len(subs) != 2 {
		t.Fatalf("got %d subtitles, want 2", len(subs))
	}

	s := subs[0]
	if s.ProviderName != Name || s.ID != "9000" {
		t.Errorf("identity = %s:%s", s.ProviderName, s.ID)
	}
	if s.Language != english {
		t.Errorf("Language = %s", s.Language)
	}
	if !s.HearingImpaired {
		t.Error("HearingImpaired = false")
	}
	if s.DownloadLink != "501" {
		t.Errorf("DownloadLink = %q, want file id 501", s.DownloadLink)
	}
	if s.FPS != 23.976 {
		t.Errorf("FPS = %v", s.FPS)
	}
	if len(s.Releases) != 2 {
		t.Errorf("Releases = %v, want release and file name", s.Releases)
	}
	if subs[1].Language != language.Make("por", "BR", "") {
		t.Errorf("subs[1].Language = %s", subs[1].Language)
	}
}

func TestListSubtitlesMovieMatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(movieSearchBody))
	}))
	defer server.Close()

	p, _ := newTestProvider(t, server, provider.Settings{})
	subs, err := p.ListSubtitles(context.Background(), movieVideo(), language.NewSet(english))
	if err != nil {
		t.Fatalf("ListSubtitles() error = %v", err)
	}

	m := subs[0].GetMatches(movieVideo(), subtitle.Preferences{})
	for _, want := range []string{"hash", "imdb_id", "title", "year", "source", "resolution", "video_codec", "release_group"} {
		if !m.Has(want) {
			t.Errorf("matches missing %q, got %v", want, m.Names())
		}
	}

	// Different release, no hash assertion: identity comes from
	// feature details only.
	m = subs[1].GetMatches(movieVideo(), subtitle.Preferences{})
	if m.Has("hash") {
		t.Errorf("unexpected hash match: %v", m.Names())
	}
	if !m.Has("title") || !m.Has("year") {
		t.Errorf("matches = %v, want title and year from feature details", m.Names())
	}
}

func TestListSubtitlesEpisode(t *testing.T) {
	const episodeBody = `{
		"data": [{
			"id": "7100",
			"attributes": {
				"language": "en",
				"release": "Game.of.Thrones.S03E10.720p.HDTV.x264-EVOLVE",
				"feature_details": {
					"feature_type": "Episode",
					"season_number": 3,
					"episode_number": 10,
					"parent_imdb_id": 944947,
					"parent_title": "Game of Thrones"
				},
				"files": [{"file_id": 701}]
			}
		}]
	}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("type") != "episode" {
			t.Errorf("type = %q", q.Get("type"))
		}
		if q.Get("query") != "Game of Thrones" {
			t.Errorf("query = %q", q.Get("query"))
		}
		if q.Get("season_number") != "3" || q.Get("episode_number") != "10" {
			t.Errorf("season/episode = %q/%q", q.Get("season_number"), q.Get("episode_number"))
		}
		if q.Get("parent_imdb_id") != "0944947" {
			t.Errorf("parent_imdb_id = %q", q.Get("parent_imdb_id"))
		}
		w.Write([]byte(episodeBody))
	}))
	defer server.Close()

	v := &video.Video{
		Name:         "Game.of.Thrones.S03E10.720p.HDTV.x264-EVOLVE.mkv",
		Kind:         video.KindEpisode,
		Series:       "Game of Thrones",
		Season:       3,
		Episode:      10,
		SeriesImdbID: "tt0944947",
	}
	p, _ := newTestProvider(t, server, provider.Settings{})
	subs, err := p.ListSubtitles(context.Background(), v, language.NewSet(english))
	if err != nil {
		t.Fatalf("ListSubtitles() error = %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d subtitles, want 1", len(subs))
	}

	m := subs[0].GetMatches(v, subtitle.Preferences{})
	for _, want := range []string{"series", "season", "episode", "series_imdb_id"} {
		if !m.Has(want) {
			t.Errorf("matches missing %q, got %v", want, m.Names())
		}
	}
}

func TestListSubtitlesStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		name   string
	}{
		{http.StatusUnauthorized, provider.IsAuthError, "auth"},
		{http.StatusTooManyRequests, func(err error) bool {
			return provider.GetErrorCode(err) == provider.ErrCodeTooManyRequests
		}, "rate limit"},
		{http.StatusServiceUnavailable, provider.IsUnavailableError, "unavailable"},
		{http.StatusBadRequest, func(err error) bool {
			return provider.GetErrorCode(err) == provider.ErrCodeProvider
		}, "generic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			p, _ := newTestProvider(t, server, provider.Settings{})
			_, err := p.ListSubtitles(context.Background(), movieVideo(), language.NewSet(english))
			if err == nil || !tt.check(err) {
				t.Errorf("status %d: error = %v", tt.status, err)
			}
		})
	}
}

func TestAuthErrorDropsCachedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p, c := newTestProvider(t, server, provider.Settings{Username: "alice", Password: "secret"})
	c.Set(p.tokenKey(), "stale-tok")
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	_, err := p.ListSubtitles(context.Background(), movieVideo(), language.NewSet(english))
	if !provider.IsAuthError(err) {
		t.Fatalf("error = %v, want auth error", err)
	}
	if _, ok := c.GetString(p.tokenKey()); ok {
		t.Error("stale token still cached after rejection")
	}
	if p.token != "" {
		t.Errorf("token = %q, want cleared", p.token)
	}
}

func TestDownloadSubtitle(t *testing.T) {
	const content = "1\n00:00:01,000 --> 00:00:02,000\nHello.\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/download":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode download body: %v", err)
			}
			if id, ok := body["file_id"].(float64); !ok || int64(id) != 501 {
				t.Errorf("file_id = %v", body["file_id"])
			}
			json.NewEncoder(w).Encode(map[string]any{"link": "/files/501.srt", "remaining": 99})
		case "/files/501.srt":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte(content))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p, _ := newTestProvider(t, server, provider.Settings{})
	s := &subtitle.Subtitle{ProviderName: Name, ID: "9000", Language: english, DownloadLink: "501"}
	if err := p.DownloadSubtitle(context.Background(), s); err != nil {
		t.Fatalf("DownloadSubtitle() error = %v", err)
	}
	if string(s.Content) != content {
		t.Errorf("Content = %q", s.Content)
	}
}

func TestDownloadSubtitleQuota(t *testing.T) {
	t.Run("sentinel page", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/download" {
				json.NewEncoder(w).Encode(map[string]any{"link": "/files/1.srt", "remaining": 1})
				return
			}
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>limit reached</html>"))
		}))
		defer server.Close()

		p, _ := newTestProvider(t, server, provider.Settings{})
		s := &subtitle.Subtitle{ProviderName: Name, ID: "1", Language: english, DownloadLink: "1"}
		err := p.DownloadSubtitle(context.Background(), s)
		if provider.GetErrorCode(err) != provider.ErrCodeDownloadLimit {
			t.Errorf("error = %v, want download limit", err)
		}
		if s.Content != nil {
			t.Error("sentinel page stored as content")
		}
	})

	t.Run("remaining exhausted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"link": "", "remaining": 0})
		}))
		defer server.Close()

		p, _ := newTestProvider(t, server, provider.Settings{})
		s := &subtitle.Subtitle{ProviderName: Name, ID: "1", Language: english, DownloadLink: "1"}
		if err := p.DownloadSubtitle(context.Background(), s); provider.GetErrorCode(err) != provider.ErrCodeDownloadLimit {
			t.Errorf("error = %v, want download limit", err)
		}
	})

	t.Run("status 406", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotAcceptable)
		}))
		defer server.Close()

		p, _ := newTestProvider(t, server, provider.Settings{})
		s := &subtitle.Subtitle{ProviderName: Name, ID: "1", Language: english, DownloadLink: "1"}
		if err := p.DownloadSubtitle(context.Background(), s); provider.GetErrorCode(err) != provider.ErrCodeDownloadLimit {
			t.Errorf("error = %v, want download limit", err)
		}
	})
}

func TestDownloadSubtitleNoFileID(t *testing.T) {
	p, err := New(provider.Settings{APIKey: "k"}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s := &subtitle.Subtitle{ProviderName: Name, ID: "1", Language: english}
	if err := p.DownloadSubtitle(context.Background(), s); err == nil {
		t.Error("expected error for subtitle without file id")
	}
}

func TestTerminateLogsOutOwnToken(t *testing.T) {
	var logouts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
		case "/logout":
			if r.Method != http.MethodDelete {
				t.Errorf("logout method = %s", r.Method)
			}
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
			}
			logouts++
			json.NewEncoder(w).Encode(map[string]string{"message": "token successfully destroyed"})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	p, c := newTestProvider(t, server, provider.Settings{Username: "alice", Password: "secret"})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := p.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if logouts != 1 {
		t.Errorf("logouts = %d, want 1", logouts)
	}
	if _, ok := c.GetString(p.tokenKey()); ok {
		t.Error("token still cached after logout")
	}
	// Idempotent.
	if err := p.Terminate(context.Background()); err != nil {
		t.Fatalf("second Terminate() error = %v", err)
	}
	if logouts != 1 {
		t.Errorf("logouts after second terminate = %d, want 1", logouts)
	}
}

func TestTokenTTL(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(2 * time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if ttl := tokenTTL(token); ttl < time.Hour || ttl > 2*time.Hour {
		t.Errorf("tokenTTL() = %v, want just under 2h", ttl)
	}
	if ttl := tokenTTL("not-a-jwt"); ttl != defaultTokenTTL {
		t.Errorf("tokenTTL(garbage) = %v, want default", ttl)
	}

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if ttl := tokenTTL(expired); ttl != defaultTokenTTL {
		t.Errorf("tokenTTL(expired) = %v, want default", ttl)
	}
}

func TestRegistered(t *testing.T) {
	names := provider.Registered()
	for _, name := range names {
		if name == Name {
			return
		}
	}
	t.Errorf("provider %q not registered, got %v", Name, names)
}
