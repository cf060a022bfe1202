package tvsubtitles

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/provider"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
)

var english = language.Make("eng", "", "")

const searchPage = `<html><body><div class="left"><ul>
<li><div><a href="/tvshow-911.html">Game of Thrones (2011-2019)</a></div></li>
<li><div><a href="/tvshow-500.html">Game of Clones (2017-2018)</a></div></li>
</ul></div></body></html>`

const seasonPage = `<html><body><table id="table5">
<tr><th>Episode</th><th>Name</th></tr>
<tr><td>3x09</td><td><a href="episode-34566.html">The Rains of Castamere</a></td></tr>
<tr><td>3x10</td><td><a href="episode-34567.html">Mhysa</a></td></tr>
</table></body></html>`

const episodePage = `<html><body>
<a href="/subtitle-249518.html"><div class="subtitlen">
<h5><img src="images/flags/en.gif"> Game.of.Thrones.S03E10.720p.HDTV.x264-EVOLVE</h5>
<p title="rip">HDTV</p>
</div></a>
<a href="/subtitle-249519.html"><div class="subtitlen">
<h5><img src="images/flags/br.gif"> Game.of.Thrones.S03E10.HDTV</h5>
<p title="rip">HDTV</p>
</div></a>
</body></html>`

func testServer(t *testing.T, searches *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search.php":
			if r.Method != http.MethodPost {
				t.Errorf("search method = %s", r.Method)
			}
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
				return
			}
			if r.PostForm.Get("q") != "Game of Thrones" {
				t.Errorf("q = %q", r.PostForm.Get("q"))
			}
			if searches != nil {
				*searches++
			}
			fmt.Fprint(w, searchPage)
		case "/tvshow-911-3.html":
			fmt.Fprint(w, seasonPage)
		case "/episode-34567.html":
			fmt.Fprint(w, episodePage)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
}

func newTestProvider(t *testing.T, server *httptest.Server) *Provider {
	t.Helper()
	c := cache.New(cache.Config{})
	t.Cleanup(c.Close)
	p, err := New(provider.Settings{BaseURL: server.URL}, c, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func episodeVideo() *video.Video {
	return &video.Video{
		Name:    "Game.of.Thrones.S03E10.720p.HDTV.x264-EVOLVE.mkv",
		Kind:    video.KindEpisode,
		Series:  "Game of Thrones",
		Year:    2011,
		Season:  3,
		Episode: 10,
	}
}

func TestListSubtitles(t *testing.T) {
	server := testServer(t, nil)
	defer server.Close()

	p := newTestProvider(t, server)
	langs := language.NewSet(english, language.Make("por", "BR", ""))
	subs, err := p.ListSubtitles(context.Background(), episodeVideo(), langs)
	if err != nil {
		t.Fatalf("ListSubtitles() error = %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d subtitles, want 2", len(subs))
	}

	s := subs[0]
	if s.ID != "249518" {
		t.Errorf("ID = %q", s.ID)
	}
	if s.Language != english {
		t.Errorf("Language = %s", s.Language)
	}
	if len(s.Releases) != 2 {
		t.Errorf("Releases = %v", s.Releases)
	}

	// The br flag maps to Brazilian Portuguese.
	if subs[1].Language != language.Make("por", "BR", "") {
		t.Errorf("subs[1].Language = %s", subs[1].Language)
	}

	m := s.GetMatches(episodeVideo(), subtitle.Preferences{})
	for _, want := range []string{"series", "season", "episode", "year", "source", "resolution", "video_codec", "release_group"} {
		if !m.Has(want) {
			t.Errorf("matches missing %q, got %v", want, m.Names())
		}
	}
}

func TestListSubtitlesFiltersLanguages(t *testing.T) {
	server := testServer(t, nil)
	defer server.Close()

	p := newTestProvider(t, server)
	subs, err := p.ListSubtitles(context.Background(), episodeVideo(), language.NewSet(english))
	if err != nil {
		t.Fatalf("ListSubtitles() error = %v", err)
	}
	if len(subs) != 1 || subs[0].Language != english {
		t.Errorf("got %v, want only the english row", subs)
	}
}

func TestListSubtitlesCachesShowID(t *testing.T) {
	var searches int
	server := testServer(t, &searches)
	defer server.Close()

	p := newTestProvider(t, server)
	for i := 0; i < 2; i++ {
		if _, err := p.ListSubtitles(context.Background(), episodeVideo(), language.NewSet(english)); err != nil {
			t.Fatalf("ListSubtitles() call %d error = %v", i+1, err)
		}
	}
	if searches != 1 {
		t.Errorf("searches = %d, want 1 (show id cached)", searches)
	}
}

func TestListSubtitlesUnknownShow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><ul></ul></body></html>`)
	}))
	defer server.Close()

	p := newTestProvider(t, server)
	subs, err := p.ListSubtitles(context.Background(), episodeVideo(), language.NewSet(english))
	if err != nil || subs != nil {
		t.Errorf("ListSubtitles() = %v, %v, want empty without error", subs, err)
	}
}

func TestListSubtitlesYearMismatch(t *testing.T) {
	server := testServer(t, nil)
	defer server.Close()

	v := episodeVideo()
	v.Year = 1999
	p := newTestProvider(t, server)
	subs, err := p.ListSubtitles(context.Background(), v, language.NewSet(english))
	if err != nil || subs != nil {
		t.Errorf("ListSubtitles() = %v, %v, want no match on wrong year", subs, err)
	}
}

func TestListSubtitlesSkipsMovies(t *testing.T) {
	p, err := New(provider.Settings{}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	subs, err := p.ListSubtitles(context.Background(), &video.Video{Kind: video.KindMovie, Title: "Man of Steel"}, language.NewSet(english))
	if err != nil || subs != nil {
		t.Errorf("ListSubtitles() = %v, %v, want nothing for movies", subs, err)
	}
}

func TestDownloadSubtitle(t *testing.T) {
	const content = "1\n00:00:01,000 --> 00:00:02,000\nHello.\n"
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, _ := zw.Create("got.s03e10.srt")
	f.Write([]byte(content))
	zw.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download-249518.html" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	p := newTestProvider(t, server)
	s := &subtitle.Subtitle{ProviderName: Name, ID: "249518", Language: english}
	if err := p.DownloadSubtitle(context.Background(), s); err != nil {
		t.Fatalf("DownloadSubtitle() error = %v", err)
	}
	if string(s.Content) != content {
		t.Errorf("Content = %q", s.Content)
	}
}

func TestConverter(t *testing.T) {
	tests := []struct {
		code string
		l    language.Language
	}{
		{"en", english},
		{"br", language.Make("por", "BR", "")},
		{"ua", language.Make("ukr", "", "")},
		{"gr", language.Make("ell", "", "")},
		{"cz", language.Make("ces", "", "")},
		{"jp", language.Make("jpn", "", "")},
	}
	for _, tt := range tests {
		l, err := language.Reverse(Name, tt.code)
		if err != nil || l != tt.l {
			t.Errorf("Reverse(%q) = %s, %v, want %s", tt.code, l, err, tt.l)
		}
		code, err := language.Convert(Name, tt.l)
		if err != nil || code != tt.code {
			t.Errorf("Convert(%s) = %q, %v, want %q", tt.l, code, err, tt.code)
		}
	}
}

func TestCapabilities(t *testing.T) {
	p, err := New(provider.Settings{}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	caps := p.Capabilities()
	if caps.SupportsKind(video.KindMovie) {
		t.Error("movies should not be supported")
	}
	if !caps.SupportsKind(video.KindEpisode) {
		t.Error("episodes should be supported")
	}
	if !caps.Languages.Contains(language.Make("por", "BR", "")) {
		t.Error("Languages missing pt-BR")
	}
}
