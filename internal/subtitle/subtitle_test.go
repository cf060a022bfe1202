package subtitle

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/matcher"
	"github.com/sublight/sublight/internal/video"
)

const validSRT = `1
00:00:01,000 --> 00:00:02,000
Hello.

2
00:00:03,000 --> 00:00:04,500
World.

3
00:00:05,000 --> 00:00:06,000
Again.
`

func TestFixLineEndings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb\r\n", "a\nb\n"},
		{"lone cr", "a\rb", "a\nb"},
		{"mixed", "a\r\nb\rc\n", "a\nb\nc\n"},
		{"bom", "\xEF\xBB\xBFa\n", "a\n"},
		{"clean", "a\nb\n", "a\nb\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FixLineEndings([]byte(tt.in))
			if string(got) != tt.want {
				t.Errorf("FixLineEndings(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := FixLineEndings(got); !bytes.Equal(again, got) {
				t.Errorf("FixLineEndings not idempotent: %q then %q", got, again)
			}
		})
	}
}

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Format
	}{
		{"subrip", validSRT, FormatSubRip},
		{"subrip crlf", strings.ReplaceAll(validSRT, "\n", "\r\n"), FormatSubRip},
		{"webvtt", "WEBVTT\n\n00:01.000 --> 00:04.000\nHi\n", FormatWebVTT},
		{"ass", "[Script Info]\nTitle: x\n\n[Events]\n", FormatASS},
		{"ass with comment", "; generated\n[Script Info]\n", FormatASS},
		{"microdvd", "{1}{50}Hello|World\n", FormatMicroDVD},
		{"sami", "<SAMI>\n<HEAD></HEAD>\n", FormatSAMI},
		{"html", "<html><body>limit exceeded</body></html>", FormatUnknown},
		{"empty", "", FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffFormat([]byte(tt.content)); got != tt.want {
				t.Errorf("SniffFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	cues := strings.Split(strings.TrimSpace(validSRT), "\n\n")
	fiveCues := strings.Join(append(cues,
		"4\n00:00:07,000 --> 00:00:08,000\nMore.",
		"5\n00:00:09,000 --> 00:00:10,000\nDone."), "\n\n")
	oneBad := strings.Join(append(cues,
		"4\n00:00:07,000 --> 00:00:08,000\nMore.",
		"not a cue at all"), "\n\n")
	twoBad := strings.Join(append(cues,
		"garbage line",
		"more garbage"), "\n\n")

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"valid subrip", validSRT, true},
		{"five cues", fiveCues, true},
		{"one bad of five", oneBad, true},
		{"two bad of five", twoBad, false},
		{"html sentinel", "<html><body>Download quota reached</body></html>", false},
		{"garbage", "complete nonsense", false},
		{"ass passes on signature", "[Script Info]\nTitle: x\n", true},
		{"webvtt passes on signature", "WEBVTT\n\n00:01.000 --> 00:04.000\nHi\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Subtitle{Content: []byte(tt.content)}
			if got := s.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}

	empty := &Subtitle{}
	if empty.IsValid() {
		t.Error("IsValid() = true for subtitle without content")
	}
}

func TestPath(t *testing.T) {
	eng := language.Make("eng", "", "")
	ptBR := language.Make("por", "BR", "")
	tests := []struct {
		video string
		lang  language.Language
		ext   string
		want  string
	}{
		{"/media/Man of Steel (2013).mkv", eng, "", "/media/Man of Steel (2013).en.srt"},
		{"/media/Man of Steel (2013).mkv", language.Undefined, "", "/media/Man of Steel (2013).srt"},
		{"/media/show.s01e01.mkv", ptBR, "", "/media/show.s01e01.pt-BR.srt"},
		{"/media/show.s01e01.mkv", eng, ".ass", "/media/show.s01e01.en.ass"},
	}
	for _, tt := range tests {
		if got := Path(tt.video, tt.lang, tt.ext); got != tt.want {
			t.Errorf("Path(%q, %s, %q) = %q, want %q", tt.video, tt.lang, tt.ext, got, tt.want)
		}
	}
}

func TestGetMatches(t *testing.T) {
	v, err := video.FromName("Man.of.Steel.2013.720p.BluRay.x264-Felony.mkv")
	if err != nil {
		t.Fatal(err)
	}

	s := &Subtitle{
		ProviderName: "test",
		ID:           "1",
		Language:     language.Make("eng", "", ""),
		Releases:     []string{"Man.of.Steel.2013.720p.BluRay.x264-Felony"},
	}
	m := s.GetMatches(v, Preferences{})
	for _, want := range []string{"title", "year", "source", "resolution", "video_codec", "release_group"} {
		if !m.Has(want) {
			t.Errorf("matches missing %q: %v", want, m.Names())
		}
	}
	if m.Has("hearing_impaired") {
		t.Error("hearing_impaired matched without a preference")
	}
}

func TestGetMatchesAsserted(t *testing.T) {
	v, err := video.FromName("Man.of.Steel.2013.720p.BluRay.x264-Felony.mkv")
	if err != nil {
		t.Fatal(err)
	}
	s := &Subtitle{Asserted: matcher.NewSet("hash")}
	if m := s.GetMatches(v, Preferences{}); !m.Has("hash") {
		t.Errorf("asserted hash missing from matches: %v", m.Names())
	}
}

func TestGetMatchesPreferences(t *testing.T) {
	v, err := video.FromName("Man.of.Steel.2013.720p.BluRay.x264-Felony.mkv")
	if err != nil {
		t.Fatal(err)
	}
	hi := true
	fo := false
	s := &Subtitle{HearingImpaired: true, ForeignOnly: false}

	m := s.GetMatches(v, Preferences{HearingImpaired: &hi, ForeignOnly: &fo})
	if !m.Has("hearing_impaired") {
		t.Error("hearing_impaired preference should match")
	}
	if !m.Has("foreign_only") {
		t.Error("foreign_only preference should match")
	}

	no := false
	m = s.GetMatches(v, Preferences{HearingImpaired: &no})
	if m.Has("hearing_impaired") {
		t.Error("hearing_impaired preference mismatch should not match")
	}
}

func TestGetMatchesMatchFunc(t *testing.T) {
	v, err := video.FromName("Man.of.Steel.2013.720p.BluRay.x264-Felony.mkv")
	if err != nil {
		t.Fatal(err)
	}
	s := &Subtitle{
		Releases: []string{"Man.of.Steel.2013.720p.BluRay.x264-Felony"},
		MatchFunc: func(*video.Video) matcher.Set {
			return matcher.NewSet("title")
		},
	}
	m := s.GetMatches(v, Preferences{})
	if !m.Has("title") || m.Has("year") {
		t.Errorf("MatchFunc should replace release matching, got %v", m.Names())
	}
}

func TestDecodeContent(t *testing.T) {
	rus := language.Make("rus", "", "")
	eng := language.Make("eng", "", "")
	tests := []struct {
		name     string
		content  []byte
		declared string
		lang     language.Language
		want     string
	}{
		{"declared windows-1252", []byte("caf\xE9"), "windows-1252", eng, "café"},
		{"utf-8 passthrough", []byte("héllo"), "", eng, "héllo"},
		{"utf-8 bom", append([]byte{0xEF, 0xBB, 0xBF}, []byte("hi")...), "", eng, "\uFEFFhi"},
		{"utf-16le bom", []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, "", eng, "\uFEFFhi"},
		{"cp1251 by language", []byte{0xCF, 0xF0, 0xE8, 0xE2, 0xE5, 0xF2}, "", rus, "Привет"},
		{"unknown label ignored", []byte("plain"), "no-such-charset", eng, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeContent(tt.content, tt.declared, tt.lang)
			if err != nil {
				t.Fatalf("DecodeContent() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeContent() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := DecodeContent(nil, "", eng); err == nil {
		t.Error("DecodeContent(nil) should fail")
	}
}

func TestText(t *testing.T) {
	raw := "\xEF\xBB\xBF1\r\n00:00:01,000 --> 00:00:02,000\r\nHello.\r\n"
	s := &Subtitle{Content: []byte(raw)}
	text, err := s.Text()
	if err != nil {
		t.Fatal(err)
	}
	want := "1\n00:00:01,000 --> 00:00:02,000\nHello.\n"
	if text != want {
		t.Errorf("Text() = %q, want %q", text, want)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	s := &Subtitle{
		ProviderName: "test",
		ID:           "42",
		Language:     language.Make("eng", "", ""),
		Content:      []byte(validSRT),
	}
	path := Path(filepath.Join(dir, "movie.mkv"), s.Language, s.Ext())
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != validSRT {
		t.Errorf("saved content mismatch")
	}
	if filepath.Base(path) != "movie.en.srt" {
		t.Errorf("path = %q, want movie.en.srt", filepath.Base(path))
	}
}
