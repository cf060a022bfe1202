package video

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sublight/sublight/internal/language"
)

func TestFromName(t *testing.T) {
	t.Run("episode", func(t *testing.T) {
		v, err := FromName("The.Big.Bang.Theory.S07E05.720p.HDTV.x264-DIMENSION.mkv")
		if err != nil {
			t.Fatalf("FromName returned error: %v", err)
		}
		if v.Kind != KindEpisode {
			t.Fatalf("Kind = %q, want episode", v.Kind)
		}
		if v.Series != "The Big Bang Theory" || v.Season != 7 || v.Episode != 5 {
			t.Errorf("identity = %q S%02dE%02d", v.Series, v.Season, v.Episode)
		}
		if v.ReleaseGroup != "DIMENSION" || v.Resolution != "720p" || v.Source != "HDTV" {
			t.Errorf("release properties = %q %q %q", v.ReleaseGroup, v.Resolution, v.Source)
		}
	})

	t.Run("movie", func(t *testing.T) {
		v, err := FromName("Man.of.Steel.2013.720p.BluRay.x264-Felony.mkv")
		if err != nil {
			t.Fatalf("FromName returned error: %v", err)
		}
		if v.Kind != KindMovie {
			t.Fatalf("Kind = %q, want movie", v.Kind)
		}
		if v.Title != "Man of Steel" || v.Year != 2013 {
			t.Errorf("identity = %q (%d)", v.Title, v.Year)
		}
	})

	t.Run("multi episode keeps lowest", func(t *testing.T) {
		v, err := FromName("Game.of.Thrones.S01E01E02.1080p.mkv")
		if err != nil {
			t.Fatalf("FromName returned error: %v", err)
		}
		if v.Episode != 1 {
			t.Errorf("Episode = %d, want 1", v.Episode)
		}
	})

	t.Run("unidentifiable", func(t *testing.T) {
		if _, err := FromName("720p.x264.mkv"); !errors.Is(err, ErrGuessing) {
			t.Errorf("error = %v, want ErrGuessing", err)
		}
	})
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Man.of.Steel.2013.720p.BluRay.x264-Felony.mkv")
	if err := os.WriteFile(path, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"Man.of.Steel.2013.720p.BluRay.x264-Felony.en.srt",
		"Man.of.Steel.2013.720p.BluRay.x264-Felony.pt-BR.srt",
		"Man.of.Steel.2013.720p.BluRay.x264-Felony.srt",
		"unrelated.fr.srt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	v, err := Scan(path)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if v.Size == 0 {
		t.Error("Size not recorded")
	}
	if !v.Exists() {
		t.Error("Exists() = false after scan")
	}

	want := []language.Language{
		{Alpha3: "eng"},
		{Alpha3: "por", Country: "BR"},
		language.Undefined,
	}
	if len(v.SubtitleLanguages) != len(want) {
		t.Fatalf("SubtitleLanguages = %v, want %d entries", v.SubtitleLanguages.Tags(), len(want))
	}
	for _, l := range want {
		if !v.SubtitleLanguages.Contains(l) {
			t.Errorf("SubtitleLanguages missing %s", l)
		}
	}
}

func TestScanMissingFile(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope.mkv")); err == nil {
		t.Fatal("Scan of missing file succeeded")
	}
}

func TestScanDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "nested", ".hidden"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := []string{
		"Man.of.Steel.2013.720p.BluRay.x264-Felony.mkv",
		filepath.Join("nested", "Dredd.2012.1080p.BluRay.x264-DAA.mp4"),
		filepath.Join("nested", "dredd.2012.sample.mkv"),
		filepath.Join("nested", ".hidden", "Skipped.2010.720p.mkv"),
		filepath.Join("nested", "notes.txt"),
		".Partial.2013.720p.mkv",
	}
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	videos, err := ScanDirectory(dir)
	if err != nil {
		t.Fatalf("ScanDirectory returned error: %v", err)
	}
	if len(videos) != 2 {
		names := make([]string, 0, len(videos))
		for _, v := range videos {
			names = append(names, v.Name)
		}
		t.Fatalf("ScanDirectory found %d videos (%v), want 2", len(videos), names)
	}
	if videos[0].Title != "Man of Steel" && videos[1].Title != "Man of Steel" {
		t.Errorf("ScanDirectory missed the top-level video")
	}
}

func TestAge(t *testing.T) {
	now := time.Now()
	v := &Video{ModTime: now.Add(-48 * time.Hour)}
	if age := v.Age(now); age != 48*time.Hour {
		t.Errorf("Age = %v, want 48h", age)
	}
	if age := (&Video{}).Age(now); age != 0 {
		t.Errorf("Age of unscanned video = %v, want 0", age)
	}
}

func TestCheck(t *testing.T) {
	now := time.Now()
	en := language.Language{Alpha3: "eng"}
	fr := language.Language{Alpha3: "fra"}

	tests := []struct {
		name        string
		video       *Video
		want        language.Set
		maxAge      time.Duration
		undefinedOK bool
		expect      bool
	}{
		{
			name:   "needs subtitles",
			video:  &Video{SubtitleLanguages: language.NewSet()},
			want:   language.NewSet(en),
			expect: true,
		},
		{
			name:   "already covered",
			video:  &Video{SubtitleLanguages: language.NewSet(en)},
			want:   language.NewSet(en),
			expect: false,
		},
		{
			name:   "partially covered",
			video:  &Video{SubtitleLanguages: language.NewSet(en)},
			want:   language.NewSet(en, fr),
			expect: true,
		},
		{
			name:        "undefined counts when allowed",
			video:       &Video{SubtitleLanguages: language.NewSet(language.Undefined)},
			want:        language.NewSet(en),
			undefinedOK: true,
			expect:      false,
		},
		{
			name:   "undefined ignored by default",
			video:  &Video{SubtitleLanguages: language.NewSet(language.Undefined)},
			want:   language.NewSet(en),
			expect: true,
		},
		{
			name:   "too old",
			video:  &Video{ModTime: now.Add(-30 * 24 * time.Hour), SubtitleLanguages: language.NewSet()},
			want:   language.NewSet(en),
			maxAge: 14 * 24 * time.Hour,
			expect: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Check(tt.video, tt.want, tt.maxAge, tt.undefinedOK, now)
			if got != tt.expect {
				t.Errorf("Check = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestString(t *testing.T) {
	ep := &Video{Kind: KindEpisode, Series: "Firefly", Season: 1, Episode: 2}
	if s := ep.String(); s != "Firefly S01E02" {
		t.Errorf("String = %q", s)
	}
	mov := &Video{Kind: KindMovie, Title: "Man of Steel", Year: 2013}
	if s := mov.String(); s != "Man of Steel (2013)" {
		t.Errorf("String = %q", s)
	}
}
