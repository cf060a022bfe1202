package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
)

type stubProvider struct {
	caps Capabilities
}

func (s *stubProvider) Name() string               { return "stub" }
func (s *stubProvider) Capabilities() Capabilities { return s.caps }
func (s *stubProvider) Initialize(context.Context) error {
	return nil
}
func (s *stubProvider) Terminate(context.Context) error { return nil }
func (s *stubProvider) ListSubtitles(context.Context, *video.Video, language.Set) ([]*subtitle.Subtitle, error) {
	return nil, nil
}
func (s *stubProvider) DownloadSubtitle(context.Context, *subtitle.Subtitle) error {
	return nil
}

func TestCheck(t *testing.T) {
	eng := language.Make("eng", "", "")
	movie := &video.Video{Kind: video.KindMovie, Hashes: map[string]string{}}
	episode := &video.Video{Kind: video.KindEpisode, Hashes: map[string]string{
		"opensubtitles": "5b8f8f4e41ccb21e",
	}}

	tests := []struct {
		name string
		caps Capabilities
		v    *video.Video
		want bool
	}{
		{
			name: "kind supported",
			caps: Capabilities{Languages: language.NewSet(eng), VideoKinds: []video.Kind{video.KindMovie}},
			v:    movie,
			want: true,
		},
		{
			name: "kind unsupported",
			caps: Capabilities{Languages: language.NewSet(eng), VideoKinds: []video.Kind{video.KindEpisode}},
			v:    movie,
			want: false,
		},
		{
			name: "required hash present",
			caps: Capabilities{
				Languages:    language.NewSet(eng),
				VideoKinds:   []video.Kind{video.KindEpisode},
				RequiredHash: "opensubtitles",
			},
			v:    episode,
			want: true,
		},
		{
			name: "required hash missing",
			caps: Capabilities{
				Languages:    language.NewSet(eng),
				VideoKinds:   []video.Kind{video.KindMovie},
				RequiredHash: "opensubtitles",
			},
			v:    movie,
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProvider{caps: tt.caps}
			if got := Check(p, tt.v); got != tt.want {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckLanguages(t *testing.T) {
	eng := language.Make("eng", "", "")
	deu := language.Make("deu", "", "")
	fra := language.Make("fra", "", "")
	p := &stubProvider{caps: Capabilities{Languages: language.NewSet(eng, deu)}}

	got := CheckLanguages(p, language.NewSet(deu, fra))
	if len(got) != 1 || !got.Contains(deu) {
		t.Errorf("CheckLanguages = %v", got.Tags())
	}
}

func TestErrorCategories(t *testing.T) {
	err := NewAuthError("opensubtitles", errors.New("401"))
	if !IsAuthError(err) {
		t.Error("auth error not recognized")
	}
	if IsAuthError(NewProviderError("x", nil)) {
		t.Error("generic error recognized as auth")
	}

	wrapped := NewUnavailableError("podnapisi", errors.New("503"))
	if !IsUnavailableError(wrapped) {
		t.Error("unavailable error not recognized")
	}

	for _, err := range []error{
		NewDownloadLimitError("x"),
		NewTooManyRequestsError("x"),
		NewTimeoutError("x", nil),
	} {
		if !IsDiscardError(err) {
			t.Errorf("%v should be a discard error", err)
		}
	}
	if IsDiscardError(NewUnavailableError("x", nil)) {
		t.Error("unavailable is retried, not discarded outright")
	}

	if got := GetErrorCode(NewDownloadLimitError("x")); got != ErrCodeDownloadLimit {
		t.Errorf("GetErrorCode = %q", got)
	}
	if got := GetErrorCode(errors.New("plain")); got != "" {
		t.Errorf("GetErrorCode for plain error = %q", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewUnavailableError("gestdown", cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestRegistry(t *testing.T) {
	Register("registrytest", func(s Settings, c *cache.Cache, log zerolog.Logger) (Provider, error) {
		return &stubProvider{}, nil
	})

	p, err := New("registrytest", Settings{}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("nil provider from factory")
	}

	if _, err := New("missing", Settings{}, nil, zerolog.Nop()); !errors.Is(err, ErrConfiguration) {
		t.Errorf("unknown provider error = %v, want configuration error", err)
	}
}
