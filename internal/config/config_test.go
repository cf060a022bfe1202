package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	def := Default()
	if got, want := cfg.Server.Port, def.Server.Port; got != want {
		t.Errorf("Server.Port = %d, want %d", got, want)
	}
	if got, want := len(cfg.Download.Languages), 1; got != want {
		t.Fatalf("len(Download.Languages) = %d, want %d", got, want)
	}
	if cfg.Download.Languages[0] != "en" {
		t.Errorf("Download.Languages[0] = %q, want %q", cfg.Download.Languages[0], "en")
	}
	if cfg.Download.HearingImpaired != nil {
		t.Errorf("Download.HearingImpaired = %v, want nil", *cfg.Download.HearingImpaired)
	}
	if got, want := cfg.Cache.TTL, 15*time.Minute; got != want {
		t.Errorf("Cache.TTL = %v, want %v", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sublight.yml")
	data := `
download:
  languages: [en, fr]
  providers: [opensubtitles, podnapisi]
  min_score: 50
  hearing_impaired: false
  only_one: true
  age: 168h
history:
  path: /var/lib/sublight/sublight.db
log:
  level: debug
server:
  port: 9000
watch:
  directories: [/media/movies, /media/tv]
  interval: 30m
notify:
  url: https://hooks.example.com/sublight
  headers:
    X-Api-Key: hook-secret
provider:
  opensubtitles:
    api_key: secret
    timeout: 20s
refiner:
  omdb:
    api_key: omdb-secret
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got, want := len(cfg.Download.Languages), 2; got != want {
		t.Errorf("len(Download.Languages) = %d, want %d", got, want)
	}
	if got, want := cfg.Download.MinScore, 50; got != want {
		t.Errorf("Download.MinScore = %d, want %d", got, want)
	}
	if cfg.Download.HearingImpaired == nil || *cfg.Download.HearingImpaired {
		t.Errorf("Download.HearingImpaired = %v, want false", cfg.Download.HearingImpaired)
	}
	if !cfg.Download.OnlyOne {
		t.Error("Download.OnlyOne = false, want true")
	}
	if got, want := cfg.Download.Age, 7*24*time.Hour; got != want {
		t.Errorf("Download.Age = %v, want %v", got, want)
	}
	if got, want := cfg.History.Path, "/var/lib/sublight/sublight.db"; got != want {
		t.Errorf("History.Path = %q, want %q", got, want)
	}
	if got, want := cfg.Log.Level, "debug"; got != want {
		t.Errorf("Log.Level = %q, want %q", got, want)
	}
	if got, want := cfg.Server.Port, 9000; got != want {
		t.Errorf("Server.Port = %d, want %d", got, want)
	}
	if got, want := cfg.Watch.Interval, 30*time.Minute; got != want {
		t.Errorf("Watch.Interval = %v, want %v", got, want)
	}
	if !cfg.Notify.Enabled() {
		t.Error("Notify.Enabled() = false, want true")
	}
	if got, want := cfg.Notify.Method, "POST"; got != want {
		t.Errorf("Notify.Method = %q, want %q", got, want)
	}
	if got, want := cfg.Notify.Headers["x-api-key"], "hook-secret"; got != want {
		t.Errorf("Notify.Headers[x-api-key] = %q, want %q", got, want)
	}

	osub := cfg.Providers["opensubtitles"]
	if got, want := osub.APIKey, "secret"; got != want {
		t.Errorf("Providers[opensubtitles].APIKey = %q, want %q", got, want)
	}
	if got, want := osub.Timeout, 20*time.Second; got != want {
		t.Errorf("Providers[opensubtitles].Timeout = %v, want %v", got, want)
	}
	if got, want := cfg.Refiners["omdb"].APIKey, "omdb-secret"; got != want {
		t.Errorf("Refiners[omdb].APIKey = %q, want %q", got, want)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SUBLIGHT_SERVER_PORT", "9090")
	t.Setenv("SUBLIGHT_LOG_LEVEL", "trace")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := cfg.Server.Port, 9090; got != want {
		t.Errorf("Server.Port = %d, want %d", got, want)
	}
	if got, want := cfg.Log.Level, "trace"; got != want {
		t.Errorf("Log.Level = %q, want %q", got, want)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("Load() error = nil, want error for missing explicit file")
	}
}

func TestServerAddress(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 8080}
	if got, want := c.Address(), "127.0.0.1:8080"; got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
