package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/config"
	"github.com/sublight/sublight/internal/engine"
	"github.com/sublight/sublight/internal/history"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/notify"
	_ "github.com/sublight/sublight/internal/provider/mock"
	"github.com/sublight/sublight/internal/provider/pool"
	"github.com/sublight/sublight/internal/subtitle"
)

func setupTestServer(t *testing.T, withHistory bool) *Server {
	t.Helper()

	c := cache.New(cache.DefaultConfig())
	t.Cleanup(c.Close)

	cfg := config.Default()
	cfg.Download.Languages = []string{"en"}
	cfg.Download.Providers = []string{"mock"}

	var hist *history.Store
	if withHistory {
		var err error
		hist, err = history.Open(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
		if err != nil {
			t.Fatalf("history.Open() error = %v", err)
		}
		t.Cleanup(func() { hist.Close() })
	}

	poolCfg := pool.Config{Providers: []string{"mock"}}
	eng, err := engine.New(engine.Config{Pool: poolCfg}, c, hist, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	pl, err := pool.New(poolCfg, c, zerolog.Nop())
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}

	return NewServer(cfg, eng, pl, hist, nil, zerolog.Nop())
}

func videoOnDisk(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Man.of.Steel.2013.720p.BluRay.x264-FELONY.mkv")
	if err := os.WriteFile(path, []byte("not a real video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	s := setupTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("HealthCheck status = %d, want %d", rec.Code, http.StatusOK)
	}
	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("HealthCheck status = %q, want %q", response["status"], "ok")
	}
}

func TestGetStatus(t *testing.T) {
	s := setupTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GetStatus status = %d, want %d", rec.Code, http.StatusOK)
	}
	var response map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if _, ok := response["version"]; !ok {
		t.Error("GetStatus missing version field")
	}
	providers, ok := response["providers"].([]interface{})
	if !ok || len(providers) != 1 || providers[0] != "mock" {
		t.Errorf("GetStatus providers = %v, want [mock]", response["providers"])
	}
}

func TestSearch(t *testing.T) {
	s := setupTestServer(t, true)
	path := videoOnDisk(t)

	rec := postJSON(t, s, "/api/v1/search", fmt.Sprintf(`{"path":%q,"languages":["en"]}`, path))
	if rec.Code != http.StatusOK {
		t.Fatalf("Search status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var response struct {
		Video      string      `json:"video"`
		Kind       string      `json:"kind"`
		MaxScore   int         `json:"maxScore"`
		Candidates []candidate `json:"candidates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Kind != "movie" {
		t.Errorf("Search kind = %q, want %q", response.Kind, "movie")
	}
	if len(response.Candidates) != 1 {
		t.Fatalf("Search candidates = %d, want 1", len(response.Candidates))
	}
	got := response.Candidates[0]
	if got.Provider != "mock" {
		t.Errorf("candidate provider = %q, want %q", got.Provider, "mock")
	}
	if got.Score <= 0 || got.Score > response.MaxScore {
		t.Errorf("candidate score = %d, want within (0, %d]", got.Score, response.MaxScore)
	}
}

func TestSearchMissingVideo(t *testing.T) {
	s := setupTestServer(t, true)

	rec := postJSON(t, s, "/api/v1/search", `{"path":"/nonexistent/video.mkv"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Search status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSearchRequiresPath(t *testing.T) {
	s := setupTestServer(t, true)

	rec := postJSON(t, s, "/api/v1/search", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Search status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDownload(t *testing.T) {
	s := setupTestServer(t, true)
	path := videoOnDisk(t)

	rec := postJSON(t, s, "/api/v1/download", fmt.Sprintf(`{"paths":[%q]}`, path))
	if rec.Code != http.StatusOK {
		t.Fatalf("Download status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var response struct {
		Total   int           `json:"total"`
		Videos  int           `json:"videos"`
		Results []videoResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Total != 1 || response.Videos != 1 {
		t.Fatalf("Download total = %d videos = %d, want 1 and 1", response.Total, response.Videos)
	}
	if len(response.Results) != 1 || len(response.Results[0].Subtitles) != 1 {
		t.Fatalf("Download results = %+v, want one video with one subtitle", response.Results)
	}

	english := language.Make("eng", "", "")
	if _, err := os.Stat(subtitle.Path(path, english, ".srt")); err != nil {
		t.Errorf("saved subtitle missing: %v", err)
	}

	// The download shows up in history.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	histRec := httptest.NewRecorder()
	s.echo.ServeHTTP(histRec, req)
	if histRec.Code != http.StatusOK {
		t.Fatalf("GetHistory status = %d, want %d", histRec.Code, http.StatusOK)
	}
	var histResponse struct {
		Entries []history.Entry `json:"entries"`
	}
	if err := json.Unmarshal(histRec.Body.Bytes(), &histResponse); err != nil {
		t.Fatalf("Failed to parse history response: %v", err)
	}
	if len(histResponse.Entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(histResponse.Entries))
	}
	if histResponse.Entries[0].Provider != "mock" {
		t.Errorf("history provider = %q, want %q", histResponse.Entries[0].Provider, "mock")
	}
}

func TestDownloadMissingPath(t *testing.T) {
	s := setupTestServer(t, true)

	rec := postJSON(t, s, "/api/v1/download", `{"paths":["/nonexistent/video.mkv"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Download status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetHistoryDisabled(t *testing.T) {
	s := setupTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GetHistory status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestGetHistoryInvalidLimit(t *testing.T) {
	s := setupTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=zero", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("GetHistory status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestNotificationTestDisabled(t *testing.T) {
	s := setupTestServer(t, true)

	rec := postJSON(t, s, "/api/v1/notifications/test", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("TestNotification status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestNotificationTest(t *testing.T) {
	var gotBody notify.Payload
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer hook.Close()

	s := setupTestServer(t, true)
	s.notifier = notify.New(notify.Config{URL: hook.URL}, hook.Client(), zerolog.Nop())

	rec := postJSON(t, s, "/api/v1/notifications/test", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("TestNotification status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotBody.EventType != "test" {
		t.Errorf("eventType = %q, want test", gotBody.EventType)
	}
}

func TestGetProviders(t *testing.T) {
	s := setupTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GetProviders status = %d, want %d", rec.Code, http.StatusOK)
	}
	var response struct {
		Providers []providerStatus `json:"providers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(response.Providers) != 1 {
		t.Fatalf("GetProviders = %+v, want one provider", response.Providers)
	}
	if response.Providers[0].Name != "mock" || response.Providers[0].Discarded {
		t.Errorf("GetProviders[0] = %+v, want mock not discarded", response.Providers[0])
	}
}
