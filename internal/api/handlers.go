package api

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sublight/sublight/internal/config"
	"github.com/sublight/sublight/internal/engine"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/notify"
	"github.com/sublight/sublight/internal/score"
	"github.com/sublight/sublight/internal/subtitle"
	"github.com/sublight/sublight/internal/video"
)

type searchRequest struct {
	Path      string   `json:"path"`
	Languages []string `json:"languages"`
}

type candidate struct {
	Provider        string   `json:"provider"`
	ID              string   `json:"id"`
	Language        string   `json:"language"`
	Score           int      `json:"score"`
	Matches         []string `json:"matches"`
	HearingImpaired bool     `json:"hearingImpaired"`
	PageLink        string   `json:"pageLink,omitempty"`
	Releases        []string `json:"releases,omitempty"`
}

type downloadRequest struct {
	Paths     []string `json:"paths"`
	Languages []string `json:"languages"`
	MinScore  *int     `json:"minScore"`
	OnlyOne   *bool    `json:"onlyOne"`
	Force     bool     `json:"force"`
	Directory string   `json:"directory"`
}

type downloadedSubtitle struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
	Language string `json:"language"`
}

type videoResult struct {
	Video     string               `json:"video"`
	Subtitles []downloadedSubtitle `json:"subtitles"`
}

type providerStatus struct {
	Name      string `json:"name"`
	Discarded bool   `json:"discarded"`
}

// --- Handler implementations ---

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"version":   config.Version,
		"startTime": s.started.Format(time.RFC3339),
		"providers": s.pool.Providers(),
		"refiners":  s.engine.Refiners(),
		"languages": s.cfg.Download.Languages,
	})
}

// search lists scored candidates for one video without downloading.
func (s *Server) search(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}
	langs, err := s.requestLanguages(req.Languages)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	v, err := video.Scan(req.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return echo.NewHTTPError(http.StatusNotFound, "video not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if err := s.engine.Refine(ctx, v, false); err != nil {
		return err
	}
	subs, err := s.pool.ListSubtitles(ctx, v, langs)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	prefs := subtitle.Preferences{
		HearingImpaired: s.cfg.Download.HearingImpaired,
		ForeignOnly:     s.cfg.Download.ForeignOnly,
	}
	candidates := make([]candidate, 0, len(subs))
	for _, sub := range subs {
		matches := sub.GetMatches(v, prefs)
		candidates = append(candidates, candidate{
			Provider:        sub.ProviderName,
			ID:              sub.ID,
			Language:        sub.Language.String(),
			Score:           score.Compute(matches, v.Kind),
			Matches:         score.Breakdown(matches, v.Kind),
			HearingImpaired: sub.HearingImpaired,
			PageLink:        sub.PageLink,
			Releases:        sub.Releases,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	return c.JSON(http.StatusOK, map[string]interface{}{
		"video":      v.Name,
		"kind":       string(v.Kind),
		"maxScore":   score.Max(v.Kind),
		"candidates": candidates,
	})
}

// download runs the full pipeline for the requested paths.
func (s *Server) download(c echo.Context) error {
	var req downloadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Paths) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "paths is required")
	}
	langs, err := s.requestLanguages(req.Languages)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	videos, err := s.collectVideos(req.Paths)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.engine.DownloadBestSubtitles(c.Request().Context(), videos, langs, s.downloadOptions(req))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	s.notifyDownloads(result)

	results := make([]videoResult, 0, len(result))
	for v, subs := range result {
		vr := videoResult{Video: v.Name, Subtitles: make([]downloadedSubtitle, 0, len(subs))}
		for _, sub := range subs {
			vr.Subtitles = append(vr.Subtitles, downloadedSubtitle{
				Provider: sub.ProviderName,
				ID:       sub.ID,
				Language: sub.Language.String(),
			})
		}
		results = append(results, vr)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Video < results[j].Video })

	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":   result.Count(),
		"videos":  len(videos),
		"results": results,
	})
}

func (s *Server) getHistory(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "history is disabled")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	entries, err := s.history.Recent(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}

// testNotification posts a test event to the configured webhook.
func (s *Server) testNotification(c echo.Context) error {
	if s.notifier == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "notifications are disabled")
	}
	if err := s.notifier.Test(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) getProviders(c echo.Context) error {
	discarded := make(map[string]bool)
	for _, name := range s.pool.Discarded() {
		discarded[name] = true
	}

	names := s.pool.Providers()
	providers := make([]providerStatus, 0, len(names))
	for _, name := range names {
		providers = append(providers, providerStatus{Name: name, Discarded: discarded[name]})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"providers": providers})
}

// --- Helpers ---

// requestLanguages parses the requested language tags, falling back to
// the configured defaults when the request carries none.
func (s *Server) requestLanguages(tags []string) (language.Set, error) {
	if len(tags) == 0 {
		tags = s.cfg.Download.Languages
	}
	return language.ParseSet(tags)
}

// collectVideos scans each path, walking directories recursively.
func (s *Server) collectVideos(paths []string) ([]*video.Video, error) {
	var videos []*video.Video
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			found, err := video.ScanDirectory(path)
			if err != nil {
				return nil, err
			}
			videos = append(videos, found...)
			continue
		}
		v, err := video.Scan(path)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, nil
}

// notifyDownloads posts a download event without holding up the
// response. The request context is not used because it ends with the
// response.
func (s *Server) notifyDownloads(result engine.Result) {
	if s.notifier == nil || result.Count() == 0 {
		return
	}
	events := notify.FromResult(result)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notifier.Downloaded(ctx, events); err != nil {
			s.logger.Warn().Err(err).Msg("download notification failed")
		}
	}()
}

// downloadOptions merges the configured defaults with the request
// overrides.
func (s *Server) downloadOptions(req downloadRequest) engine.Options {
	d := s.cfg.Download
	opts := engine.Options{
		MinScore:        d.MinScore,
		HearingImpaired: d.HearingImpaired,
		ForeignOnly:     d.ForeignOnly,
		OnlyOne:         d.OnlyOne,
		Age:             d.Age,
		Force:           req.Force,
		IgnoreIDs:       d.IgnoreSet(),
		Directory:       d.Directory,
	}
	if req.MinScore != nil {
		opts.MinScore = *req.MinScore
	}
	if req.OnlyOne != nil {
		opts.OnlyOne = *req.OnlyOne
	}
	if req.Directory != "" {
		opts.Directory = req.Directory
	}
	return opts
}
