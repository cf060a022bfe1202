package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunUnknownCommand(t *testing.T) {
	if code := run([]string{"frobnicate"}); code != 2 {
		t.Errorf("run(frobnicate) = %d, want 2", code)
	}
}

func TestRunVersion(t *testing.T) {
	if code := run([]string{"version"}); code != 0 {
		t.Errorf("run(version) = %d, want 0", code)
	}
}

func TestRunDownloadWithoutPaths(t *testing.T) {
	if code := run([]string{"download"}); code != 2 {
		t.Errorf("run(download) = %d, want 2", code)
	}
}

func TestRunWatchWithoutDirectories(t *testing.T) {
	t.Chdir(t.TempDir())
	if code := run([]string{"watch"}); code != 1 {
		t.Errorf("run(watch) = %d, want 1", code)
	}
}

func TestRunHistoryEmpty(t *testing.T) {
	t.Chdir(t.TempDir())
	if code := run([]string{"history"}); code != 0 {
		t.Errorf("run(history) = %d, want 0", code)
	}
	// The default history path was created relative to the working
	// directory.
	if _, err := os.Stat(filepath.Join("data", "sublight.db")); err != nil {
		t.Errorf("history database not created: %v", err)
	}
}

func TestCollectVideos(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Man.of.Steel.2013.720p.BluRay.x264-FELONY.mkv")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	videos, err := collectVideos([]string{dir})
	if err != nil {
		t.Fatalf("collectVideos() error = %v", err)
	}
	if len(videos) != 1 {
		t.Fatalf("collectVideos() found %d videos, want 1", len(videos))
	}

	videos, err = collectVideos([]string{path})
	if err != nil {
		t.Fatalf("collectVideos() error = %v", err)
	}
	if len(videos) != 1 || videos[0].Title != "Man of Steel" {
		t.Errorf("collectVideos() = %+v, want Man of Steel", videos)
	}
}

func TestCollectVideosRejectsNonVideo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := collectVideos([]string{path}); err == nil {
		t.Fatal("collectVideos() accepted a non-video file")
	}
}
