package scanner

import (
	"path/filepath"
	"strings"
)

// VideoExtensions contains the video file extensions worth scanning.
var VideoExtensions = map[string]bool{
	".mkv":  true,
	".mp4":  true,
	".avi":  true,
	".m4v":  true,
	".ts":   true,
	".wmv":  true,
	".mov":  true,
	".webm": true,
	".flv":  true,
	".mpg":  true,
	".mpeg": true,
	".m2ts": true,
	".ogv":  true,
	".divx": true,
}

// SubtitleExtensions contains the subtitle file extensions recognized
// when checking which languages a video already has next to it.
var SubtitleExtensions = map[string]bool{
	".srt": true,
	".sub": true,
	".ssa": true,
	".ass": true,
	".vtt": true,
	".smi": true,
}

// SampleFileIndicators flag files that are not worth fetching subtitles
// for.
var SampleFileIndicators = []string{
	"sample",
	"trailer",
	"proof",
}

// IsVideoFile checks whether a filename has a video extension.
func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}

// IsSubtitleFile checks whether a filename has a subtitle extension.
func IsSubtitleFile(filename string) bool {
	return SubtitleExtensions[strings.ToLower(filepath.Ext(filename))]
}

// IsSampleFile checks whether a filename marks a sample or trailer.
func IsSampleFile(filename string) bool {
	lower := strings.ToLower(filename)
	for _, indicator := range SampleFileIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
