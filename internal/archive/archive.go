// Package archive extracts subtitle payloads from downloaded archives.
// Only ZIP is handled; RAR is recognized and rejected so callers can
// report it instead of feeding garbage to the decoder.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	ErrRarNotSupported = errors.New("rar archives are not supported")
	ErrNotArchive      = errors.New("data is not a zip archive")
	ErrNoSubtitle      = errors.New("no subtitle file in archive")
	ErrTooManyFiles    = errors.New("more than one subtitle file in archive")
)

var rarSignature = []byte("Rar!\x1a\x07")

var subtitleExtensions = map[string]bool{
	".srt": true,
	".sub": true,
	".ssa": true,
	".ass": true,
	".vtt": true,
	".smi": true,
	".txt": true,
}

// IsArchive reports whether data starts like a ZIP or RAR archive.
func IsArchive(data []byte) bool {
	return bytes.HasPrefix(data, []byte("PK")) || bytes.HasPrefix(data, rarSignature)
}

// ExtractSubtitle returns the single subtitle stream contained in a ZIP
// archive. Directories and non-subtitle files such as nfo sheets are
// ignored; more than one subtitle file is an error because the caller
// cannot know which one was meant.
func ExtractSubtitle(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, rarSignature) {
		return nil, ErrRarNotSupported
	}
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, ErrNotArchive
	}

	var candidates []*zip.File
	var files []*zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
		if subtitleExtensions[strings.ToLower(path.Ext(f.Name))] {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		// A single unrecognized file is still the best guess.
		if len(files) == 1 {
			candidates = files
		} else {
			return nil, ErrNoSubtitle
		}
	}
	if len(candidates) > 1 {
		return nil, ErrTooManyFiles
	}

	rc, err := candidates[0].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
