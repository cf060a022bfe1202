package refiner

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/video"
	"github.com/sublight/sublight/internal/videohash"
)

// HashRefiner attaches file facts: size, modification time and every
// registered content hash. It needs the video to exist on disk.
type HashRefiner struct {
	log zerolog.Logger
}

// NewHashRefiner builds the hash refiner.
func NewHashRefiner(log zerolog.Logger) *HashRefiner {
	return &HashRefiner{log: log.With().Str("refiner", "hash").Logger()}
}

func (r *HashRefiner) Name() string { return "hash" }

// Refine stats and hashes the video file. Videos without a file on
// disk are left alone, already hashed videos are skipped unless forced.
func (r *HashRefiner) Refine(ctx context.Context, v *video.Video, opts Options) error {
	if !opts.Force && len(v.Hashes) > 0 {
		return nil
	}
	stat, err := os.Stat(v.Name)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Debug().Str("video", v.Name).Msg("No file on disk, skipping")
			return nil
		}
		return fmt.Errorf("stat %s: %w", v.Name, err)
	}
	if stat.IsDir() {
		return fmt.Errorf("%s is a directory", v.Name)
	}

	hashes := videohash.ComputeAll(v.Name)

	v.Size = stat.Size()
	v.ModTime = stat.ModTime()
	v.Hashes = hashes
	r.log.Debug().
		Str("video", v.Name).
		Int64("size", v.Size).
		Int("hashes", len(hashes)).
		Msg("Hashed video file")
	return nil
}

func init() {
	Register("hash", func(_ Settings, _ *cache.Cache, log zerolog.Logger) (Refiner, error) {
		return NewHashRefiner(log), nil
	})
}
