package refiner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/cache"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/video"
)

const probeTimeout = 30 * time.Second

// MetadataRefiner reads embedded track metadata with ffprobe and fills
// resolution, frame rate, codecs, duration and the languages of
// embedded subtitle tracks. Missing tracks are tolerated.
type MetadataRefiner struct {
	command string
	log     zerolog.Logger
}

// NewMetadataRefiner builds the refiner. command overrides the ffprobe
// binary, empty means PATH lookup.
func NewMetadataRefiner(command string, log zerolog.Logger) *MetadataRefiner {
	if command == "" {
		command = "ffprobe"
	}
	return &MetadataRefiner{
		command: command,
		log:     log.With().Str("refiner", "metadata").Logger(),
	}
}

func (r *MetadataRefiner) Name() string { return "metadata" }

// Refine probes the file. Videos without a file on disk are left
// alone, already probed videos are skipped unless forced.
func (r *MetadataRefiner) Refine(ctx context.Context, v *video.Video, opts Options) error {
	if !opts.Force && v.Duration > 0 && v.VideoCodec != "" {
		return nil
	}
	if _, err := os.Stat(v.Name); err != nil {
		if os.IsNotExist(err) {
			r.log.Debug().Str("video", v.Name).Msg("No file on disk, skipping")
			return nil
		}
		return fmt.Errorf("stat %s: %w", v.Name, err)
	}

	probed, err := r.probe(ctx, v.Name)
	if err != nil {
		return err
	}

	// Fields apply only on success, a failed probe leaves the video
	// untouched.
	if probed.resolution != "" {
		v.Resolution = probed.resolution
	}
	if probed.frameRate > 0 {
		v.FrameRate = probed.frameRate
	}
	if probed.videoCodec != "" {
		v.VideoCodec = probed.videoCodec
	}
	if probed.audioCodec != "" {
		v.AudioCodec = probed.audioCodec
	}
	if probed.duration > 0 {
		v.Duration = probed.duration
	}
	if len(probed.subtitleLanguages) > 0 {
		if v.SubtitleLanguages == nil {
			v.SubtitleLanguages = language.NewSet()
		}
		for l := range probed.subtitleLanguages {
			v.SubtitleLanguages.Add(l)
		}
	}
	r.log.Debug().
		Str("video", v.Name).
		Str("resolution", v.Resolution).
		Str("video_codec", v.VideoCodec).
		Dur("duration", v.Duration).
		Msg("Probed embedded metadata")
	return nil
}

type probeResult struct {
	resolution        string
	frameRate         float64
	videoCodec        string
	audioCodec        string
	duration          time.Duration
	subtitleLanguages language.Set
}

func (r *MetadataRefiner) probe(ctx context.Context, path string) (*probeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", r.command, err, stderr.String())
	}
	return parseProbeOutput(stdout.Bytes())
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Profile    string `json:"profile"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	Tags       struct {
		Language string `json:"language"`
	} `json:"tags"`
}

func parseProbeOutput(data []byte) (*probeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing probe output: %w", err)
	}

	result := &probeResult{subtitleLanguages: language.NewSet()}
	if out.Format.Duration != "" {
		if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			result.duration = time.Duration(secs * float64(time.Second))
		}
	}

	var sawVideo, sawAudio bool
	for _, stream := range out.Streams {
		switch stream.CodecType {
		case "video":
			if sawVideo {
				continue
			}
			sawVideo = true
			result.resolution = resolutionFromHeight(stream.Height)
			result.frameRate = parseFrameRate(stream.RFrameRate)
			result.videoCodec = videoCodecName(stream.CodecName)
		case "audio":
			if sawAudio {
				continue
			}
			sawAudio = true
			result.audioCodec = audioCodecName(stream.CodecName, stream.Profile)
		case "subtitle":
			if l, err := language.FromAlpha3(stream.Tags.Language); err == nil && l != language.Undefined {
				result.subtitleLanguages.Add(l)
			}
		}
	}
	return result, nil
}

// resolutionFromHeight maps a pixel height to the release vocabulary.
func resolutionFromHeight(height int) string {
	switch {
	case height >= 2160:
		return "2160p"
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 576:
		return "576p"
	case height >= 480:
		return "480p"
	default:
		return ""
	}
}

// parseFrameRate parses ffprobe's fractional rate ("24000/1001").
func parseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	if !found {
		f, _ := strconv.ParseFloat(rate, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

var videoCodecNames = map[string]string{
	"h264":       "H.264",
	"hevc":       "H.265",
	"av1":        "AV1",
	"vp9":        "VP9",
	"mpeg2video": "MPEG-2",
	"mpeg4":      "Xvid",
}

func videoCodecName(codec string) string {
	return videoCodecNames[strings.ToLower(codec)]
}

var audioCodecNames = map[string]string{
	"aac":    "AAC",
	"ac3":    "Dolby Digital",
	"eac3":   "Dolby Digital Plus",
	"truehd": "Dolby TrueHD",
	"flac":   "FLAC",
	"mp3":    "MP3",
	"opus":   "Opus",
}

func audioCodecName(codec, profile string) string {
	codec = strings.ToLower(codec)
	if codec == "dts" {
		if strings.Contains(strings.ToLower(profile), "ma") {
			return "DTS-HD"
		}
		return "DTS"
	}
	return audioCodecNames[codec]
}

func init() {
	Register("metadata", func(s Settings, _ *cache.Cache, log zerolog.Logger) (Refiner, error) {
		return NewMetadataRefiner(s.Command, log), nil
	})
}
