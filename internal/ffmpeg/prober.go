package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mediasift/mediasift/internal/models"
)

// ProbeResult contains the complete ffprobe output.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	NumStreams     int               `json:"nb_streams"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	StartTime      string            `json:"start_time"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	ProbeScore     int               `json:"probe_score"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	CodecLongName string            `json:"codec_long_name"`
	CodecType     string            `json:"codec_type"` // video, audio, subtitle, data
	Width         int               `json:"width,omitempty"`
	Height        int               `json:"height,omitempty"`
	PixFmt        string            `json:"pix_fmt,omitempty"`
	SampleRate    string            `json:"sample_rate,omitempty"`
	Channels      int               `json:"channels,omitempty"`
	ChannelLayout string            `json:"channel_layout,omitempty"`
	RFrameRate    string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate  string            `json:"avg_frame_rate,omitempty"`
	Duration      string            `json:"duration,omitempty"`
	BitRate       string            `json:"bit_rate,omitempty"`
	NumFrames     string            `json:"nb_frames,omitempty"`
	Disposition   ProbeDisposition  `json:"disposition,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// ProbeDisposition contains stream disposition flags.
type ProbeDisposition struct {
	Default     int `json:"default"`
	AttachedPic int `json:"attached_pic"`
}

// MediaInfo is the simplified view of a probed local file that the
// decomposer consumes.
type MediaInfo struct {
	ContainerFormat string `json:"container_format,omitempty"`
	DurationMs      int64  `json:"duration_ms"`

	HasVideo       bool    `json:"has_video"`
	VideoCodec     string  `json:"video_codec,omitempty"`
	VideoWidth     int     `json:"video_width,omitempty"`
	VideoHeight    int     `json:"video_height,omitempty"`
	VideoFramerate float64 `json:"video_framerate,omitempty"`

	HasAudio        bool   `json:"has_audio"`
	AudioCodec      string `json:"audio_codec,omitempty"`
	AudioSampleRate int    `json:"audio_sample_rate,omitempty"`
	AudioChannels   int    `json:"audio_channels,omitempty"`
}

// Prober handles ffprobe operations on local files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new media prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe probes a local media file and returns detailed information.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, models.WrapKind(models.ErrKindDecode,
				fmt.Errorf("probe timeout after %v", p.timeout))
		}
		return nil, models.WrapKind(models.ErrKindDecode,
			fmt.Errorf("%w: ffprobe: %v", models.ErrDecodeFailed, err))
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, models.WrapKind(models.ErrKindDecode,
			fmt.Errorf("parsing ffprobe output: %w", err))
	}
	return &result, nil
}

// ProbeMedia probes a file and reduces the result to the fields the
// decomposer needs. A container with zero decodable streams is a decode
// error.
func (p *Prober) ProbeMedia(ctx context.Context, path string) (*MediaInfo, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	info := reduceProbe(result)
	if !info.HasVideo && !info.HasAudio {
		return nil, models.WrapKind(models.ErrKindDecode,
			fmt.Errorf("%w: no decodable streams in %s", models.ErrUnsupportedCodec, path))
	}
	return info, nil
}

// reduceProbe collapses raw ffprobe output to the decomposer view, picking
// the first real video and audio tracks.
func reduceProbe(result *ProbeResult) *MediaInfo {
	info := &MediaInfo{
		ContainerFormat: result.Format.FormatName,
		DurationMs:      parseDurationMs(result.Format.Duration),
	}

	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			// Attached pictures (cover art) are not real video tracks.
			if stream.Disposition.AttachedPic == 1 {
				continue
			}
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.VideoCodec = stream.CodecName
			info.VideoWidth = stream.Width
			info.VideoHeight = stream.Height
			info.VideoFramerate = parseFramerate(stream.AvgFrameRate)
			if info.VideoFramerate == 0 {
				info.VideoFramerate = parseFramerate(stream.RFrameRate)
			}
		case "audio":
			if info.HasAudio {
				continue
			}
			info.HasAudio = true
			info.AudioCodec = stream.CodecName
			info.AudioChannels = stream.Channels
			if rate, err := strconv.Atoi(stream.SampleRate); err == nil {
				info.AudioSampleRate = rate
			}
		}
		if info.DurationMs == 0 {
			info.DurationMs = parseDurationMs(stream.Duration)
		}
	}
	return info
}

// parseDurationMs parses an ffprobe seconds string into milliseconds.
func parseDurationMs(s string) int64 {
	if s == "" || s == "N/A" {
		return 0
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil || seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	return int64(seconds * 1000)
}

// parseFramerate parses an ffprobe rational like "30000/1001".
func parseFramerate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		rate, _ := strconv.ParseFloat(s, 64)
		return rate
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
