package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/mediasift/mediasift/internal/models"
)

// Extraction defaults. Audio is normalized to mono 16 kHz signed 16-bit PCM,
// the shape speech and music models expect.
const (
	PCMSampleRate = 16000
	PCMChannels   = 1

	extractTimeout = 2 * time.Minute
)

// Extractor pulls frames and audio chunks out of local media files by
// shelling out to ffmpeg.
type Extractor struct {
	ffmpegPath string
	timeout    time.Duration
}

// NewExtractor creates a new media extractor.
func NewExtractor(ffmpegPath string) *Extractor {
	return &Extractor{
		ffmpegPath: ffmpegPath,
		timeout:    extractTimeout,
	}
}

// WithTimeout sets the per-invocation timeout.
func (e *Extractor) WithTimeout(timeout time.Duration) *Extractor {
	e.timeout = timeout
	return e
}

// FrameJPEG extracts a single frame at the given timestamp as JPEG bytes.
// maxDim, when > 0, bounds the longer edge to keep payloads small.
func (e *Extractor) FrameJPEG(ctx context.Context, path string, tsMs int64, maxDim int) ([]byte, error) {
	args := []string{
		"-v", "error",
		"-ss", formatSeconds(tsMs),
		"-i", path,
		"-frames:v", "1",
		"-q:v", "3",
	}
	if maxDim > 0 {
		scale := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", maxDim, maxDim)
		args = append(args, "-vf", scale)
	}
	args = append(args, "-f", "image2", "pipe:1")

	out, err := e.run(ctx, args)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, models.WrapKind(models.ErrKindDecode,
			fmt.Errorf("%w: empty frame at %dms in %s", models.ErrDecodeFailed, tsMs, path))
	}
	return out, nil
}

// AudioPCM extracts an audio span as mono 16 kHz s16le PCM. durMs <= 0
// extracts to end of stream.
func (e *Extractor) AudioPCM(ctx context.Context, path string, startMs, durMs int64) ([]byte, error) {
	args := []string{
		"-v", "error",
		"-ss", formatSeconds(startMs),
	}
	if durMs > 0 {
		args = append(args, "-t", formatSeconds(durMs))
	}
	args = append(args,
		"-i", path,
		"-vn",
		"-ac", strconv.Itoa(PCMChannels),
		"-ar", strconv.Itoa(PCMSampleRate),
		"-f", "s16le",
		"pipe:1",
	)

	out, err := e.run(ctx, args)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, models.WrapKind(models.ErrKindDecode,
			fmt.Errorf("%w: empty audio at %dms in %s", models.ErrDecodeFailed, startMs, path))
	}
	return out, nil
}

func (e *Extractor) run(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, models.WrapKind(models.ErrKindDecode,
				fmt.Errorf("ffmpeg timeout after %v", e.timeout))
		}
		msg := firstLine(stderr.String())
		return nil, models.WrapKind(models.ErrKindDecode,
			fmt.Errorf("%w: ffmpeg: %v (%s)", models.ErrDecodeFailed, err, msg))
	}
	return stdout.Bytes(), nil
}

// DecodePCM16 converts little-endian s16 PCM bytes to samples. A trailing
// odd byte is dropped.
func DecodePCM16(raw []byte) []int16 {
	n := len(raw) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return samples
}

// formatSeconds renders a millisecond offset as fractional seconds for
// ffmpeg arguments.
func formatSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
