// Package media decomposes files into modality-tagged segments that carry
// the payloads the encoder pool embeds. Video yields scene-sampled visual
// frames plus windowed audio chunks, audio yields chunks classified as music
// or speech, images and text yield their content directly.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/ffmpeg"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
)

// frameMaxDim bounds extracted frame size; encoder inputs do not benefit
// from more.
const frameMaxDim = 640

// referencePixels normalizes image quality scoring (full HD).
const referencePixels = 1920 * 1080

// Payload carries the raw content of one segment to the encoder pool.
// Exactly one field is set, matching the segment's modality.
type Payload struct {
	ImageJPEG []byte
	AudioPCM  []byte
	Text      string
}

// SegmentDraft is a decomposed segment before persistence.
type SegmentDraft struct {
	Modality models.Modality
	Seq      int
	StartMs  int64
	EndMs    int64
	Quality  float64
	Extra    models.Extra
	Payload  Payload
}

// Decomposition is the result of decomposing one file.
type Decomposition struct {
	DurationMs int64
	Segments   []SegmentDraft
	// Failures records spans that could not be decoded while the rest of
	// the file succeeded.
	Failures []string
}

// Partial reports whether some spans failed while others succeeded.
func (d *Decomposition) Partial() bool {
	return len(d.Failures) > 0 && len(d.Segments) > 0
}

// Decomposer splits files into segments.
type Decomposer struct {
	cfg       config.MediaConfig
	prober    *ffmpeg.Prober
	extractor *ffmpeg.Extractor
	log       *slog.Logger
}

// NewDecomposer creates a Decomposer using the given ffmpeg binaries.
func NewDecomposer(cfg config.MediaConfig, bin *ffmpeg.BinaryInfo, log *slog.Logger) *Decomposer {
	return &Decomposer{
		cfg:       cfg,
		prober:    ffmpeg.NewProber(bin.FFprobePath),
		extractor: ffmpeg.NewExtractor(bin.FFmpegPath),
		log:       observability.WithComponent(log, "media"),
	}
}

// Decompose splits the file at path into segments according to its media
// type. An unknown type is rejected; a file where every span fails decoding
// is a decode error; a file where only some spans fail returns those
// segments plus the failure list.
func (d *Decomposer) Decompose(ctx context.Context, path string, fileType models.FileType) (*Decomposition, error) {
	switch fileType {
	case models.FileTypeImage:
		return d.decomposeImage(path)
	case models.FileTypeText:
		return d.decomposeText(path)
	case models.FileTypeVideo:
		return d.decomposeAV(ctx, path, true)
	case models.FileTypeAudio:
		return d.decomposeAV(ctx, path, false)
	default:
		return nil, models.WrapKind(models.ErrKindInput,
			fmt.Errorf("%w: %s", models.ErrUnsupportedType, fileType))
	}
}

func (d *Decomposer) decomposeImage(path string) (*Decomposition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.WrapKind(models.ErrKindInput,
				fmt.Errorf("%w: %s", models.ErrFileMissing, path))
		}
		return nil, models.WrapKind(models.ErrKindInput, fmt.Errorf("reading %s: %w", path, err))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, models.WrapKind(models.ErrKindDecode,
			fmt.Errorf("%w: %s: %v", models.ErrDecodeFailed, path, err))
	}

	quality := float64(cfg.Width*cfg.Height) / referencePixels
	if quality > 1 {
		quality = 1
	}

	return &Decomposition{
		Segments: []SegmentDraft{{
			Modality: models.ModalityImage,
			Seq:      0,
			Quality:  quality,
			Extra: models.Extra{
				"format": format,
				"width":  cfg.Width,
				"height": cfg.Height,
			},
			Payload: Payload{ImageJPEG: raw},
		}},
	}, nil
}

func (d *Decomposer) decomposeText(path string) (*Decomposition, error) {
	text, err := LoadText(path, d.cfg.TextEncodings)
	if err != nil {
		return nil, err
	}

	chunks := ChunkText(text)
	if len(chunks) == 0 {
		return nil, models.WrapKind(models.ErrKindDecode,
			fmt.Errorf("%w: empty text content in %s", models.ErrDecodeFailed, path))
	}

	result := &Decomposition{}
	for i, chunk := range chunks {
		result.Segments = append(result.Segments, SegmentDraft{
			Modality: models.ModalityText,
			Seq:      i,
			Quality:  1,
			Extra:    models.Extra{"chars": len(chunk)},
			Payload:  Payload{Text: chunk},
		})
	}
	return result, nil
}

// decomposeAV handles video and audio containers. Video contributes a
// visual frame track when a real video stream exists; both contribute audio
// windows when an audio stream exists.
func (d *Decomposer) decomposeAV(ctx context.Context, path string, expectVideo bool) (*Decomposition, error) {
	info, err := d.prober.ProbeMedia(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.DurationMs <= 0 {
		return nil, models.WrapKind(models.ErrKindDecode,
			fmt.Errorf("%w: zero duration in %s", models.ErrDecodeFailed, path))
	}

	result := &Decomposition{DurationMs: info.DurationMs}

	if expectVideo && info.HasVideo {
		if err := d.sampleFrames(ctx, path, info.DurationMs, result); err != nil {
			return nil, err
		}
	}
	if info.HasAudio {
		if err := d.sampleAudio(ctx, path, info.DurationMs, result); err != nil {
			return nil, err
		}
	}

	if len(result.Segments) == 0 {
		if len(result.Failures) > 0 {
			return nil, models.WrapKind(models.ErrKindDecode,
				fmt.Errorf("%w: all spans failed in %s: %s", models.ErrDecodeFailed, path, result.Failures[0]))
		}
		return nil, models.WrapKind(models.ErrKindDecode,
			fmt.Errorf("%w: no usable streams in %s", models.ErrUnsupportedCodec, path))
	}
	return result, nil
}

// sampleFrames walks the video at the configured interval, emitting a
// segment for every decoded frame. The histogram distance to the previous
// frame only advances the scene counter carried in segment metadata; a long
// static scene still yields a segment per interval so every span of the
// video stays searchable.
func (d *Decomposer) sampleFrames(ctx context.Context, path string, durationMs int64, result *Decomposition) error {
	interval := d.cfg.FrameInterval.Milliseconds()
	if interval <= 0 {
		interval = 2000
	}
	accuracy := d.cfg.Accuracy.Milliseconds()
	if accuracy <= 0 {
		accuracy = interval
	}

	scenes := sceneCounter{threshold: d.cfg.SceneThreshold}
	seq := 0
	for ts := int64(0); ts < durationMs; ts += interval {
		if err := ctx.Err(); err != nil {
			return models.WrapKind(models.ErrKindCancelled, models.ErrCancelled)
		}

		frame, err := d.extractor.FrameJPEG(ctx, path, ts, frameMaxDim)
		if err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("frame@%dms: %v", ts, err))
			continue
		}

		img, _, err := image.Decode(bytes.NewReader(frame))
		if err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("frame@%dms: %v", ts, err))
			continue
		}

		scene := scenes.observe(ComputeHistogram(img))

		end := ts + accuracy
		if end > durationMs {
			end = durationMs
		}
		result.Segments = append(result.Segments, SegmentDraft{
			Modality: models.ModalityVisualFrame,
			Seq:      seq,
			StartMs:  ts,
			EndMs:    end,
			Quality:  1,
			Extra:    models.Extra{"scene": scene},
			Payload:  Payload{ImageJPEG: frame},
		})
		seq++
	}
	return nil
}

// sampleAudio extracts fixed windows with overlap and classifies each as
// music or speech. Each modality keeps its own seq counter.
func (d *Decomposer) sampleAudio(ctx context.Context, path string, durationMs int64, result *Decomposition) error {
	chunk := d.cfg.AudioChunk.Milliseconds()
	if chunk <= 0 {
		chunk = 10000
	}
	step := chunk - d.cfg.AudioOverlap.Milliseconds()
	if step <= 0 {
		step = chunk
	}

	seqByModality := map[models.Modality]int{}
	for start := int64(0); start < durationMs; start += step {
		if err := ctx.Err(); err != nil {
			return models.WrapKind(models.ErrKindCancelled, models.ErrCancelled)
		}

		end := start + chunk
		if end > durationMs {
			end = durationMs
		}

		pcm, err := d.extractor.AudioPCM(ctx, path, start, end-start)
		if err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("audio@%dms: %v", start, err))
			continue
		}

		samples := ffmpeg.DecodePCM16(pcm)
		modality := ClassifyAudio(samples)
		seq := seqByModality[modality]
		seqByModality[modality] = seq + 1

		result.Segments = append(result.Segments, SegmentDraft{
			Modality: modality,
			Seq:      seq,
			StartMs:  start,
			EndMs:    end,
			Quality:  ChunkQuality(samples),
			Payload:  Payload{AudioPCM: pcm},
		})

		if end >= durationMs {
			break
		}
	}
	return nil
}
