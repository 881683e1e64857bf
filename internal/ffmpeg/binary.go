// Package ffmpeg provides FFmpeg/FFprobe binary detection, probing of local
// media, and frame/audio extraction used during decomposition.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mediasift/mediasift/internal/util"
)

// BinaryInfo contains information about the FFmpeg/FFprobe installation.
type BinaryInfo struct {
	FFmpegPath   string `json:"ffmpeg_path"`
	FFprobePath  string `json:"ffprobe_path"`
	Version      string `json:"version"`
	MajorVersion int    `json:"major_version"`
	MinorVersion int    `json:"minor_version"`
}

// BinaryDetector handles detection and caching of FFmpeg binaries.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration

	// overrides from configuration; checked before env/PATH lookup
	ffmpegPath  string
	ffprobePath string
}

// NewBinaryDetector creates a new binary detector. Explicit paths, when
// non-empty, win over environment and PATH lookup.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		cacheTTL:    5 * time.Minute,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect detects FFmpeg and FFprobe binaries and their version.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring write lock
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear clears the cached binary information.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	ffmpegPath := d.ffmpegPath
	if ffmpegPath == "" {
		// Search order: MEDIASIFT_FFMPEG_BINARY env var -> ./ffmpeg -> PATH
		found, err := util.FindBinary("ffmpeg", "MEDIASIFT_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		ffmpegPath = found
	}
	info.FFmpegPath = ffmpegPath

	ffprobePath := d.ffprobePath
	if ffprobePath == "" {
		// ffprobe is required for decomposition; without it video and audio
		// files cannot be probed.
		found, err := util.FindBinary("ffprobe", "MEDIASIFT_FFPROBE_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found: %w", err)
		}
		ffprobePath = found
	}
	info.FFprobePath = ffprobePath

	version, err := d.getVersion(ctx, ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version = version.full
	info.MajorVersion = version.major
	info.MinorVersion = version.minor

	return info, nil
}

type versionInfo struct {
	full  string
	major int
	minor int
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// getVersion extracts version information from ffmpeg.
func (d *BinaryDetector) getVersion(ctx context.Context, ffmpegPath string) (*versionInfo, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	for _, line := range strings.Split(string(output), "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		// "ffmpeg version 6.0 Copyright..." or "ffmpeg version n6.0-2-g..."
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		info := &versionInfo{full: parts[2]}
		if matches := versionRegex.FindStringSubmatch(parts[2]); len(matches) >= 3 {
			info.major, _ = strconv.Atoi(matches[1])
			info.minor, _ = strconv.Atoi(matches[2])
		}
		return info, nil
	}

	return nil, fmt.Errorf("failed to parse ffmpeg version")
}

// SupportsMinVersion returns true if FFmpeg version meets minimum requirement.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion > major {
		return true
	}
	return info.MajorVersion == major && info.MinorVersion >= minor
}
