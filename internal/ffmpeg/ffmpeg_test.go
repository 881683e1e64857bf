package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDurationMs(t *testing.T) {
	assert.Equal(t, int64(0), parseDurationMs(""))
	assert.Equal(t, int64(0), parseDurationMs("N/A"))
	assert.Equal(t, int64(0), parseDurationMs("-1.5"))
	assert.Equal(t, int64(1500), parseDurationMs("1.5"))
	assert.Equal(t, int64(3661000), parseDurationMs("3661.000000"))
}

func TestParseFramerate(t *testing.T) {
	assert.Equal(t, float64(0), parseFramerate(""))
	assert.Equal(t, float64(0), parseFramerate("0/0"))
	assert.Equal(t, float64(25), parseFramerate("25/1"))
	assert.InDelta(t, 29.97, parseFramerate("30000/1001"), 0.01)
	assert.Equal(t, float64(24), parseFramerate("24"))
}

func TestSupportsMinVersion(t *testing.T) {
	info := &BinaryInfo{MajorVersion: 6, MinorVersion: 1}
	assert.True(t, info.SupportsMinVersion(5, 0))
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.True(t, info.SupportsMinVersion(6, 0))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "0.000", formatSeconds(0))
	assert.Equal(t, "1.500", formatSeconds(1500))
	assert.Equal(t, "12.345", formatSeconds(12345))
}

func TestDecodePCM16(t *testing.T) {
	raw := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80, 0x01}
	samples := DecodePCM16(raw)
	assert.Equal(t, []int16{0, 32767, -32768}, samples)
}

func TestProbeMediaStreamSelection(t *testing.T) {
	// Attached pictures must not count as video tracks.
	result := &ProbeResult{
		Format: ProbeFormat{Duration: "10.0", FormatName: "mp3"},
		Streams: []ProbeStream{
			{CodecType: "video", CodecName: "mjpeg", Disposition: ProbeDisposition{AttachedPic: 1}},
			{CodecType: "audio", CodecName: "mp3", SampleRate: "44100", Channels: 2},
		},
	}

	info := reduceProbe(result)
	assert.False(t, info.HasVideo)
	assert.True(t, info.HasAudio)
	assert.Equal(t, "mp3", info.AudioCodec)
	assert.Equal(t, 44100, info.AudioSampleRate)
	assert.Equal(t, int64(10000), info.DurationMs)
}
