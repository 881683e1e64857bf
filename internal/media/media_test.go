package media

import (
	"compress/gzip"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/models"
)

func solidImage(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestHistogramIdenticalFrames(t *testing.T) {
	img := solidImage(color.RGBA{R: 200, G: 40, B: 40, A: 255})
	a := ComputeHistogram(img)
	b := ComputeHistogram(img)
	assert.InDelta(t, 0, a.Distance(b), 1e-9)
}

func TestHistogramSceneCut(t *testing.T) {
	red := ComputeHistogram(solidImage(color.RGBA{R: 220, A: 255}))
	blue := ComputeHistogram(solidImage(color.RGBA{B: 220, A: 255}))
	assert.Greater(t, red.Distance(blue), 0.9)
}

func TestHistogramNormalized(t *testing.T) {
	h := ComputeHistogram(solidImage(color.RGBA{R: 10, G: 100, B: 250, A: 255}))
	sum := 0.0
	for _, v := range h {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestSceneCounterLabelsEveryFrame(t *testing.T) {
	red := ComputeHistogram(solidImage(color.RGBA{R: 220, A: 255}))
	blue := ComputeHistogram(solidImage(color.RGBA{B: 220, A: 255}))

	scenes := sceneCounter{threshold: 0.3}
	// A static scene keeps its number for every frame; only a cut advances.
	got := []int{
		scenes.observe(red),
		scenes.observe(red),
		scenes.observe(red),
		scenes.observe(blue),
		scenes.observe(blue),
		scenes.observe(red),
	}
	assert.Equal(t, []int{0, 0, 0, 1, 1, 2}, got)
}

func sineWave(freq float64, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(20000 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return samples
}

func TestClassifyAudioSteadyToneIsMusic(t *testing.T) {
	samples := sineWave(440, 16000*5)
	assert.Equal(t, models.ModalityAudioMusic, ClassifyAudio(samples))
}

func TestClassifyAudioSilenceIsMusic(t *testing.T) {
	assert.Equal(t, models.ModalityAudioMusic, ClassifyAudio(make([]int16, 16000*3)))
}

func TestClassifyAudioBurstyIsSpeech(t *testing.T) {
	// Alternating voiced bursts and pauses at syllable rate.
	n := 16000 * 5
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		burst := (i/3200)%2 == 0 // 200ms on, 200ms off
		if burst {
			samples[i] = int16(12000 * math.Sin(2*math.Pi*400*float64(i)/16000))
		}
	}
	assert.Equal(t, models.ModalityAudioSpeech, ClassifyAudio(samples))
}

func TestChunkQuality(t *testing.T) {
	assert.Equal(t, 0.0, ChunkQuality(nil))
	loud := ChunkQuality(sineWave(440, 16000))
	quiet := ChunkQuality(make([]int16, 16000))
	assert.Greater(t, loud, quiet)
	assert.LessOrEqual(t, loud, 1.0)
}

func TestDecodeTextUTF8Passthrough(t *testing.T) {
	out, err := DecodeText([]byte("héllo wörld"), nil)
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", out)
}

func TestDecodeTextBOMStripped(t *testing.T) {
	out, err := DecodeText([]byte{0xEF, 0xBB, 0xBF, 'h', 'i'}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestDecodeTextLatin1Fallback(t *testing.T) {
	// "café" in ISO 8859-1: 0xE9 is not valid UTF-8 on its own.
	raw := []byte{'c', 'a', 'f', 0xE9}
	out, err := DecodeText(raw, []string{"utf-8", "iso-8859-1"})
	require.NoError(t, err)
	assert.Equal(t, "café", out)
}

func TestDecodeTextInvalidBytesNoFallback(t *testing.T) {
	// A utf-8-only candidate list cannot rescue invalid input; substituting
	// U+FFFD would silently corrupt the text.
	_, err := DecodeText([]byte{'c', 'a', 'f', 0xE9}, []string{"utf-8"})
	require.Error(t, err)
}

func TestChunkTextShortSingleChunk(t *testing.T) {
	chunks := ChunkText("just a few words")
	require.Len(t, chunks, 1)
	assert.Equal(t, "just a few words", chunks[0])
}

func TestChunkTextSplitsLongInput(t *testing.T) {
	para := strings.Repeat("sentence one here. ", 60)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := ChunkText(text)
	assert.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), textChunkRunes+1)
		assert.NotEmpty(t, chunk)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	assert.Nil(t, ChunkText("   \n  "))
}

func TestLoadTextGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("compressed notes"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	out, err := LoadText(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "compressed notes", out)
}

func TestLoadTextMissing(t *testing.T) {
	_, err := LoadText(filepath.Join(t.TempDir(), "gone.txt"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFileMissing)
}
