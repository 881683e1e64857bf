package media

import (
	"math"

	"github.com/mediasift/mediasift/internal/models"
)

// Audio classification thresholds, tuned on mono 16 kHz PCM. Speech shows
// high short-term energy variance (syllable rhythm) and a moderate
// zero-crossing rate; sustained music is steadier.
const (
	audioFrameSamples = 400 // 25ms at 16kHz

	speechEnergyVarMin = 0.35
	speechZCRMin       = 0.02
	speechZCRMax       = 0.25

	silenceRMS = 0.004
)

// ClassifyAudio labels a PCM chunk as music or speech. Silence defaults to
// music so it fuses with the quieter modality weights downstream.
func ClassifyAudio(samples []int16) models.Modality {
	if len(samples) < audioFrameSamples*4 {
		return models.ModalityAudioMusic
	}

	var frameRMS []float64
	zeroCrossings := 0
	for start := 0; start+audioFrameSamples <= len(samples); start += audioFrameSamples {
		frame := samples[start : start+audioFrameSamples]
		var energy float64
		for i, s := range frame {
			v := float64(s) / 32768
			energy += v * v
			if i > 0 && (frame[i-1] < 0) != (s < 0) {
				zeroCrossings++
			}
		}
		frameRMS = append(frameRMS, math.Sqrt(energy/float64(len(frame))))
	}

	mean := 0.0
	for _, r := range frameRMS {
		mean += r
	}
	mean /= float64(len(frameRMS))
	if mean < silenceRMS {
		return models.ModalityAudioMusic
	}

	// Coefficient of variation of frame energy.
	variance := 0.0
	for _, r := range frameRMS {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(frameRMS))
	energyCV := math.Sqrt(variance) / mean

	zcr := float64(zeroCrossings) / float64(len(frameRMS)*audioFrameSamples)

	if energyCV >= speechEnergyVarMin && zcr >= speechZCRMin && zcr <= speechZCRMax {
		return models.ModalityAudioSpeech
	}
	return models.ModalityAudioMusic
}

// ChunkQuality scores a PCM chunk by loudness, clamped to [0,1]. Near-silent
// chunks rank low so they do not dominate fused results.
func ChunkQuality(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		v := float64(s) / 32768
		energy += v * v
	}
	rms := math.Sqrt(energy / float64(len(samples)))
	q := rms * 8
	if q > 1 {
		q = 1
	}
	return q
}
