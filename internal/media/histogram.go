package media

import (
	"image"

	"golang.org/x/image/draw"
)

// Histogram bins: 4 levels per RGB channel, 64 bins total. Coarse on
// purpose; scene cuts move mass between bins, lighting flicker mostly does
// not.
const (
	histBinsPerChannel = 4
	histBins           = histBinsPerChannel * histBinsPerChannel * histBinsPerChannel

	// histSample is the edge length frames are downscaled to before binning.
	histSample = 64
)

// Histogram is a normalized color distribution of one frame.
type Histogram [histBins]float64

// ComputeHistogram downscales the image and bins its RGB values. The result
// sums to 1 for any non-empty image.
func ComputeHistogram(img image.Image) Histogram {
	var h Histogram
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return h
	}

	small := image.NewRGBA(image.Rect(0, 0, histSample, histSample))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, bounds, draw.Src, nil)

	total := 0.0
	for y := 0; y < histSample; y++ {
		for x := 0; x < histSample; x++ {
			i := small.PixOffset(x, y)
			r := small.Pix[i] >> 6
			g := small.Pix[i+1] >> 6
			b := small.Pix[i+2] >> 6
			h[int(r)*16+int(g)*4+int(b)]++
			total++
		}
	}
	for i := range h {
		h[i] /= total
	}
	return h
}

// sceneCounter assigns scene numbers to a stream of frame histograms. The
// counter advances when the distance from the previous frame reaches the cut
// threshold; frames within a scene share its number.
type sceneCounter struct {
	threshold float64
	prev      *Histogram
	scene     int
}

func (c *sceneCounter) observe(hist Histogram) int {
	if c.prev != nil && c.prev.Distance(hist) >= c.threshold {
		c.scene++
	}
	c.prev = &hist
	return c.scene
}

// Distance is half the L1 distance between two normalized histograms,
// ranging 0 (identical) to 1 (disjoint).
func (h Histogram) Distance(other Histogram) float64 {
	sum := 0.0
	for i := range h {
		d := h[i] - other[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / 2
}
