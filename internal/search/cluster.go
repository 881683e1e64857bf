package search

import (
	"sort"

	"github.com/mediasift/mediasift/internal/models"
)

// hit is one per-modality vector match for a file.
type hit struct {
	modality models.Modality
	score    float64
	startMs  int64
	endMs    int64
}

func (h hit) mid() int64 {
	return (h.startMs + h.endMs) / 2
}

// Cluster is a candidate answer region inside one file.
type Cluster struct {
	StartMs    int64    `json:"start_ms"`
	EndMs      int64    `json:"end_ms"`
	Confidence float64  `json:"confidence"`
	Modalities []string `json:"modalities"`
}

// Window is the tight best-answer timestamp for a file. Its span never
// exceeds the accuracy requirement.
type Window struct {
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

// clusterHits groups a file's timed hits into answer regions: sorted by
// start, a hit joins the current cluster while the gap to it stays within
// the accuracy requirement (1-D agglomerative merge). Returned clusters are
// sorted by confidence.
func clusterHits(hits []hit, weights map[models.Modality]float64, accuracyMs int64, tolFor func(models.Modality) int64) ([]Cluster, *Window) {
	var timed []hit
	for _, h := range hits {
		if h.modality.Timed() {
			timed = append(timed, h)
		}
	}
	if len(timed) == 0 {
		return nil, nil
	}

	sort.Slice(timed, func(i, j int) bool {
		if timed[i].startMs != timed[j].startMs {
			return timed[i].startMs < timed[j].startMs
		}
		return timed[i].endMs < timed[j].endMs
	})

	var groups [][]hit
	current := []hit{timed[0]}
	currentEnd := timed[0].endMs
	for _, h := range timed[1:] {
		if h.startMs-currentEnd <= accuracyMs {
			current = append(current, h)
			if h.endMs > currentEnd {
				currentEnd = h.endMs
			}
			continue
		}
		groups = append(groups, current)
		current = []hit{h}
		currentEnd = h.endMs
	}
	groups = append(groups, current)

	clusters := make([]Cluster, 0, len(groups))
	var best *Window
	for _, group := range groups {
		cluster, window := summarizeCluster(group, weights, accuracyMs, tolFor)
		clusters = append(clusters, cluster)
		if best == nil || window.Confidence > best.Confidence {
			best = &window
		}
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Confidence > clusters[j].Confidence
	})
	return clusters, best
}

// summarizeCluster computes a cluster's confidence (weighted max score per
// modality) and its tight window, centered on the strongest hit. A modality
// is listed when one of its hits lies within the accuracy requirement of
// that anchor, with the modality's sync tolerance as extra slack.
func summarizeCluster(group []hit, weights map[models.Modality]float64, accuracyMs int64, tolFor func(models.Modality) int64) (Cluster, Window) {
	bestByModality := make(map[models.Modality]float64)
	var anchor hit
	anchorWeighted := -1.0
	startMs, endMs := group[0].startMs, group[0].endMs

	for _, h := range group {
		if h.startMs < startMs {
			startMs = h.startMs
		}
		if h.endMs > endMs {
			endMs = h.endMs
		}
		if h.score > bestByModality[h.modality] {
			bestByModality[h.modality] = h.score
		}
		if weighted := weights[h.modality] * h.score; weighted > anchorWeighted {
			anchorWeighted = weighted
			anchor = h
		}
	}

	confidence := 0.0
	for modality, score := range bestByModality {
		confidence += weights[modality] * score
	}

	var modalities []string
	for modality := range bestByModality {
		slack := accuracyMs + tolFor(modality)
		for _, h := range group {
			if h.modality != modality {
				continue
			}
			if abs64(h.mid()-anchor.mid()) <= slack {
				modalities = append(modalities, string(modality))
				break
			}
		}
	}
	sort.Strings(modalities)

	window := windowAround(anchor.mid(), accuracyMs)
	window.Confidence = confidence

	return Cluster{
		StartMs:    startMs,
		EndMs:      endMs,
		Confidence: confidence,
		Modalities: modalities,
	}, window
}

// windowAround centers a window of exactly accuracyMs span on mid, clamped
// at zero.
func windowAround(mid, accuracyMs int64) Window {
	half := accuracyMs / 2
	start := mid - half
	if start < 0 {
		start = 0
	}
	return Window{StartMs: start, EndMs: start + accuracyMs}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
