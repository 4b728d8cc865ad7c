package pipeline

import (
	"time"

	"facet/internal/registry"
)

// perImageMinutes is the baseline processing cost of one input image at
// low quality.
const perImageMinutes = 3

// EstimateDuration predicts the wall-clock range a reconstruction will
// take from its image count and quality. The upper bound is twice the
// baseline; real runs land inside the range often enough to set caller
// expectations.
func EstimateDuration(imageCount int, quality registry.Quality) (lower, upper time.Duration) {
	multiplier := 2
	switch quality {
	case registry.QualityLow:
		multiplier = 1
	case registry.QualityHigh:
		multiplier = 4
	}
	base := time.Duration(imageCount*perImageMinutes*multiplier) * time.Minute
	return base, 2 * base
}
