package services

import (
	"math"

	"github.com/sentinelpay/backend/internal/models"
)

// BehaviorDetector flags amounts that are statistical outliers against an
// account's recent history window.
type BehaviorDetector struct {
	ZThreshold  float64
	AbsoluteEps float64
}

// NewBehaviorDetector creates a detector with the given z-score threshold
// and zero-variance fallback epsilon.
func NewBehaviorDetector(zThreshold, absoluteEps float64) *BehaviorDetector {
	if zThreshold <= 0 {
		zThreshold = 2.5
	}
	if absoluteEps <= 0 {
		absoluteEps = 0.01
	}
	return &BehaviorDetector{
		ZThreshold:  zThreshold,
		AbsoluteEps: absoluteEps,
	}
}

// Check reports whether amount is anomalous against the window, and the
// computed z-score. Fewer than two entries is insufficient data and is never
// anomalous (cold start). When every past amount is identical the sample
// deviation is zero, so any amount differing from the mean by more than
// AbsoluteEps is anomalous instead of dividing by zero; the returned z-score
// is 0 in that case.
func (d *BehaviorDetector) Check(amount float64, window []models.HistoryEntry) (bool, float64) {
	if len(window) < 2 {
		return false, 0
	}

	mean := 0.0
	for _, e := range window {
		mean += e.Amount
	}
	mean /= float64(len(window))

	variance := 0.0
	for _, e := range window {
		variance += (e.Amount - mean) * (e.Amount - mean)
	}
	variance /= float64(len(window) - 1)
	stddev := math.Sqrt(variance)

	if stddev == 0 {
		return math.Abs(amount-mean) > d.AbsoluteEps, 0
	}

	z := (amount - mean) / stddev
	return math.Abs(z) > d.ZThreshold, z
}
