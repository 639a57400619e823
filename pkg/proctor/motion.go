package proctor

import (
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Motion is the motion reading for one frame
type Motion struct {
	Score float64 // Percent of pixels that changed since the previous frame
	Heavy bool    // Score is a burst relative to the recent window
	Ready bool    // Warm-up finished and a reference frame exists
}

// MotionEstimator scores change between consecutive grayscale frames.
// It owns a copy of the previous frame; call Close to release it.
type MotionEstimator struct {
	prev    gocv.Mat
	hasPrev bool
	frames  int
	history []float64

	warmup     int
	window     int
	pixelDelta float32
	floor      float64
	factor     float64
}

// NewMotionEstimator creates a motion estimator
func NewMotionEstimator(cfg Config) *MotionEstimator {
	return &MotionEstimator{
		prev:       gocv.NewMat(),
		warmup:     cfg.WarmupFrames,
		window:     max(cfg.MotionWindow, 1),
		pixelDelta: float32(cfg.MotionPixelDelta),
		floor:      cfg.MotionFloor,
		factor:     cfg.MotionFactor,
	}
}

// Update scores gray against the previous frame and keeps gray as the new
// reference. gray must be single channel and already blurred.
func (m *MotionEstimator) Update(gray gocv.Mat) Motion {
	defer func() {
		gray.CopyTo(&m.prev)
		m.hasPrev = true
		m.frames++
	}()

	if !m.hasPrev || m.frames <= m.warmup {
		return Motion{}
	}
	if m.prev.Rows() != gray.Rows() || m.prev.Cols() != gray.Cols() {
		// Resolution changed; the old reference is meaningless
		return Motion{}
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(m.prev, gray, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, m.pixelDelta, 255, gocv.ThresholdBinary)

	total := mask.Rows() * mask.Cols()
	if total == 0 {
		return Motion{}
	}
	score := float64(gocv.CountNonZero(mask)) / float64(total) * 100

	m.history = append(m.history, score)
	if len(m.history) > m.window {
		m.history = m.history[len(m.history)-m.window:]
	}

	out := Motion{Score: round2(score), Ready: true}
	if len(m.history) == m.window {
		avg := stat.Mean(m.history, nil)
		out.Heavy = score > max(m.floor, avg*m.factor)
	}
	return out
}

// Close releases the reference frame
func (m *MotionEstimator) Close() error {
	return m.prev.Close()
}
