package proctor

import "github.com/teslashibe/go-proctor/pkg/detection"

// FaceState is the debounced face signal for one frame
type FaceState struct {
	Present  bool
	Multiple bool
}

// FaceBuffer turns a noisy per-frame face count into a stable signal.
// A missing face or extra face has to persist for a few frames before
// it is reported.
type FaceBuffer struct {
	noFaceStreak   uint
	multipleStreak uint

	overlap        float64
	noFaceFrames   uint
	multipleFrames uint
}

// NewFaceBuffer creates a buffer using the face settings from cfg
func NewFaceBuffer(cfg Config) *FaceBuffer {
	return &FaceBuffer{
		overlap:        cfg.FaceOverlap,
		noFaceFrames:   max(cfg.NoFaceFrames, 1),
		multipleFrames: max(cfg.MultipleFaceFrames, 1),
	}
}

// Update folds one frame's face boxes into the buffer
func (b *FaceBuffer) Update(faces []detection.Box) FaceState {
	switch {
	case len(faces) == 0:
		b.noFaceStreak++
		b.multipleStreak = 0
	case len(faces) > 1 && !anyOverlap(faces, b.overlap):
		b.multipleStreak++
		b.noFaceStreak = 0
	default:
		// One face, or several boxes the detector split out of one face
		b.noFaceStreak = 0
		b.multipleStreak = 0
	}

	switch {
	case b.noFaceStreak >= b.noFaceFrames:
		return FaceState{Present: false}
	case b.multipleStreak >= b.multipleFrames:
		return FaceState{Present: true, Multiple: true}
	default:
		return FaceState{Present: true}
	}
}

// Streaks returns the current no-face and multiple-face streak lengths
func (b *FaceBuffer) Streaks() (noFace, multiple uint) {
	return b.noFaceStreak, b.multipleStreak
}

// anyOverlap reports whether any pair of boxes overlaps by more than frac
// of the smaller box.
func anyOverlap(boxes []detection.Box, frac float64) bool {
	for i := range boxes {
		for j := i + 1; j < len(boxes); j++ {
			if boxes[i].OverlapsMin(boxes[j], frac) {
				return true
			}
		}
	}
	return false
}
