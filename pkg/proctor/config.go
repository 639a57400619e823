package proctor

import (
	"image"
	"time"

	"github.com/teslashibe/go-proctor/pkg/detection"
)

// Config holds all tunable parameters for the engine
type Config struct {
	// Faces
	FaceConfidence     float64     // Faces at or below this confidence are ignored
	FaceOverlap        float64     // Two faces overlapping more than this share of the smaller box are one face
	NoFaceFrames       uint        // Consecutive empty frames before the face counts as missing
	MultipleFaceFrames uint        // Consecutive multi-face frames before flagging
	AnalysisSize       image.Point // Frames are resized to this before face detection

	// Tracking
	BucketSize   int           // Pixel bucket for identity keys
	StaleAfter   time.Duration // Tracks unseen for longer are dropped
	WarmupFrames int           // Frames per candidate before motion and objects are evaluated
	NearFace     float64       // Object is near a face within this many face widths

	// Phones
	PhoneConfidence   float64 // Minimum detector confidence
	PhoneMinAreaPct   float64 // Smallest phone, percent of frame (camera modules exempt)
	PhoneMaxAreaPct   float64 // Largest phone, percent of frame
	PhoneMinAspect    float64 // Aspect ratio bounds (camera modules exempt)
	PhoneMaxAspect    float64
	PhoneConsecutive  uint          // Sightings before the countdown starts
	PhoneGrace        time.Duration // Countdown for a phone
	CameraGrace       time.Duration // Countdown for a rear camera module
	CameraEdgeMargin  int           // Camera modules must be this far from every border
	PhoneEdgeAreaPct  float64       // Below this the phone is reported as an edge or part
	PhoneLandscapeMin float64       // Aspect ratio above this is landscape
	PhonePortraitMax  float64       // Aspect ratio below this is portrait

	// Motion
	MotionPixelDelta int     // Per-pixel change that counts as motion (0-255)
	MotionWindow     int     // Rolling window of scores
	MotionFloor      float64 // Score must exceed this to be heavy
	MotionFactor     float64 // ... and this multiple of the rolling average
	MotionBlur       int     // Gaussian kernel size applied before differencing

	// Engine
	Catalog     detection.Catalog
	IdleTimeout time.Duration // Candidates without frames for this long are forgotten (0 disables)
	Screenshots bool          // Attach a JPEG of the frame to reported violations
}

// DefaultConfig returns the production proctoring configuration
func DefaultConfig() Config {
	return Config{
		FaceConfidence:     0.65,
		FaceOverlap:        0.3,
		NoFaceFrames:       2,
		MultipleFaceFrames: 2,
		AnalysisSize:       image.Pt(416, 416),

		BucketSize:   20,
		StaleAfter:   2 * time.Second,
		WarmupFrames: 5,
		NearFace:     1.5,

		PhoneConfidence:   0.30,
		PhoneMinAreaPct:   0.2,
		PhoneMaxAreaPct:   50,
		PhoneMinAspect:    0.2,
		PhoneMaxAspect:    3.0,
		PhoneConsecutive:  2,
		PhoneGrace:        3 * time.Second,
		CameraGrace:       time.Second,
		CameraEdgeMargin:  20,
		PhoneEdgeAreaPct:  2.0,
		PhoneLandscapeMin: 1.5,
		PhonePortraitMax:  0.7,

		MotionPixelDelta: 25,
		MotionWindow:     5,
		MotionFloor:      35,
		MotionFactor:     1.8,
		MotionBlur:       5,

		Catalog:     detection.DefaultCatalog(),
		IdleTimeout: 15 * time.Minute,
		Screenshots: true,
	}
}

// StrictConfig tightens the face signals to a single frame and shortens
// every countdown. Used for high-stakes sittings.
func StrictConfig() Config {
	cfg := DefaultConfig()
	cfg.NoFaceFrames = 1
	cfg.MultipleFaceFrames = 1
	cfg.PhoneConsecutive = 1
	cfg.PhoneGrace = 2 * time.Second
	return cfg
}
