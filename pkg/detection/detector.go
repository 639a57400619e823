package detection

import (
	"errors"

	"gocv.io/x/gocv"
)

var (
	// ErrModelNotFound is returned when a model file does not exist.
	ErrModelNotFound = errors.New("detection: model file not found")

	// ErrModelLoad is returned when a model file cannot be loaded.
	ErrModelLoad = errors.New("detection: model failed to load")

	// ErrEmptyImage is returned for an empty or undecodable frame.
	ErrEmptyImage = errors.New("detection: empty image")
)

// FaceDetector finds faces in a BGR frame.
// Boxes are returned in the pixel space of the given frame, unfiltered;
// callers apply their own confidence threshold.
type FaceDetector interface {
	DetectFaces(img gocv.Mat) ([]Face, error)
	Close() error
}

// ObjectDetector finds objects in a BGR frame.
type ObjectDetector interface {
	DetectObjects(img gocv.Mat) ([]Object, error)
	Close() error
}

// Config holds face detector configuration
type Config struct {
	ModelPath        string  // Path to ONNX model
	ConfidenceThresh float64 // Minimum confidence reported by the model
	NMSThresh        float64
	InputWidth       int // Model input width
	InputHeight      int // Model input height
}

// DefaultConfig returns production defaults for YuNet.
// The model threshold sits below the engine's 0.65 cut so the engine
// sees borderline faces and makes the call itself.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.3,
		InputWidth:       416,
		InputHeight:      416,
	}
}
