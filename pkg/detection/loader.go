package detection

import (
	"errors"
	"fmt"
	"sync"
)

// Models bundles the two detector collaborators the engine needs.
type Models struct {
	Faces   FaceDetector
	Objects ObjectDetector
}

// Close releases both detectors.
func (m Models) Close() error {
	var errs []error
	if m.Faces != nil {
		errs = append(errs, m.Faces.Close())
	}
	if m.Objects != nil {
		errs = append(errs, m.Objects.Close())
	}
	return errors.Join(errs...)
}

// LoadFunc builds the detector collaborators.
type LoadFunc func() (Models, error)

// Lazy wraps a LoadFunc so it runs at most once, on first use.
// Concurrent first callers block until the single load finishes and
// all observe the same result.
func Lazy(load LoadFunc) LoadFunc {
	return sync.OnceValues(load)
}

// Static returns a LoadFunc for already constructed detectors.
func Static(faces FaceDetector, objects ObjectDetector) LoadFunc {
	return func() (Models, error) {
		return Models{Faces: faces, Objects: objects}, nil
	}
}

// FromFiles returns a LoadFunc that opens YuNet and YOLO from disk.
// A failing object model still yields the face model so face signals
// keep working.
func FromFiles(faceCfg Config, objCfg YOLOConfig) LoadFunc {
	return func() (Models, error) {
		var m Models
		var errs []error

		faces, err := NewYuNet(faceCfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("load face model: %w", err))
		} else {
			m.Faces = faces
		}

		objects, err := NewYOLO(objCfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("load object model: %w", err))
		} else {
			m.Objects = objects
		}

		return m, errors.Join(errs...)
	}
}
