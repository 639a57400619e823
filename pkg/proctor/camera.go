package proctor

import (
	"image"

	"github.com/teslashibe/go-proctor/pkg/detection"
)

// PartKind is the rough shape of a phone detection
type PartKind int

const (
	PartGeneric PartKind = iota
	PartEdge
	PartLandscape
	PartPortrait
	PartCameraModule
)

// CameraKind is the rear-camera signature a box matched
type CameraKind int

const (
	CameraNone CameraKind = iota
	CameraBump
	CameraIPhone
	CameraBar
	CameraLens
	CameraFlash
)

// PhonePart identifies which part of a phone a detection shows
type PhonePart struct {
	Kind   PartKind
	Camera CameraKind
}

// IsCamera reports whether the part is a rear camera module
func (p PhonePart) IsCamera() bool {
	return p.Kind == PartCameraModule
}

// String returns the display name shown to proctors
func (p PhonePart) String() string {
	switch p.Kind {
	case PartEdge:
		return "Phone Edge/Part"
	case PartLandscape:
		return "Mobile Phone (Landscape)"
	case PartPortrait:
		return "Mobile Phone (Portrait)"
	case PartCameraModule:
		switch p.Camera {
		case CameraIPhone:
			return "iPhone Camera Module"
		case CameraBar:
			return "Android Camera Bar"
		case CameraLens:
			return "Camera Lens (Peeking)"
		case CameraFlash:
			return "Camera Flash"
		default:
			return "Back Camera Module"
		}
	default:
		return "Mobile Phone"
	}
}

// MarshalText encodes the part as its display name
func (p PhonePart) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// camera signature: open aspect ratio and size ranges in pixels
type signature struct {
	kind                 CameraKind
	minAspect, maxAspect float64
	minW, maxW           int
	minH, maxH           int
}

func (s signature) matches(w, h int, aspect float64) bool {
	return aspect > s.minAspect && aspect < s.maxAspect &&
		w > s.minW && w < s.maxW &&
		h > s.minH && h < s.maxH
}

// Ordered by reporting precedence; a box matching several takes the first.
// The generic bump is last because the others are tighter cases of it.
var cameraSignatures = []signature{
	{kind: CameraIPhone, minAspect: 0.9, maxAspect: 1.2, minW: 25, maxW: 70, minH: 25, maxH: 70},
	{kind: CameraBar, minAspect: 1.8, maxAspect: 3.0, minW: 40, maxW: 100, minH: 15, maxH: 35},
	{kind: CameraLens, minAspect: 0.9, maxAspect: 1.1, minW: 10, maxW: 30, minH: 10, maxH: 30},
	{kind: CameraFlash, minAspect: 0.5, maxAspect: 1.5, minW: 8, maxW: 25, minH: 8, maxH: 25},
	{kind: CameraBump, minAspect: 0.7, maxAspect: 1.6, minW: 20, maxW: 80, minH: 20, maxH: 80},
}

// classifyCamera checks whether a phone box looks like a rear camera module
// pointed at the screen. The box has to match a size signature, start in the
// upper half of the frame and stay clear of every border.
func classifyCamera(box detection.Box, frame image.Point, margin int) CameraKind {
	aspect := box.AspectRatio()

	kind := CameraNone
	for _, sig := range cameraSignatures {
		if sig.matches(box.W, box.H, aspect) {
			kind = sig.kind
			break
		}
	}
	if kind == CameraNone {
		return CameraNone
	}

	upper := float64(box.Y) < float64(frame.Y)*0.5
	inside := box.X > margin && box.Y > margin &&
		box.X+box.W < frame.X-margin &&
		box.Y+box.H < frame.Y-margin
	if !upper || !inside {
		return CameraNone
	}
	return kind
}

// identifyPart picks the display part for a non-camera phone box
func (t *PhoneTracker) identifyPart(box detection.Box, areaPct float64) PhonePart {
	aspect := box.AspectRatio()
	switch {
	case areaPct < t.cfg.PhoneEdgeAreaPct:
		return PhonePart{Kind: PartEdge}
	case aspect > t.cfg.PhoneLandscapeMin:
		return PhonePart{Kind: PartLandscape}
	case aspect < t.cfg.PhonePortraitMax:
		return PhonePart{Kind: PartPortrait}
	default:
		return PhonePart{Kind: PartGeneric}
	}
}
