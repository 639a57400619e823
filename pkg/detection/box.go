// Package detection provides the face and object detector collaborators
// and the box geometry shared by the proctoring trackers.
package detection

import (
	"image"
	"math"
)

// Box is an axis-aligned bounding box in source-frame pixels.
// X, Y is the top-left corner.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// BoxFromRect converts an image.Rectangle to a Box.
func BoxFromRect(r image.Rectangle) Box {
	r = r.Canon()
	return Box{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Rect returns the box as an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Center returns the center point of the box.
// Integer division matches the pixel grid the detectors report on.
func (b Box) Center() (x, y int) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the area of the box in square pixels.
func (b Box) Area() int {
	return b.W * b.H
}

// AspectRatio returns width/height, or 0 for a degenerate box.
func (b Box) AspectRatio() float64 {
	if b.H <= 0 {
		return 0
	}
	return float64(b.W) / float64(b.H)
}

// Intersection returns the overlapping area of two boxes.
// Boxes that only touch along an edge intersect with area 0.
func (b Box) Intersection(o Box) int {
	left := max(b.X, o.X)
	top := max(b.Y, o.Y)
	right := min(b.X+b.W, o.X+o.W)
	bottom := min(b.Y+b.H, o.Y+o.H)
	if right < left || bottom < top {
		return 0
	}
	return (right - left) * (bottom - top)
}

// OverlapsMin reports whether the intersection of the two boxes exceeds
// frac of the smaller box's area.
func (b Box) OverlapsMin(o Box, frac float64) bool {
	inter := b.Intersection(o)
	if inter == 0 {
		return false
	}
	smaller := min(b.Area(), o.Area())
	return float64(inter) > frac*float64(smaller)
}

// CenterDistance returns the Euclidean distance between box centers.
func (b Box) CenterDistance(o Box) float64 {
	bx, by := b.Center()
	ox, oy := o.Center()
	return math.Hypot(float64(bx-ox), float64(by-oy))
}

// Scale maps the box from one resolution to another.
func (b Box) Scale(sx, sy float64) Box {
	return Box{
		X: int(float64(b.X) * sx),
		Y: int(float64(b.Y) * sy),
		W: int(float64(b.W) * sx),
		H: int(float64(b.H) * sy),
	}
}

// Face is a detected face.
type Face struct {
	Box
	Confidence float64 `json:"confidence"`
}

// Object is a detected object with its class.
type Object struct {
	Box
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// Boxes extracts the boxes from a slice of faces.
func Boxes(faces []Face) []Box {
	out := make([]Box, len(faces))
	for i, f := range faces {
		out[i] = f.Box
	}
	return out
}
