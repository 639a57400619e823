package proctor

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-proctor/pkg/detection"
)

// TrackedObject is one prohibited item followed across frames
type TrackedObject struct {
	ID              string
	ClassID         int
	FirstSeen       time.Time
	LastSeen        time.Time
	Confidences     []float64
	ViolationLogged bool
	CorrectionStart *time.Time
}

// ObjectSighting is what the tracker reports for a detection on one frame
type ObjectSighting struct {
	ID             string        `json:"id"`
	Name           string        `json:"type"`
	ClassID        int           `json:"class_id"`
	Tier           int           `json:"priority"`
	Confidence     float64       `json:"confidence"`
	MeanConfidence float64       `json:"mean_confidence"`
	Box            detection.Box `json:"bbox"`
	NearFace       bool          `json:"near_face"`
	TimeVisible    float64       `json:"time_visible"`
	Violation      bool          `json:"violation"`
	Correcting     bool          `json:"correcting"`
	GraceRemaining float64       `json:"grace_remaining"`
	Severity       Severity      `json:"severity"`
}

// ObjectTracker follows non-phone prohibited items. Identity is the class
// plus the top-left corner snapped to a pixel bucket, so small jitter keeps
// the same track.
type ObjectTracker struct {
	catalog    detection.Catalog
	bucket     int
	staleAfter time.Duration
	nearFace   float64

	entries map[string]*TrackedObject
}

// NewObjectTracker creates an object tracker
func NewObjectTracker(cfg Config) *ObjectTracker {
	return &ObjectTracker{
		catalog:    cfg.Catalog,
		bucket:     max(cfg.BucketSize, 1),
		staleAfter: cfg.StaleAfter,
		nearFace:   cfg.NearFace,
		entries:    make(map[string]*TrackedObject),
	}
}

// Update runs one frame of detections through the tracker.
// faces are used only for the near-face annotation.
func (t *ObjectTracker) Update(now time.Time, dets []detection.Object, faces []detection.Box) []ObjectSighting {
	t.collect(now)

	sightings := make([]ObjectSighting, 0, len(dets))
	for _, det := range dets {
		item, ok := t.catalog.Lookup(det.ClassID)
		if !ok {
			continue
		}

		id := t.key(det)
		obj, exists := t.entries[id]
		if !exists {
			obj = &TrackedObject{
				ID:        id,
				ClassID:   det.ClassID,
				FirstSeen: now,
			}
			t.entries[id] = obj
		}
		obj.LastSeen = now
		obj.Confidences = append(obj.Confidences, det.Confidence)

		visible := now.Sub(obj.FirstSeen)
		s := ObjectSighting{
			ID:             id,
			Name:           item.Name,
			ClassID:        det.ClassID,
			Tier:           int(item.Tier),
			Confidence:     round2(det.Confidence),
			MeanConfidence: round2(stat.Mean(obj.Confidences, nil)),
			Box:            det.Box,
			NearFace:       t.isNearFace(det.Box, faces),
			TimeVisible:    seconds(visible),
		}

		if !obj.ViolationLogged && item.Tier > detection.TierPhone && visible > item.Visibility {
			obj.ViolationLogged = true
			start := now
			obj.CorrectionStart = &start
			s.Violation = true
			s.Severity = SeverityFor(item.Tier)
		}

		if obj.CorrectionStart != nil {
			remaining := max(item.Grace-now.Sub(*obj.CorrectionStart), 0)
			s.Correcting = true
			s.GraceRemaining = seconds(remaining)
		}

		sightings = append(sightings, s)
	}

	return sightings
}

// Entries returns a copy of every live track, ordered by id
func (t *ObjectTracker) Entries() []TrackedObject {
	out := make([]TrackedObject, 0, len(t.entries))
	for _, obj := range t.entries {
		cp := *obj
		cp.Confidences = slices.Clone(obj.Confidences)
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b TrackedObject) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of live tracks
func (t *ObjectTracker) Len() int {
	return len(t.entries)
}

// Reset forgets every track
func (t *ObjectTracker) Reset() {
	clear(t.entries)
}

// collect drops tracks not seen within staleAfter of now
func (t *ObjectTracker) collect(now time.Time) {
	for id, obj := range t.entries {
		if now.Sub(obj.LastSeen) > t.staleAfter {
			delete(t.entries, id)
		}
	}
}

func (t *ObjectTracker) key(det detection.Object) string {
	return fmt.Sprintf("%d_%d_%d", det.ClassID, det.X/t.bucket, det.Y/t.bucket)
}

// isNearFace reports whether the box center is within nearFace face widths
// of any face center
func (t *ObjectTracker) isNearFace(box detection.Box, faces []detection.Box) bool {
	for _, f := range faces {
		if box.CenterDistance(f) < float64(f.W)*t.nearFace {
			return true
		}
	}
	return false
}
