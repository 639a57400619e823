package proctor

import (
	"cmp"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"time"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/detection"
)

// PhoneTrack is one phone followed across frames
type PhoneTrack struct {
	ID              string
	FirstSeen       time.Time
	LastSeen        time.Time
	DetectionCount  uint
	ViolationLogged bool
	GraceStart      *time.Time
	Part            PhonePart

	lastCall uint64
}

// Phone is what the phone tracker reports for a detection on one frame
type Phone struct {
	ID             string        `json:"id"`
	Box            detection.Box `json:"bbox"`
	Confidence     float64       `json:"confidence"`
	TimeVisible    float64       `json:"time_visible"`
	Counting       bool          `json:"counting"`
	GraceRemaining float64       `json:"grace_remaining"`
	Grace          float64       `json:"grace_period"`
	Violation      bool          `json:"violation"`
	Warning        string        `json:"warning"`
	DetectionCount uint          `json:"detection_count"`
	Part           PhonePart     `json:"phone_part"`
}

// PhoneViolation is the single phone violation surfaced for a frame
type PhoneViolation struct {
	Type        string        `json:"type"`
	Message     string        `json:"message"`
	Confidence  float64       `json:"confidence"`
	TimeVisible float64       `json:"time_visible"`
	GracePeriod float64       `json:"grace_period"`
	Part        PhonePart     `json:"phone_part"`
	Box         detection.Box `json:"bbox"`
}

// PhoneWarning is a running removal countdown for the candidate's UI
type PhoneWarning struct {
	Message        string        `json:"message"`
	GraceRemaining float64       `json:"grace_remaining"`
	Box            detection.Box `json:"bbox"`
	Part           PhonePart     `json:"phone_part"`
}

// PhoneTracker follows phone detections and runs the removal countdown.
// A phone has to be seen on consecutive calls before the countdown starts;
// when the countdown runs out the violation fires once.
type PhoneTracker struct {
	cfg    Config
	logger *slog.Logger

	entries    map[string]*PhoneTrack
	calls      uint64
	violations uint64
}

// NewPhoneTracker creates a phone tracker
func NewPhoneTracker(cfg Config) *PhoneTracker {
	cfg.BucketSize = max(cfg.BucketSize, 1)
	return &PhoneTracker{
		cfg:     cfg,
		logger:  log.Component("phone"),
		entries: make(map[string]*PhoneTrack),
	}
}

// Detect runs one frame of phone detections through the tracker. frame is
// the source frame size the boxes are expressed in.
func (t *PhoneTracker) Detect(now time.Time, frame image.Point, dets []detection.Object, candidateID string) []Phone {
	t.calls++
	frameArea := float64(frame.X * frame.Y)

	var phones []Phone
	for _, det := range dets {
		camera := classifyCamera(det.Box, frame, t.cfg.CameraEdgeMargin)
		isCamera := camera != CameraNone

		areaPct := 0.0
		if frameArea > 0 {
			areaPct = float64(det.Area()) / frameArea * 100
		}
		aspect := det.AspectRatio()

		if !isCamera && areaPct < t.cfg.PhoneMinAreaPct {
			continue
		}
		if areaPct > t.cfg.PhoneMaxAreaPct {
			continue
		}
		if !isCamera && (aspect < t.cfg.PhoneMinAspect || aspect > t.cfg.PhoneMaxAspect) {
			continue
		}
		if det.Confidence < t.cfg.PhoneConfidence {
			continue
		}

		grace := t.cfg.PhoneGrace
		part := t.identifyPart(det.Box, areaPct)
		if isCamera {
			grace = t.cfg.CameraGrace
			part = PhonePart{Kind: PartCameraModule, Camera: camera}
			t.logger.Warn("rear camera module in view",
				"candidate", candidateID, "part", part.String(), "x", det.X, "y", det.Y)
		}

		phones = append(phones, t.track(now, det, part, isCamera, grace, candidateID))
	}

	t.collect(now)
	return phones
}

// track updates or creates the entry for one validated detection
func (t *PhoneTracker) track(now time.Time, det detection.Object, part PhonePart, isCamera bool, grace time.Duration, candidateID string) Phone {
	id := fmt.Sprintf("phone_%d_%d", det.X/t.cfg.BucketSize, det.Y/t.cfg.BucketSize)

	entry, exists := t.entries[id]
	switch {
	case !exists:
		entry = &PhoneTrack{
			ID:        id,
			FirstSeen: now,
			Part:      part,
		}
		t.entries[id] = entry
	case entry.GraceStart == nil && entry.lastCall+1 < t.calls:
		// Missed a frame before the countdown started; the evidence is
		// no longer consecutive.
		entry.DetectionCount = 0
	}

	if entry.lastCall != t.calls {
		entry.DetectionCount++
		entry.lastCall = t.calls
	}
	entry.LastSeen = now
	if isCamera {
		entry.Part = part
	}

	visible := now.Sub(entry.FirstSeen)
	p := Phone{
		ID:             id,
		Box:            det.Box,
		Confidence:     round2(det.Confidence),
		TimeVisible:    seconds(visible),
		Grace:          grace.Seconds(),
		DetectionCount: entry.DetectionCount,
		Part:           entry.Part,
	}

	if entry.DetectionCount < t.cfg.PhoneConsecutive {
		t.logger.Debug("phone sighted",
			"candidate", candidateID, "part", entry.Part.String(), "confidence", p.Confidence)
		return p
	}

	if entry.GraceStart == nil {
		start := now
		entry.GraceStart = &start
		p.Warning = fmt.Sprintf("Phone detected! Remove within %s", grace)
		t.logger.Info("phone countdown started",
			"candidate", candidateID, "part", entry.Part.String(), "grace", grace)
	}

	elapsed := now.Sub(*entry.GraceStart)
	p.Counting = true
	p.GraceRemaining = seconds(max(grace-elapsed, 0))

	if elapsed >= grace && !entry.ViolationLogged {
		entry.ViolationLogged = true
		t.violations++
		p.Violation = true
		t.logger.Warn("phone violation",
			"candidate", candidateID,
			"count", t.violations,
			"part", entry.Part.String(),
			"visible", p.TimeVisible,
			"confidence", p.Confidence)
	} else if p.GraceRemaining > 0 && !entry.ViolationLogged {
		t.logger.Debug("phone countdown",
			"candidate", candidateID, "remaining", p.GraceRemaining, "part", entry.Part.String())
	}

	return p
}

// CheckViolation returns the first phone that violated on this frame.
// Further phones stay tracked but are not reported separately.
func (t *PhoneTracker) CheckViolation(phones []Phone) *PhoneViolation {
	for _, p := range phones {
		if p.Violation {
			return &PhoneViolation{
				Type:        "mobile_phone",
				Message:     "Mobile phone detected - Violation recorded",
				Confidence:  p.Confidence,
				TimeVisible: p.TimeVisible,
				GracePeriod: p.Grace,
				Part:        p.Part,
				Box:         p.Box,
			}
		}
	}
	return nil
}

// ActiveWarnings returns every phone still inside its countdown
func (t *PhoneTracker) ActiveWarnings(phones []Phone) []PhoneWarning {
	var warnings []PhoneWarning
	for _, p := range phones {
		if p.Counting && p.GraceRemaining > 0 {
			warnings = append(warnings, PhoneWarning{
				Message:        fmt.Sprintf("Remove phone in %.1fs", p.GraceRemaining),
				GraceRemaining: p.GraceRemaining,
				Box:            p.Box,
				Part:           p.Part,
			})
		}
	}
	return warnings
}

// Entries returns a copy of every live track, ordered by id
func (t *PhoneTracker) Entries() []PhoneTrack {
	out := make([]PhoneTrack, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b PhoneTrack) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Violations returns how many phone violations fired since the last reset
func (t *PhoneTracker) Violations() uint64 {
	return t.violations
}

// Reset forgets every track, for a new exam session
func (t *PhoneTracker) Reset() {
	clear(t.entries)
	t.calls = 0
	t.violations = 0
}

// collect drops tracks not seen within StaleAfter of now
func (t *PhoneTracker) collect(now time.Time) {
	for id, e := range t.entries {
		if now.Sub(e.LastSeen) > t.cfg.StaleAfter {
			delete(t.entries, id)
		}
	}
}
