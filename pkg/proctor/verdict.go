package proctor

import (
	"context"
	"math"
	"time"

	"github.com/teslashibe/go-proctor/pkg/detection"
)

// Mode selects whether a frame's violations are reported.
type Mode string

const (
	// ModeTest is a live exam frame. Violations are reported.
	ModeTest Mode = "test"

	// ModeVerification analyses a frame without reporting anything,
	// e.g. the camera check before an exam starts.
	ModeVerification Mode = "verification"
)

// ParseMode maps a request value to a Mode. Unknown values are ModeTest.
func ParseMode(s string) Mode {
	if Mode(s) == ModeVerification {
		return ModeVerification
	}
	return ModeTest
}

// Severity of a violation
type Severity string

const (
	SeverityNone   Severity = ""
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// SeverityFor maps an item tier to a severity
func SeverityFor(tier detection.Tier) Severity {
	if tier <= detection.TierPhone {
		return SeverityHigh
	}
	return SeverityMedium
}

// ViolationPhone is the violation type used for phones.
const ViolationPhone = "Mobile Phone"

// ViolationDetail describes one violation raised on a frame
type ViolationDetail struct {
	Type           string        `json:"type"`
	Severity       Severity      `json:"severity"`
	TimeVisible    float64       `json:"time_visible"`
	GraceRemaining float64       `json:"grace_remaining"`
	Box            detection.Box `json:"bbox"`
	Confidence     float64       `json:"confidence"`
	NearFace       bool          `json:"near_face"`
}

// Verdict is the per-frame result. Every field is always present in JSON.
type Verdict struct {
	CandidateID string `json:"candidate_id"`

	FaceCount     int  `json:"face_count"`
	FaceDetected  bool `json:"face_detected"`
	MultipleFaces bool `json:"multiple_faces"`

	MovementScore float64 `json:"movement_score"`
	HeavyMovement bool    `json:"heavy_movement"`

	ObjectDetected      bool              `json:"object_detected"`
	ObjectViolation     bool              `json:"object_violation"`
	ViolationType       string            `json:"violation_type"`
	ViolationSeverity   Severity          `json:"violation_severity"`
	Violations          []ViolationDetail `json:"violation_details"`
	Objects             []ObjectSighting  `json:"object_details"`
	CorrectionRemaining float64           `json:"correction_time_remaining"`

	PhoneDetected  bool           `json:"mobile_phone_detected"`
	PhoneCount     int            `json:"mobile_phone_count"`
	Phones         []Phone        `json:"mobile_phone_details"`
	PhoneWarnings  []PhoneWarning `json:"phone_warnings"`
	GraceRemaining float64        `json:"grace_remaining"`

	ProcessingMs float64 `json:"processing_time"`
	Skipped      bool    `json:"skipped"`
}

// newVerdict returns the neutral verdict: face present, nothing flagged.
func newVerdict(candidateID string) Verdict {
	return Verdict{
		CandidateID:   candidateID,
		FaceDetected:  true,
		Violations:    []ViolationDetail{},
		Objects:       []ObjectSighting{},
		Phones:        []Phone{},
		PhoneWarnings: []PhoneWarning{},
	}
}

// SkippedVerdict is returned when a frame could not be analysed because
// another one was in flight.
func SkippedVerdict(candidateID string) Verdict {
	v := newVerdict(candidateID)
	v.Skipped = true
	return v
}

// PhoneViolation reports whether a phone violation fired on this frame.
func (v Verdict) PhoneViolation() bool {
	return v.ObjectViolation && v.ViolationType == ViolationPhone
}

// ObjectViolations returns the non-phone violations raised on this frame.
func (v Verdict) ObjectViolations() []ViolationDetail {
	var out []ViolationDetail
	for _, d := range v.Violations {
		if d.Type != ViolationPhone {
			out = append(out, d)
		}
	}
	return out
}

// HasViolation reports whether the frame carries anything worth recording.
func (v Verdict) HasViolation() bool {
	if v.Skipped {
		return false
	}
	return v.ObjectViolation || !v.FaceDetected || v.MultipleFaces
}

// Reporter is the persistence collaborator. It receives every verdict with
// a violation outside verification mode, plus an optional JPEG screenshot.
type Reporter interface {
	Report(ctx context.Context, v Verdict, screenshot []byte) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, v Verdict, screenshot []byte) error

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, v Verdict, screenshot []byte) error {
	return f(ctx, v, screenshot)
}

// Observer receives engine events for metrics.
type Observer interface {
	FrameAnalyzed(latency time.Duration)
	FrameSkipped()
	DetectorFailed(signal string)
	ViolationRaised(kind string)
	CandidatesTracked(n int)
	ReportFailed()
}

type nopObserver struct{}

func (nopObserver) FrameAnalyzed(time.Duration) {}
func (nopObserver) FrameSkipped()               {}
func (nopObserver) DetectorFailed(string)       {}
func (nopObserver) ViolationRaised(string)      {}
func (nopObserver) CandidatesTracked(int)       {}
func (nopObserver) ReportFailed()               {}

// seconds rounds a duration to tenths of a second for display.
func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
