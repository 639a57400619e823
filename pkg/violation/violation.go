// Package violation persists proctoring violations per exam session.
package violation

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-proctor/pkg/proctor"
)

// MaxViolations is the count at which a session is reported as terminated.
const MaxViolations = 3

// ManualReason is used when a manual violation carries no reason.
const ManualReason = "Browser Violation"

var (
	// ErrNotFound is returned when no matching session or violation exists.
	ErrNotFound = errors.New("violation: not found")

	// ErrEmptyCandidate is returned for a blank candidate id.
	ErrEmptyCandidate = errors.New("violation: empty candidate id")
)

// Session is one sitting of an exam by a candidate
type Session struct {
	ID          int64     `json:"id"`
	CandidateID string    `json:"candidate_id"`
	Violations  int       `json:"violations"`
	Terminated  bool      `json:"terminated"`
	StartedAt   time.Time `json:"started_at"`
}

// Exceeded reports whether the session reached MaxViolations
func (s Session) Exceeded() bool {
	return s.Violations >= MaxViolations
}

// Violation is one recorded violation
type Violation struct {
	ID            uuid.UUID        `json:"id"`
	SessionID     int64            `json:"session_id"`
	CandidateID   string           `json:"candidate_id"`
	Reason        string           `json:"reason"`
	Severity      proctor.Severity `json:"severity"`
	HasScreenshot bool             `json:"has_screenshot"`
	At            time.Time        `json:"at"`
}

// Entry is a reason waiting to be recorded
type Entry struct {
	Reason   string
	Severity proctor.Severity
}

// Entries maps a verdict to the violations it records. A frame can carry
// several: a phone, a face problem and an object are counted separately.
func Entries(v proctor.Verdict) []Entry {
	if !v.HasViolation() {
		return nil
	}

	var out []Entry
	if v.PhoneViolation() {
		reason := "Mobile Phone Detected"
		if p, ok := violatingPhone(v.Phones); ok {
			reason += ": " + p.Part.String()
		}
		out = append(out, Entry{Reason: reason, Severity: proctor.SeverityHigh})
	}
	if v.MultipleFaces {
		out = append(out, Entry{Reason: "Multiple faces detected", Severity: proctor.SeverityHigh})
	}
	if !v.FaceDetected {
		out = append(out, Entry{Reason: "Face is not visible", Severity: proctor.SeverityMedium})
	}
	for _, d := range v.ObjectViolations() {
		out = append(out, Entry{Reason: "Prohibited Object: " + d.Type, Severity: d.Severity})
	}
	return out
}

func violatingPhone(phones []proctor.Phone) (proctor.Phone, bool) {
	for _, p := range phones {
		if p.Violation {
			return p, true
		}
	}
	if len(phones) > 0 {
		return phones[0], true
	}
	return proctor.Phone{}, false
}
