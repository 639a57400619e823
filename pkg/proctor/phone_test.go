package proctor

import (
	"image"
	"testing"
	"time"

	"github.com/teslashibe/go-proctor/pkg/detection"
)

var frameSize = image.Pt(640, 480)

func phoneAt(x, y, w, h int) detection.Object {
	return detection.Object{
		Box:        detection.Box{X: x, Y: y, W: w, H: h},
		Confidence: 0.7,
		ClassID:    detection.ClassCellPhone,
		ClassName:  "cell phone",
	}
}

// handheld is a portrait phone in the lower half, well above the area floor
var handheld = phoneAt(200, 250, 60, 120)

func TestPhoneTracker_SingleFrameNeverCounts(t *testing.T) {
	tr := NewPhoneTracker(DefaultConfig())

	phones := tr.Detect(t0, frameSize, []detection.Object{handheld}, "c1")
	if len(phones) != 1 {
		t.Fatalf("Detect() returned %d phones, want 1", len(phones))
	}
	if phones[0].Counting {
		t.Error("first sighting: Counting = true, want false")
	}
	if w := tr.ActiveWarnings(phones); len(w) != 0 {
		t.Errorf("ActiveWarnings() = %d, want 0", len(w))
	}

	// Gone on the next frames; the single sighting expires without a countdown
	for i := 1; i <= 5; i++ {
		tr.Detect(t0.Add(time.Duration(i)*500*time.Millisecond), frameSize, nil, "c1")
	}
	for _, e := range tr.Entries() {
		if e.GraceStart != nil {
			t.Errorf("entry %s has a countdown after one sighting", e.ID)
		}
	}
	if got := tr.Violations(); got != 0 {
		t.Errorf("Violations() = %d, want 0", got)
	}
}

func TestPhoneTracker_CountdownAndViolation(t *testing.T) {
	tr := NewPhoneTracker(DefaultConfig())
	dets := []detection.Object{handheld}

	tr.Detect(t0, frameSize, dets, "c1")
	phones := tr.Detect(t0.Add(100*time.Millisecond), frameSize, dets, "c1")
	if !phones[0].Counting {
		t.Fatal("second consecutive sighting: Counting = false, want true")
	}
	if phones[0].GraceRemaining != 3.0 {
		t.Errorf("GraceRemaining = %v, want 3.0", phones[0].GraceRemaining)
	}
	if phones[0].Warning == "" {
		t.Error("countdown start should carry a warning")
	}
	if phones[0].Part.Kind != PartPortrait {
		t.Errorf("Part = %v, want Portrait", phones[0].Part)
	}

	prev := phones[0].GraceRemaining
	fired := 0
	for i := 1; i <= 10; i++ {
		now := t0.Add(100*time.Millisecond + time.Duration(i)*500*time.Millisecond)
		phones = tr.Detect(now, frameSize, dets, "c1")
		p := phones[0]

		if p.GraceRemaining > prev {
			t.Errorf("step %d: GraceRemaining rose from %v to %v", i, prev, p.GraceRemaining)
		}
		prev = p.GraceRemaining

		if p.Violation {
			fired++
			// Grace started at +100ms; 3s later is step 6
			if i != 6 {
				t.Errorf("violation fired at step %d, want 6", i)
			}
			if v := tr.CheckViolation(phones); v == nil || v.Type != "mobile_phone" {
				t.Errorf("CheckViolation() = %+v, want mobile_phone", v)
			}
		} else if v := tr.CheckViolation(phones); v != nil {
			t.Errorf("step %d: CheckViolation() = %+v, want nil", i, v)
		}
	}

	if fired != 1 {
		t.Errorf("violation fired %d times, want 1", fired)
	}
	if prev != 0 {
		t.Errorf("final GraceRemaining = %v, want 0", prev)
	}
	if got := tr.Violations(); got != 1 {
		t.Errorf("Violations() = %d, want 1", got)
	}
}

func TestPhoneTracker_GapResetsConsecutiveCount(t *testing.T) {
	tr := NewPhoneTracker(DefaultConfig())
	dets := []detection.Object{handheld}

	tr.Detect(t0, frameSize, dets, "c1")
	tr.Detect(t0.Add(200*time.Millisecond), frameSize, nil, "c1")
	phones := tr.Detect(t0.Add(400*time.Millisecond), frameSize, dets, "c1")

	if phones[0].Counting {
		t.Error("sighting after a gap started the countdown")
	}
	if phones[0].DetectionCount != 1 {
		t.Errorf("DetectionCount = %d, want 1", phones[0].DetectionCount)
	}

	phones = tr.Detect(t0.Add(600*time.Millisecond), frameSize, dets, "c1")
	if !phones[0].Counting {
		t.Error("two consecutive sightings after the gap: Counting = false, want true")
	}
}

func TestPhoneTracker_Validation(t *testing.T) {
	tests := []struct {
		name string
		det  detection.Object
		want bool
	}{
		{"handheld", handheld, true},
		{"low confidence", detection.Object{Box: handheld.Box, Confidence: 0.2, ClassID: detection.ClassCellPhone}, false},
		{"fills frame", phoneAt(50, 40, 500, 400), false},
		{"speck in lower half", phoneAt(300, 400, 10, 10), false},
		{"too wide", phoneAt(100, 300, 300, 30), false},
		{"too tall", phoneAt(100, 100, 20, 300), false},
		{"landscape", phoneAt(100, 300, 160, 80), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewPhoneTracker(DefaultConfig())
			phones := tr.Detect(t0, frameSize, []detection.Object{tt.det}, "c1")
			if got := len(phones) == 1; got != tt.want {
				t.Errorf("accepted = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPhoneTracker_CameraModule(t *testing.T) {
	tr := NewPhoneTracker(DefaultConfig())
	// Square 40px box in the upper half, clear of the borders
	dets := []detection.Object{phoneAt(300, 100, 40, 40)}

	tr.Detect(t0, frameSize, dets, "c1")
	phones := tr.Detect(t0.Add(100*time.Millisecond), frameSize, dets, "c1")

	p := phones[0]
	if p.Part.Kind != PartCameraModule || p.Part.Camera != CameraIPhone {
		t.Errorf("Part = %v, want iPhone camera module", p.Part)
	}
	if p.Grace != 1.0 {
		t.Errorf("Grace = %v, want 1.0", p.Grace)
	}

	phones = tr.Detect(t0.Add(1100*time.Millisecond), frameSize, dets, "c1")
	if !phones[0].Violation {
		t.Error("camera module should violate after its 1s grace")
	}
}

func TestPhoneTracker_LowerHalfNeverCamera(t *testing.T) {
	tr := NewPhoneTracker(DefaultConfig())
	dets := []detection.Object{phoneAt(300, 300, 40, 40)}

	for i := range 4 {
		phones := tr.Detect(t0.Add(time.Duration(i)*100*time.Millisecond), frameSize, dets, "c1")
		if len(phones) != 1 {
			t.Fatalf("Detect() returned %d phones, want 1", len(phones))
		}
		if phones[0].Part.IsCamera() {
			t.Fatalf("lower-half box classified as %v", phones[0].Part)
		}
		if phones[0].Grace != 3.0 {
			t.Errorf("Grace = %v, want 3.0", phones[0].Grace)
		}
	}
}

func TestClassifyCamera_EdgeMargin(t *testing.T) {
	tests := []struct {
		name string
		box  detection.Box
		want CameraKind
	}{
		{"centered", detection.Box{X: 300, Y: 100, W: 40, H: 40}, CameraIPhone},
		{"touching left", detection.Box{X: 10, Y: 100, W: 40, H: 40}, CameraNone},
		{"touching top", detection.Box{X: 300, Y: 5, W: 40, H: 40}, CameraNone},
		{"lens", detection.Box{X: 300, Y: 100, W: 20, H: 20}, CameraLens},
		{"bar", detection.Box{X: 300, Y: 100, W: 60, H: 25}, CameraBar},
		{"too big", detection.Box{X: 300, Y: 100, W: 120, H: 120}, CameraNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyCamera(tt.box, frameSize, 20); got != tt.want {
				t.Errorf("classifyCamera() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPhoneTracker_ActiveWarnings(t *testing.T) {
	phones := []Phone{
		{ID: "a", Counting: true, GraceRemaining: 1.5},
		{ID: "b", Counting: true, GraceRemaining: 0},
		{ID: "c", Counting: false},
	}
	tr := NewPhoneTracker(DefaultConfig())

	w := tr.ActiveWarnings(phones)
	if len(w) != 1 {
		t.Fatalf("ActiveWarnings() returned %d, want 1", len(w))
	}
	if w[0].GraceRemaining != 1.5 {
		t.Errorf("GraceRemaining = %v, want 1.5", w[0].GraceRemaining)
	}
}

func TestPhoneTracker_StaleCollected(t *testing.T) {
	tr := NewPhoneTracker(DefaultConfig())

	tr.Detect(t0, frameSize, []detection.Object{handheld}, "c1")
	tr.Detect(t0.Add(2100*time.Millisecond), frameSize, nil, "c1")

	if n := len(tr.Entries()); n != 0 {
		t.Errorf("Entries() = %d after 2.1s unseen, want 0", n)
	}
}

func TestPhoneTracker_Reset(t *testing.T) {
	tr := NewPhoneTracker(DefaultConfig())
	dets := []detection.Object{handheld}
	tr.Detect(t0, frameSize, dets, "c1")
	tr.Detect(t0.Add(100*time.Millisecond), frameSize, dets, "c1")

	tr.Reset()
	if n := len(tr.Entries()); n != 0 {
		t.Errorf("Entries() = %d after Reset, want 0", n)
	}

	phones := tr.Detect(t0.Add(200*time.Millisecond), frameSize, dets, "c1")
	if phones[0].Counting {
		t.Error("Reset should restart the consecutive gate")
	}
}
