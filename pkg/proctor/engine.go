package proctor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/detection"
)

// Engine is the frame analysis orchestrator. One engine serves every
// candidate; all tracker state lives inside it, keyed by candidate id.
//
// A single guard covers the whole analysis. It is only ever try-acquired:
// a frame that arrives while another is in flight gets a skipped, neutral
// verdict straight away and changes no state.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	models   detection.LoadFunc
	reporter Reporter
	observer Observer
	now      func() time.Time
	logger   *slog.Logger

	candidates map[string]*candidate
	lastSweep  time.Time
	modelsUsed bool
	loadLogged bool
}

// Option configures an Engine
type Option func(*Engine)

// WithReporter sets the persistence collaborator
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides the frame clock, for tests and replays
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. models is called lazily on the first frame; wrap
// loaders that touch disk with detection.Lazy.
func New(cfg Config, models detection.LoadFunc, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		models:     models,
		observer:   nopObserver{},
		now:        time.Now,
		logger:     log.Component("engine"),
		candidates: make(map[string]*candidate),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Warmup loads the detector models ahead of the first frame. Warmup and
// Close are the only callers that block on the guard.
func (e *Engine) Warmup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.models()
	e.modelsUsed = true
	return err
}

// AnalyzeJPEG decodes an encoded frame and analyses it
func (e *Engine) AnalyzeJPEG(ctx context.Context, data []byte, candidateID string, mode Mode) (Verdict, error) {
	if len(data) == 0 {
		return Verdict{}, fmt.Errorf("%w: no image data", ErrInvalidFrame)
	}
	frame, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	defer frame.Close()

	return e.Analyze(ctx, frame, candidateID, mode)
}

// Analyze runs one frame for a candidate and returns the verdict.
// Errors are input errors only; detector failures degrade to neutral
// signals and a busy engine yields a skipped verdict.
func (e *Engine) Analyze(ctx context.Context, frame gocv.Mat, candidateID string, mode Mode) (Verdict, error) {
	if candidateID == "" {
		return Verdict{}, ErrEmptyCandidate
	}
	if frame.Empty() || frame.Cols() == 0 || frame.Rows() == 0 {
		return Verdict{}, fmt.Errorf("%w: empty image", ErrInvalidFrame)
	}
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	if !e.mu.TryLock() {
		e.observer.FrameSkipped()
		e.logger.Debug("frame skipped, engine busy", "candidate", candidateID)
		return SkippedVerdict(candidateID), nil
	}
	start := time.Now()
	v, screenshot := e.analyzeLocked(frame, candidateID, mode)
	e.mu.Unlock()

	e.observer.FrameAnalyzed(time.Since(start))
	e.report(ctx, v, screenshot, mode)
	return v, nil
}

// analyzeLocked does the detection and tracking. Caller holds the guard.
func (e *Engine) analyzeLocked(frame gocv.Mat, candidateID string, mode Mode) (Verdict, []byte) {
	start := time.Now()
	now := e.now()

	e.sweepIdle(now)
	c := e.candidateFor(candidateID, now)
	v := newVerdict(candidateID)

	models, err := e.models()
	e.modelsUsed = true
	if err != nil && !e.loadLogged {
		e.loadLogged = true
		e.logger.Error("detector models unavailable", "error", err)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(frame, &resized, e.cfg.AnalysisSize, 0, 0, gocv.InterpolationLinear)

	// Faces
	faces, facesOK := e.detectFaces(models.Faces, frame, resized, candidateID)
	if facesOK {
		v.FaceCount = len(faces)
		state := c.faces.Update(detection.Boxes(faces))
		v.FaceDetected = state.Present
		v.MultipleFaces = state.Multiple
		noFace, multiple := c.faces.Streaks()
		if !state.Present {
			e.logger.Warn("face missing", "candidate", candidateID, "frames", noFace)
		} else if state.Multiple {
			e.logger.Warn("multiple faces", "candidate", candidateID, "faces", len(faces), "frames", multiple)
		}
	}

	// Motion
	gray := e.grayscale(resized)
	motion := c.motion.Update(gray)
	gray.Close()
	v.MovementScore = motion.Score
	v.HeavyMovement = motion.Heavy

	e.logger.Debug("frame",
		"candidate", candidateID,
		"frame", c.frames,
		"faces", len(faces),
		"movement", motion.Score,
		"heavy", motion.Heavy)

	// Phones and prohibited objects
	objects, objectsOK := e.detectObjects(models.Objects, frame, candidateID)
	if objectsOK {
		phoneDets, items := e.cfg.Catalog.Split(objects)
		size := image.Pt(frame.Cols(), frame.Rows())
		e.mergePhones(&v, c, c.phones.Detect(now, size, phoneDets, candidateID))

		if c.frames > e.cfg.WarmupFrames {
			e.mergeObjects(&v, c.objects.Update(now, items, detection.Boxes(faces)))
		}
	}

	c.frames++
	c.lastActive = now
	v.ProcessingMs = round2(float64(time.Since(start).Microseconds()) / 1000)

	var screenshot []byte
	if e.cfg.Screenshots && mode != ModeVerification && v.HasViolation() {
		screenshot = e.encode(frame)
	}
	return v, screenshot
}

// detectFaces runs the face collaborator on the analysis frame and maps
// boxes back to source pixels. ok is false when the signal is unavailable.
func (e *Engine) detectFaces(d detection.FaceDetector, frame, resized gocv.Mat, candidateID string) (faces []detection.Face, ok bool) {
	if d == nil {
		return nil, false
	}
	raw, err := d.DetectFaces(resized)
	if err != nil {
		e.observer.DetectorFailed("face")
		e.logger.Warn("face detection failed", "candidate", candidateID, "error", err)
		return nil, false
	}

	sx := float64(frame.Cols()) / float64(resized.Cols())
	sy := float64(frame.Rows()) / float64(resized.Rows())
	for _, f := range raw {
		if f.Confidence <= e.cfg.FaceConfidence {
			continue
		}
		f.Box = f.Box.Scale(sx, sy)
		faces = append(faces, f)
	}
	return faces, true
}

// detectObjects runs the object collaborator on the source frame
func (e *Engine) detectObjects(d detection.ObjectDetector, frame gocv.Mat, candidateID string) ([]detection.Object, bool) {
	if d == nil {
		return nil, false
	}
	objects, err := d.DetectObjects(frame)
	if err != nil {
		e.observer.DetectorFailed("object")
		e.logger.Warn("object detection failed", "candidate", candidateID, "error", err)
		return nil, false
	}
	return objects, true
}

// grayscale converts and blurs the analysis frame for motion scoring
func (e *Engine) grayscale(resized gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if resized.Channels() == 1 {
		resized.CopyTo(&gray)
	} else {
		gocv.CvtColor(resized, &gray, gocv.ColorBGRToGray)
	}
	if k := e.cfg.MotionBlur; k > 1 {
		gocv.GaussianBlur(gray, &gray, image.Pt(k|1, k|1), 0, 0, gocv.BorderDefault)
	}
	return gray
}

func (e *Engine) mergePhones(v *Verdict, c *candidate, phones []Phone) {
	if len(phones) == 0 {
		return
	}
	v.PhoneDetected = true
	v.PhoneCount = len(phones)
	v.Phones = phones

	if warnings := c.phones.ActiveWarnings(phones); len(warnings) > 0 {
		v.PhoneWarnings = warnings
		v.GraceRemaining = warnings[0].GraceRemaining
	}

	pv := c.phones.CheckViolation(phones)
	if pv == nil {
		return
	}
	v.ObjectViolation = true
	v.ViolationType = ViolationPhone
	v.ViolationSeverity = SeverityHigh
	v.Violations = append(v.Violations, ViolationDetail{
		Type:        ViolationPhone,
		Severity:    SeverityHigh,
		TimeVisible: pv.TimeVisible,
		Box:         pv.Box,
		Confidence:  pv.Confidence,
	})
	e.observer.ViolationRaised("phone")
}

// mergeObjects folds object sightings into the verdict. A phone violation
// on the same frame stays the primary violation.
func (e *Engine) mergeObjects(v *Verdict, sightings []ObjectSighting) {
	if len(sightings) == 0 {
		return
	}
	v.ObjectDetected = true
	v.Objects = sightings

	for _, s := range sightings {
		if !s.Violation {
			continue
		}
		v.ObjectViolation = true
		if v.ViolationType != ViolationPhone {
			v.ViolationType = s.Name
			v.ViolationSeverity = s.Severity
			v.CorrectionRemaining = s.GraceRemaining
		}
		v.Violations = append(v.Violations, ViolationDetail{
			Type:           s.Name,
			Severity:       s.Severity,
			TimeVisible:    s.TimeVisible,
			GraceRemaining: s.GraceRemaining,
			Box:            s.Box,
			Confidence:     s.Confidence,
			NearFace:       s.NearFace,
		})
		e.observer.ViolationRaised("object")
	}
}

// encode returns the source frame as JPEG for the screenshot payload
func (e *Engine) encode(frame gocv.Mat) []byte {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		e.logger.Warn("screenshot encode failed", "error", err)
		return nil
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes())
}

// report hands violations to the persistence collaborator. Failures are
// logged; the verdict is returned regardless.
func (e *Engine) report(ctx context.Context, v Verdict, screenshot []byte, mode Mode) {
	if e.reporter == nil || mode == ModeVerification || !v.HasViolation() {
		return
	}
	if err := e.reporter.Report(ctx, v, screenshot); err != nil {
		e.observer.ReportFailed()
		e.logger.Error("report violation failed", "candidate", v.CandidateID, "error", err)
	}
}

// Reset forgets a candidate's state, for a new exam session.
func (e *Engine) Reset(candidateID string) error {
	if !e.mu.TryLock() {
		return ErrBusy
	}
	defer e.mu.Unlock()

	if c, ok := e.candidates[candidateID]; ok {
		c.close()
		delete(e.candidates, candidateID)
		e.observer.CandidatesTracked(len(e.candidates))
		e.logger.Info("candidate reset", "candidate", candidateID)
	}
	return nil
}

// Candidates returns the ids of every tracked candidate, sorted.
func (e *Engine) Candidates() ([]string, error) {
	if !e.mu.TryLock() {
		return nil, ErrBusy
	}
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.candidates))
	for id := range e.candidates {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Snapshot returns a copy of one candidate's tracker state.
func (e *Engine) Snapshot(candidateID string) (CandidateSnapshot, bool, error) {
	if !e.mu.TryLock() {
		return CandidateSnapshot{}, false, ErrBusy
	}
	defer e.mu.Unlock()

	c, ok := e.candidates[candidateID]
	if !ok {
		return CandidateSnapshot{}, false, nil
	}
	return c.snapshot(), true, nil
}

// Close releases every candidate and the detector models. Unlike the frame
// path it blocks on the guard, waiting for an in-flight frame to finish.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, c := range e.candidates {
		c.close()
		delete(e.candidates, id)
	}

	if !e.modelsUsed {
		return nil
	}
	models, _ := e.models()
	return models.Close()
}
