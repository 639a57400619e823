package proctor

import (
	"time"
)

// candidate is all tracker state owned by one candidate id
type candidate struct {
	id         string
	faces      *FaceBuffer
	motion     *MotionEstimator
	phones     *PhoneTracker
	objects    *ObjectTracker
	frames     int
	lastActive time.Time
}

func newCandidate(id string, cfg Config, now time.Time) *candidate {
	return &candidate{
		id:         id,
		faces:      NewFaceBuffer(cfg),
		motion:     NewMotionEstimator(cfg),
		phones:     NewPhoneTracker(cfg),
		objects:    NewObjectTracker(cfg),
		lastActive: now,
	}
}

func (c *candidate) close() {
	c.motion.Close()
}

// CandidateSnapshot is a copy of one candidate's tracker state
type CandidateSnapshot struct {
	ID                 string          `json:"id"`
	Frames             int             `json:"frames"`
	LastActive         time.Time       `json:"last_active"`
	NoFaceStreak       uint            `json:"no_face_streak"`
	MultipleFaceStreak uint            `json:"multiple_face_streak"`
	PhoneViolations    uint64          `json:"phone_violations"`
	Objects            []TrackedObject `json:"objects"`
	Phones             []PhoneTrack    `json:"phones"`
}

func (c *candidate) snapshot() CandidateSnapshot {
	noFace, multiple := c.faces.Streaks()
	return CandidateSnapshot{
		ID:                 c.id,
		Frames:             c.frames,
		LastActive:         c.lastActive,
		NoFaceStreak:       noFace,
		MultipleFaceStreak: multiple,
		PhoneViolations:    c.phones.Violations(),
		Objects:            c.objects.Entries(),
		Phones:             c.phones.Entries(),
	}
}

// candidateFor returns the state for id, creating it on first use.
// Caller holds the engine guard.
func (e *Engine) candidateFor(id string, now time.Time) *candidate {
	c, ok := e.candidates[id]
	if !ok {
		c = newCandidate(id, e.cfg, now)
		e.candidates[id] = c
		e.logger.Info("tracking candidate", "candidate", id, "total", len(e.candidates))
		e.observer.CandidatesTracked(len(e.candidates))
	}
	return c
}

// sweepIdle forgets candidates that sent no frame for IdleTimeout.
// Runs at most every quarter timeout. Caller holds the engine guard.
func (e *Engine) sweepIdle(now time.Time) {
	if e.cfg.IdleTimeout <= 0 || now.Sub(e.lastSweep) < e.cfg.IdleTimeout/4 {
		return
	}
	e.lastSweep = now

	evicted := 0
	for id, c := range e.candidates {
		if now.Sub(c.lastActive) > e.cfg.IdleTimeout {
			c.close()
			delete(e.candidates, id)
			evicted++
		}
	}
	if evicted > 0 {
		e.logger.Info("evicted idle candidates", "evicted", evicted, "remaining", len(e.candidates))
		e.observer.CandidatesTracked(len(e.candidates))
	}
}
