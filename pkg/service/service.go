// Package service ties the engine, the violation store and the dashboard
// hub together behind the operations the transports expose.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/metrics"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/violation"
)

// Result is a verdict plus the candidate's session standing
type Result struct {
	proctor.Verdict
	SessionViolations int  `json:"session_violations"`
	Terminated        bool `json:"terminated"`
}

// Service is the proctoring application
type Service struct {
	engine  *proctor.Engine
	store   *violation.Store
	hub     *hub.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a service. hub and m may be nil.
func New(engine *proctor.Engine, store *violation.Store, h *hub.Hub, m *metrics.Metrics) *Service {
	return &Service{
		engine:  engine,
		store:   store,
		hub:     h,
		metrics: m,
		logger:  log.Component("service"),
	}
}

// NewCandidateID returns an id for a client that did not bring one
func NewCandidateID() string {
	return uuid.NewString()
}

// Analyze runs one encoded frame through the engine and attaches the
// candidate's active session, starting one on first contact. Skipped and
// verification frames report the count without adding to it.
func (s *Service) Analyze(ctx context.Context, image []byte, candidateID string, mode proctor.Mode) (Result, error) {
	v, err := s.engine.AnalyzeJPEG(ctx, image, candidateID, mode)
	if err != nil {
		if errors.Is(err, proctor.ErrInvalidFrame) && s.metrics != nil {
			s.metrics.FramesRejected.Add(1)
		}
		return Result{}, err
	}

	res := Result{Verdict: v}
	sess, err := s.store.Session(ctx, candidateID)
	if err != nil {
		s.logger.Error("session lookup failed", "candidate", candidateID, "error", err)
	}
	res.SessionViolations = sess.Violations
	res.Terminated = sess.Exceeded()

	if !v.Skipped {
		s.publish(hub.KindVerdict, candidateID, res)
	}
	return res, nil
}

// Reset clears the candidate's tracker state and ends their session.
// It fails with proctor.ErrBusy while a frame is in flight.
func (s *Service) Reset(ctx context.Context, candidateID string) error {
	if candidateID == "" {
		return proctor.ErrEmptyCandidate
	}
	if err := s.engine.Reset(candidateID); err != nil {
		return err
	}
	if err := s.store.End(ctx, candidateID); err != nil {
		return err
	}
	s.logger.Info("session reset", "candidate", candidateID)
	s.publish(hub.KindReset, candidateID, nil)
	return nil
}

// LogViolation records a manual violation against the active session
func (s *Service) LogViolation(ctx context.Context, candidateID, reason string) (violation.Session, error) {
	sess, err := s.store.Append(ctx, candidateID, reason)
	if err != nil {
		return violation.Session{}, err
	}
	s.logger.Warn("manual violation logged", "candidate", candidateID, "reason", reason, "total", sess.Violations)
	if s.metrics != nil {
		s.metrics.RecordedTotal.Add(1)
	}
	s.publish(hub.KindViolation, candidateID, sess)
	return sess, nil
}

// Candidates lists candidates with live tracker state
func (s *Service) Candidates() ([]string, error) {
	return s.engine.Candidates()
}

// Candidate returns tracker state and recent violations for one candidate
func (s *Service) Candidate(ctx context.Context, candidateID string) (proctor.CandidateSnapshot, []violation.Violation, bool, error) {
	snap, ok, err := s.engine.Snapshot(candidateID)
	if err != nil {
		return proctor.CandidateSnapshot{}, nil, false, err
	}
	list, err := s.store.List(ctx, candidateID, 50)
	if err != nil {
		return proctor.CandidateSnapshot{}, nil, false, err
	}
	return snap, list, ok || len(list) > 0, nil
}

// Screenshot returns the JPEG stored with a violation
func (s *Service) Screenshot(ctx context.Context, id uuid.UUID) ([]byte, error) {
	return s.store.Screenshot(ctx, id)
}

// RecordedHook returns a violation.Recorded hook that counts stored
// violations and broadcasts them to dashboards. Either argument may be nil.
func RecordedHook(h *hub.Hub, m *metrics.Metrics) violation.Recorded {
	logger := log.Component("service")
	return func(sess violation.Session, recorded []violation.Violation) {
		if m != nil {
			m.RecordedTotal.Add(uint64(len(recorded)))
		}
		if h == nil {
			return
		}
		for _, v := range recorded {
			if err := h.Publish(hub.KindViolation, sess.CandidateID, v); err != nil {
				logger.Warn("publish failed", "kind", hub.KindViolation, "error", err)
			}
		}
	}
}

func (s *Service) publish(kind, candidateID string, payload any) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(kind, candidateID, payload); err != nil {
		s.logger.Warn("publish failed", "kind", kind, "error", err)
	}
}
