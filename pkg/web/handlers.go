package web

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/violation"
)

// AnalyzeRequest is the JSON form of POST /api/analyze. Image is base64 or
// a data URL.
type AnalyzeRequest struct {
	CandidateID string `json:"candidate_id" validate:"required,max=128"`
	Image       string `json:"image" validate:"required"`
	Mode        string `json:"mode" validate:"omitempty,oneof=test verification"`
}

// CandidateRequest names a candidate
type CandidateRequest struct {
	CandidateID string `json:"candidate_id" validate:"required,max=128"`
}

// ViolationRequest is a manual violation, e.g. a tab switch
type ViolationRequest struct {
	CandidateID string `json:"candidate_id" validate:"required,max=128"`
	Reason      string `json:"reason" validate:"max=255"`
}

// bind parses the JSON body into req and validates it
func (s *Server) bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return s.validate.Struct(req)
}

// handleHealth reports liveness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "ok",
		"dashboards": s.hub.ClientCount(),
		"candidates": s.ingest.ConnectionCount(),
	})
}

// handleAnalyze accepts a frame as multipart ("frame" file), JSON, or a raw
// image body with candidate_id and mode in the query
func (s *Server) handleAnalyze(c *fiber.Ctx) error {
	candidateID, mode, image, err := s.readFrame(c)
	if err != nil {
		return err
	}
	if candidateID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "candidate_id required")
	}

	res, err := s.svc.Analyze(c.UserContext(), image, candidateID, proctor.ParseMode(mode))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(res)
}

func (s *Server) readFrame(c *fiber.Ctx) (candidateID, mode string, image []byte, err error) {
	switch {
	case c.Is("json"):
		var req AnalyzeRequest
		if err := s.bind(c, &req); err != nil {
			return "", "", nil, err
		}
		frame := protocol.FrameData{Data: req.Image}
		image, err := frame.DecodeImage()
		if err != nil {
			return "", "", nil, fiber.NewError(fiber.StatusBadRequest, "invalid image: "+err.Error())
		}
		return req.CandidateID, req.Mode, image, nil

	case strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm):
		fh, err := c.FormFile("frame")
		if err != nil {
			return "", "", nil, fiber.NewError(fiber.StatusBadRequest, "frame file required")
		}
		f, err := fh.Open()
		if err != nil {
			return "", "", nil, err
		}
		defer f.Close()
		image, err := io.ReadAll(f)
		if err != nil {
			return "", "", nil, err
		}
		return c.FormValue("candidate_id"), c.FormValue("mode"), image, nil

	default:
		return c.Query("candidate_id"), c.Query("mode"), c.Body(), nil
	}
}

// handleReset ends the candidate's session and clears their trackers
func (s *Server) handleReset(c *fiber.Ctx) error {
	var req CandidateRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if err := s.svc.Reset(c.UserContext(), req.CandidateID); err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"message": "session reset", "candidate_id": req.CandidateID})
}

// handleDeleteCandidate is the REST form of reset
func (s *Server) handleDeleteCandidate(c *fiber.Ctx) error {
	if err := s.svc.Reset(c.UserContext(), c.Params("id")); err != nil {
		return mapError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleLogViolation records a client-side violation, e.g. a tab switch
func (s *Server) handleLogViolation(c *fiber.Ctx) error {
	var req ViolationRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	sess, err := s.svc.LogViolation(c.UserContext(), req.CandidateID, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{
		"session_violations": sess.Violations,
		"terminated":         sess.Exceeded(),
	})
}

// handleScreenshot returns the JPEG stored with a violation
func (s *Server) handleScreenshot(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid violation id")
	}
	img, err := s.svc.Screenshot(c.UserContext(), id)
	if err != nil {
		return mapError(err)
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	return c.Send(img)
}

// handleListCandidates lists candidates with live tracker state
func (s *Server) handleListCandidates(c *fiber.Ctx) error {
	ids, err := s.svc.Candidates()
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"candidates": ids, "count": len(ids)})
}

// handleGetCandidate returns tracker state and recent violations
func (s *Server) handleGetCandidate(c *fiber.Ctx) error {
	snap, list, ok, err := s.svc.Candidate(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown candidate")
	}
	if list == nil {
		list = []violation.Violation{}
	}
	return c.JSON(fiber.Map{"state": snap, "violations": list})
}

// handleIngestStats returns websocket ingest statistics
func (s *Server) handleIngestStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"stats":       s.ingest.GetStats(),
		"connections": s.ingest.Connections(),
	})
}

// handleVerdictsWS streams engine events to a proctor dashboard. The
// candidate query parameter narrows the feed to one candidate.
func (s *Server) handleVerdictsWS(c *websocket.Conn) {
	client := hub.NewClient(s.hub, c, c.Query("candidate"))
	client.Run()
}

// mapError converts domain errors to HTTP errors
func mapError(err error) error {
	switch {
	case errors.Is(err, proctor.ErrInvalidFrame):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, proctor.ErrEmptyCandidate), errors.Is(err, violation.ErrEmptyCandidate):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, violation.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, proctor.ErrBusy):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
