package web

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-proctor/pkg/detection"
	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/metrics"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/service"
	"github.com/teslashibe/go-proctor/pkg/violation"
)

type noFaces struct{}

func (noFaces) DetectFaces(gocv.Mat) ([]detection.Face, error) { return nil, nil }
func (noFaces) Close() error                                   { return nil }

type noObjects struct{}

func (noObjects) DetectObjects(gocv.Mat) ([]detection.Object, error) { return nil, nil }
func (noObjects) Close() error                                       { return nil }

type testServer struct {
	*Server
	jpeg []byte
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := violation.Open(filepath.Join(t.TempDir(), "proctor.db"))
	require.NoError(t, err)

	m := metrics.New()
	h := hub.New("verdicts")
	engine := proctor.New(proctor.DefaultConfig(),
		detection.Static(noFaces{}, noObjects{}),
		proctor.WithReporter(violation.NewRecorder(store, service.RecordedHook(h, m))),
		proctor.WithObserver(m))
	t.Cleanup(func() {
		engine.Close()
		store.Close()
	})

	frame := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer frame.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	require.NoError(t, err)
	jpeg := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	return &testServer{
		Server: NewServer(":0", service.New(engine, store, h, m), h, m),
		jpeg:   jpeg,
	}
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func (s *testServer) postJSON(t *testing.T, path string, v any) (int, []byte) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return s.do(t, req)
}

func (s *testServer) analyzeRaw(t *testing.T, candidate string) service.Result {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze?candidate_id="+candidate, bytes.NewReader(s.jpeg))
	req.Header.Set("Content-Type", "image/jpeg")
	code, body := s.do(t, req)
	require.Equal(t, http.StatusOK, code, string(body))
	var res service.Result
	require.NoError(t, json.Unmarshal(body, &res))
	return res
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestAnalyze_RawBody(t *testing.T) {
	s := newTestServer(t)

	res := s.analyzeRaw(t, "c1")
	assert.Equal(t, "c1", res.CandidateID)
	assert.True(t, res.FaceDetected)
	assert.Zero(t, res.SessionViolations)
}

func TestAnalyze_JSONDataURL(t *testing.T) {
	s := newTestServer(t)

	code, body := s.postJSON(t, "/api/analyze", AnalyzeRequest{
		CandidateID: "c1",
		Image:       "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(s.jpeg),
		Mode:        "verification",
	})
	require.Equal(t, http.StatusOK, code, string(body))

	var res service.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, "c1", res.CandidateID)
}

func TestAnalyze_Multipart(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("candidate_id", "c1"))
	fw, err := w.CreateFormFile("frame", "frame.jpg")
	require.NoError(t, err)
	_, err = fw.Write(s.jpeg)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	code, body := s.do(t, req)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), `"candidate_id":"c1"`)
}

func TestAnalyze_BadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"no candidate", httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(s.jpeg))},
		{"empty body", httptest.NewRequest(http.MethodPost, "/api/analyze?candidate_id=c1", nil)},
		{"not an image", httptest.NewRequest(http.MethodPost, "/api/analyze?candidate_id=c1", strings.NewReader("garbage"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := s.do(t, tt.req)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, string(body), `"error"`)
		})
	}

	jsonTests := []struct {
		name string
		req  AnalyzeRequest
	}{
		{"bad base64", AnalyzeRequest{CandidateID: "c1", Image: "!!"}},
		{"no image", AnalyzeRequest{CandidateID: "c1"}},
		{"no candidate", AnalyzeRequest{Image: base64.StdEncoding.EncodeToString(s.jpeg)}},
		{"unknown mode", AnalyzeRequest{CandidateID: "c1", Image: base64.StdEncoding.EncodeToString(s.jpeg), Mode: "practice"}},
	}
	for _, tt := range jsonTests {
		t.Run("json "+tt.name, func(t *testing.T) {
			code, body := s.postJSON(t, "/api/analyze", tt.req)
			assert.Equal(t, http.StatusBadRequest, code, string(body))
		})
	}
}

func TestViolationsFlow(t *testing.T) {
	s := newTestServer(t)

	// the first empty frame is debounced, the rest count
	s.analyzeRaw(t, "c1")
	res := s.analyzeRaw(t, "c1")
	assert.False(t, res.FaceDetected)
	assert.Equal(t, 1, res.SessionViolations)

	code, body := s.postJSON(t, "/api/violations", map[string]string{"candidate_id": "c1", "reason": "Tab switched"})
	require.Equal(t, http.StatusOK, code, string(body))
	assert.JSONEq(t, `{"session_violations":2,"terminated":false}`, string(body))

	code, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/candidates/c1", nil))
	require.Equal(t, http.StatusOK, code)
	var got struct {
		State      proctor.CandidateSnapshot `json:"state"`
		Violations []violation.Violation     `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Violations, 2)
	assert.Equal(t, "Tab switched", got.Violations[0].Reason)
	assert.Equal(t, "Face is not visible", got.Violations[1].Reason)
	require.True(t, got.Violations[1].HasScreenshot)

	code, body = s.do(t, httptest.NewRequest(http.MethodGet,
		"/api/violations/"+got.Violations[1].ID.String()+"/screenshot", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, s.jpeg[:2], body[:2], "jpeg magic")

	code, _ = s.do(t, httptest.NewRequest(http.MethodGet,
		"/api/violations/"+got.Violations[0].ID.String()+"/screenshot", nil))
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/violations/nope/screenshot", nil))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLogViolation_NoSession(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.postJSON(t, "/api/violations", map[string]string{"candidate_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.postJSON(t, "/api/violations", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func (s *testServer) analyzeMultipart(t *testing.T, candidate string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("candidate_id", candidate))
	require.NoError(t, w.WriteField("mode", "test"))
	fw, err := w.CreateFormFile("frame", "frame.jpg")
	require.NoError(t, err)
	_, err = fw.Write(s.jpeg)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	code, body := s.do(t, req)
	require.Equal(t, http.StatusOK, code, string(body))
}

func TestAnalyze_CandidateIDsSurviveRequest(t *testing.T) {
	s := newTestServer(t)

	s.analyzeRaw(t, "alice-0001")
	s.analyzeRaw(t, "bobby-0002")
	s.analyzeMultipart(t, "carol-0003")
	s.analyzeMultipart(t, "dave-00004")

	// Follow-up frames must land on the same state
	s.analyzeRaw(t, "alice-0001")
	s.analyzeMultipart(t, "carol-0003")

	code, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/candidates", nil))
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"candidates":["alice-0001","bobby-0002","carol-0003","dave-00004"],"count":4}`, string(body))

	tests := []struct {
		id     string
		frames int
	}{
		{"alice-0001", 2},
		{"bobby-0002", 1},
		{"carol-0003", 2},
		{"dave-00004", 1},
	}
	for _, tt := range tests {
		code, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/candidates/"+tt.id, nil))
		require.Equal(t, http.StatusOK, code, tt.id)
		var got struct {
			State proctor.CandidateSnapshot `json:"state"`
		}
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, tt.id, got.State.ID)
		assert.Equal(t, tt.frames, got.State.Frames, tt.id)
	}
}

func TestCandidates(t *testing.T) {
	s := newTestServer(t)

	s.analyzeRaw(t, "b")
	s.analyzeRaw(t, "a")

	code, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/candidates", nil))
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"candidates":["a","b"],"count":2}`, string(body))

	code, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/candidates/zzz", nil))
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/candidates/a", nil))
	assert.Equal(t, http.StatusNoContent, code)

	code, body = s.postJSON(t, "/api/reset", map[string]string{"candidate_id": "b"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "session reset")

	code, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/candidates", nil))
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"candidates":[],"count":0}`, string(body))

	code, _ = s.postJSON(t, "/api/reset", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.analyzeRaw(t, "c1")

	code, body := s.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "proctor_frames_analyzed_total 1")
}

func TestVerdictsRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, httptest.NewRequest(http.MethodGet, "/ws/verdicts", nil))
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{proctor.ErrInvalidFrame, http.StatusBadRequest},
		{proctor.ErrEmptyCandidate, http.StatusBadRequest},
		{violation.ErrNotFound, http.StatusNotFound},
		{proctor.ErrBusy, http.StatusConflict},
	}
	for _, tt := range tests {
		var fe *fiber.Error
		require.ErrorAs(t, mapError(tt.err), &fe)
		assert.Equal(t, tt.want, fe.Code, tt.err.Error())
	}

	other := errors.New("boom")
	assert.Same(t, other, mapError(other))
}
