package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/claim"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/report"
	"github.com/fpang/vehicle-claim-estimator/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawDecoder struct{}

func (rawDecoder) Decode(_ context.Context, filename string, r io.Reader) (*filehandler.Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &filehandler.DecodeError{Message: "the selected file is empty"}
	}
	return &filehandler.Payload{Filename: filename, MIMEType: "image/png", Data: data}, nil
}

func testReport() *report.DamageReport {
	return &report.DamageReport{
		VehicleType:        "Lexus RX 350",
		TotalEstimatedCost: 480000,
		Currency:           "NGN",
		Parts: []report.PartEstimation{
			{PartName: "Headlamp", DamageType: report.DamageShattered, Severity: 8, Action: report.ActionReplace, EstimatedCost: 480000, LaborHours: 1.5},
		},
		Summary:           "Shattered left headlamp.",
		ConfidenceScore:   0.7,
		PayoutEligibility: report.PayoutManualReview,
	}
}

type testEnv struct {
	srv     *httptest.Server
	release chan struct{}
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	release := make(chan struct{})
	analyzer := claim.AnalyzerFunc(func(ctx context.Context, _ *filehandler.Payload) (*report.DamageReport, error) {
		select {
		case <-release:
			return testReport(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	mgr := session.NewManager(session.Options{Analyzer: analyzer, Decoder: rawDecoder{}})
	t.Cleanup(mgr.Close)

	srv := httptest.NewServer(New(mgr, opts).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, release: release}
}

type stateBody struct {
	SessionID string `json:"sessionId"`
	State     struct {
		Image    *string              `json:"image"`
		HasImage bool                 `json:"hasImage"`
		Status   claim.Status         `json:"status"`
		Report   *report.DamageReport `json:"report"`
		Error    string               `json:"error"`
	} `json:"state"`
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) create(t *testing.T) string {
	t.Helper()
	resp, data := e.do(t, http.MethodPost, "/api/claims", nil, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var b stateBody
	require.NoError(t, json.Unmarshal(data, &b))
	require.NotEmpty(t, b.SessionID)
	return b.SessionID
}

func decodeState(t *testing.T, data []byte) stateBody {
	t.Helper()
	var b stateBody
	require.NoError(t, json.Unmarshal(data, &b), string(data))
	return b
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{Version: "test"})
	resp, data := env.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"status":"ok"`)
}

func TestCreateReturnsIdleState(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp, data := env.do(t, http.MethodPost, "/api/claims", nil, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Contains(t, string(data), `"image":null`)
	assert.Contains(t, string(data), `"report":null`)
	assert.NotContains(t, string(data), `"error"`)
	b := decodeState(t, data)
	assert.Equal(t, claim.StatusIdle, b.State.Status)
}

func TestFullClaimFlow(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.create(t)

	resp, data := env.do(t, http.MethodPost, "/api/claims/"+id+"/image?filename=car.png", bytes.NewReader([]byte{1, 2, 3}), "image/png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b := decodeState(t, data)
	require.NotNil(t, b.State.Image)
	assert.Equal(t, "data:image/png;base64,AQID", *b.State.Image)
	assert.Equal(t, claim.StatusIdle, b.State.Status)

	resp, data = env.do(t, http.MethodPost, "/api/claims/"+id+"/analyze", nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, claim.StatusAnalyzing, decodeState(t, data).State.Status)

	// A second start while analyzing changes nothing.
	resp, data = env.do(t, http.MethodPost, "/api/claims/"+id+"/analyze", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, claim.StatusAnalyzing, decodeState(t, data).State.Status)

	close(env.release)
	require.Eventually(t, func() bool {
		_, data := env.do(t, http.MethodGet, "/api/claims/"+id+"?includeImage=false", nil, "")
		return decodeState(t, data).State.Status == claim.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	_, data = env.do(t, http.MethodGet, "/api/claims/"+id+"?includeImage=false", nil, "")
	b = decodeState(t, data)
	assert.Nil(t, b.State.Image)
	assert.True(t, b.State.HasImage)
	require.NotNil(t, b.State.Report)
	assert.Equal(t, "Lexus RX 350", b.State.Report.VehicleType)

	resp, data = env.do(t, http.MethodGet, "/api/claims/"+id+"/image", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte{1, 2, 3}, data)

	resp, data = env.do(t, http.MethodPost, "/api/claims/"+id+"/reset", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b = decodeState(t, data)
	assert.Equal(t, claim.StatusIdle, b.State.Status)
	assert.Nil(t, b.State.Image)
	assert.Nil(t, b.State.Report)
}

func TestResetDuringAnalysisOverHTTP(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.create(t)

	env.do(t, http.MethodPost, "/api/claims/"+id+"/image", strings.NewReader("photo"), "image/png")
	resp, _ := env.do(t, http.MethodPost, "/api/claims/"+id+"/analyze", nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, data := env.do(t, http.MethodPost, "/api/claims/"+id+"/reset", nil, "")
	assert.Equal(t, claim.StatusIdle, decodeState(t, data).State.Status)
	close(env.release)

	time.Sleep(50 * time.Millisecond)
	_, data = env.do(t, http.MethodGet, "/api/claims/"+id, nil, "")
	b := decodeState(t, data)
	assert.Equal(t, claim.StatusIdle, b.State.Status)
	assert.Nil(t, b.State.Report)
}

func TestMultipartUpload(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.create(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile("file", "door.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("pixels"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, data := env.do(t, http.MethodPost, "/api/claims/"+id+"/image", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeState(t, data).State.HasImage)
}

func TestMultipartWithoutFilePart(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.create(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no photo"))
	require.NoError(t, mw.Close())

	resp, _ := env.do(t, http.MethodPost, "/api/claims/"+id+"/image", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUndecodableUploadIsErrorState(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.create(t)

	resp, data := env.do(t, http.MethodPost, "/api/claims/"+id+"/image", strings.NewReader(""), "image/png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b := decodeState(t, data)
	assert.Equal(t, claim.StatusError, b.State.Status)
	assert.Equal(t, "the selected file is empty", b.State.Error)
	assert.Nil(t, b.State.Image)
}

func TestAnalyzeWithoutImageIsNoop(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.create(t)

	resp, data := env.do(t, http.MethodPost, "/api/claims/"+id+"/analyze", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, claim.StatusIdle, decodeState(t, data).State.Status)
}

func TestSessionErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"invalid id", http.MethodGet, "/api/claims/not-a-uuid", http.StatusBadRequest},
		{"unknown id", http.MethodGet, "/api/claims/7f1c2a52-5d4e-4b7a-9a57-2d0f3f4a1b2c", http.StatusNotFound},
		{"unknown image", http.MethodGet, "/api/claims/7f1c2a52-5d4e-4b7a-9a57-2d0f3f4a1b2c/image", http.StatusNotFound},
		{"unknown delete", http.MethodDelete, "/api/claims/7f1c2a52-5d4e-4b7a-9a57-2d0f3f4a1b2c", http.StatusNotFound},
		{"wrong method", http.MethodPut, "/api/claims", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, tt.method, tt.path, nil, "")
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestDeleteClaim(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.create(t)

	resp, _ := env.do(t, http.MethodDelete, "/api/claims/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/claims/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOriginVerify(t *testing.T) {
	env := newTestEnv(t, Options{OriginSecret: "s3cret"})

	resp, _ := env.do(t, http.MethodPost, "/api/claims", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/claims", nil)
	require.NoError(t, err)
	req.Header.Set("x-origin-verify", "s3cret")
	r, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusCreated, r.StatusCode)
}

func TestCORS(t *testing.T) {
	h := withCORS([]string{"https://claims.example.com"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		origin string
		want   string
	}{
		{"http://localhost:5173", "http://localhost:5173"},
		{"https://claims.example.com", "https://claims.example.com"},
		{"https://evil.example.com", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/claims", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"), tt.origin)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"/api/health": "/api/health",
		"/api/claims/7f1c2a52-5d4e-4b7a-9a57-2d0f3f4a1b2c/analyze": "/api/claims/*/analyze",
		"/api/claims/7f1c2a52-5d4e-4b7a-9a57-2d0f3f4a1b2c":         "/api/claims/*",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeEndpoint(in), in)
	}
}

func TestGzipResponses(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.create(t)

	big := bytes.Repeat([]byte{7}, 4096)
	env.do(t, http.MethodPost, "/api/claims/"+id+"/image", bytes.NewReader(big), "image/png")

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/claims/"+id, nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := env.srv.Client().Transport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
}

func TestSyncAnalysisReturnsOutcome(t *testing.T) {
	env := newTestEnv(t, Options{SyncAnalysis: true})
	id := env.create(t)
	env.do(t, http.MethodPost, "/api/claims/"+id+"/image", strings.NewReader("photo"), "image/png")

	close(env.release)
	resp, data := env.do(t, http.MethodPost, "/api/claims/"+id+"/analyze?includeImage=false", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b := decodeState(t, data)
	assert.Equal(t, claim.StatusCompleted, b.State.Status)
	require.NotNil(t, b.State.Report)
	assert.Equal(t, 480000.0, b.State.Report.TotalEstimatedCost)
}
