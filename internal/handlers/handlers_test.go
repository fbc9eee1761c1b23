package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/face-gate/internal/auth"
	"github.com/example/face-gate/internal/facemodel"
	"github.com/example/face-gate/internal/imagedata"
	"github.com/example/face-gate/internal/repository"
	"github.com/example/face-gate/internal/selfiebox"
	"github.com/example/face-gate/internal/usecase"
)

const testJWTSecret = "test-secret"

// --- stubs for the use case dependencies ---

type stubRepository struct {
	savedLogs []*repository.VerificationLog
	findLog   *repository.VerificationLog
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.VerificationLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return nil
}

func (s *stubRepository) FindByRequestID(ctx context.Context, requestID string) (*repository.VerificationLog, error) {
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, errors.New("not found")
}

func (s *stubRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.VerificationLog, error) {
	return nil, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return &repository.MetricsAggregation{TotalCount: 1, VerifiedCount: 1}, nil
}

type stubCache struct{ values map[string]string }

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	if str, ok := value.(string); ok {
		s.values[key] = str
	}
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	if value, ok := s.values[key]; ok {
		return value, nil
	}
	return "", errors.New("miss")
}

type stubModel struct {
	judgment     *facemodel.Judgment
	matchErr     error
	enhanced     imagedata.Payload
	enhanceCalls int
}

func (s *stubModel) SummarizeMatch(ctx context.Context, selfie, frame imagedata.Payload) (*facemodel.Judgment, error) {
	if s.matchErr != nil {
		return nil, s.matchErr
	}
	return s.judgment, nil
}

func (s *stubModel) Enhance(ctx context.Context, frame imagedata.Payload) (imagedata.Payload, error) {
	s.enhanceCalls++
	return s.enhanced, nil
}

// --- helpers ---

func newTestRouter(t *testing.T, model facemodel.Client, box *selfiebox.Box) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize

	uc := usecase.NewVerificationUseCase(&stubRepository{}, &stubCache{}, model, zap.NewNop())
	RegisterRoutes(router, uc, box, auth.JWTMiddleware(testJWTSecret, ""), 3*time.Second)
	return router
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func getJSON(t *testing.T, router *gin.Engine, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var body map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", resp.Body.String(), err)
	}
	return resp.Code, body
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte, frameDataURI string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="selfie"; filename="selfie"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
	if frameDataURI != "" {
		if err := writer.WriteField("frameDataUri", frameDataURI); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

// --- intake ---

func TestReceivePhotoRejectsMalformedJSON(t *testing.T) {
	box := selfiebox.New()
	router := newTestRouter(t, &stubModel{}, box)

	resp := postJSON(router, "/api/receive-photo", "{not json")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "please send valid JSON") {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
	if _, _, ok := box.Peek(); ok {
		t.Fatal("slot must not be mutated by a rejected intake")
	}
}

func TestReceivePhotoRejectsNonImagePayload(t *testing.T) {
	box := selfiebox.New()
	router := newTestRouter(t, &stubModel{}, box)

	resp := postJSON(router, "/api/receive-photo", `{"selfieDataUri":"not-a-data-uri"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "selfieDataUri") {
		t.Fatalf("error must name the offending field, got: %s", resp.Body.String())
	}
	if _, _, ok := box.Peek(); ok {
		t.Fatal("slot must not be mutated by a rejected intake")
	}
}

func TestReceivePhotoRejectsBadReferenceFrame(t *testing.T) {
	box := selfiebox.New()
	router := newTestRouter(t, &stubModel{}, box)

	resp := postJSON(router, "/api/receive-photo",
		`{"selfieDataUri":"data:image/png;base64,AAA=","cctvDataUri":"data:text/plain;base64,AAA="}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "cctvDataUri") {
		t.Fatalf("error must name the offending field, got: %s", resp.Body.String())
	}
}

func TestReceivePhotoStoresSelfie(t *testing.T) {
	box := selfiebox.New()
	router := newTestRouter(t, &stubModel{}, box)

	resp := postJSON(router, "/api/receive-photo", `{"selfieDataUri":"data:image/png;base64,AAA="}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"status":"success"`) {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}

	payload, _, ok := box.Peek()
	if !ok {
		t.Fatal("expected the slot to hold the selfie")
	}
	if payload.URI() != "data:image/png;base64,AAA=" {
		t.Fatalf("unexpected stored payload: %s", payload.URI())
	}
}

func TestReceivePhotoCORSHeaders(t *testing.T) {
	router := newTestRouter(t, &stubModel{}, selfiebox.New())

	req := httptest.NewRequest(http.MethodOptions, "/api/receive-photo", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected open CORS, got %q", resp.Header().Get("Access-Control-Allow-Origin"))
	}
	if methods := resp.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "POST") || strings.Contains(methods, "GET") {
		t.Fatalf("unexpected allowed methods: %q", methods)
	}
}

// --- poll ---

func TestGetLatestSelfieConsumesTheSlot(t *testing.T) {
	box := selfiebox.New()
	router := newTestRouter(t, &stubModel{}, box)

	postJSON(router, "/api/receive-photo", `{"selfieDataUri":"data:image/png;base64,AAA="}`)

	code, body := getJSON(t, router, "/api/get-latest-selfie")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["selfieDataUri"] != "data:image/png;base64,AAA=" {
		t.Fatalf("unexpected first poll: %v", body["selfieDataUri"])
	}

	code, body = getJSON(t, router, "/api/get-latest-selfie")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["selfieDataUri"] != nil {
		t.Fatalf("second consecutive poll must be null, got %v", body["selfieDataUri"])
	}
}

func TestGetLatestSelfieEmptySlot(t *testing.T) {
	router := newTestRouter(t, &stubModel{}, selfiebox.New())

	code, body := getJSON(t, router, "/api/get-latest-selfie")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["selfieDataUri"] != nil {
		t.Fatalf("expected null, got %v", body["selfieDataUri"])
	}
}

// --- verify ---

func TestVerifyRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(t, &stubModel{}, selfiebox.New())

	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1), "data:image/png;base64,BBB=")
	req := httptest.NewRequest(http.MethodPost, "/api/verify", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestVerifyRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(t, &stubModel{}, selfiebox.New())

	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"), "data:image/png;base64,BBB=")
	req := httptest.NewRequest(http.MethodPost, "/api/verify", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestVerifyRejectsMissingFrame(t *testing.T) {
	router := newTestRouter(t, &stubModel{}, selfiebox.New())

	body, contentType := buildMultipartBody(t, "image/png", []byte{0, 0}, "")
	req := httptest.NewRequest(http.MethodPost, "/api/verify", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "frameDataUri") {
		t.Fatalf("error must name the offending field, got: %s", resp.Body.String())
	}
}

func TestVerifyMatchEndToEnd(t *testing.T) {
	model := &stubModel{judgment: facemodel.ParseJudgment(facemodel.MatchSentinel)}
	router := newTestRouter(t, model, selfiebox.New())

	body, contentType := buildMultipartBody(t, "image/png", []byte{0, 0}, "data:image/png;base64,BBB=")
	req := httptest.NewRequest(http.MethodPost, "/api/verify", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var parsed struct {
		RequestID string `json:"requestId"`
		Status    string `json:"status"`
		Message   string `json:"message"`
		Summary   string `json:"summary"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if parsed.Status != "verified" {
		t.Fatalf("expected verified, got %s", parsed.Status)
	}
	if parsed.Message != "Identity verified successfully." {
		t.Fatalf("unexpected message: %q", parsed.Message)
	}
	if parsed.RequestID == "" {
		t.Fatal("expected a request id")
	}
	if strings.Contains(resp.Body.String(), "enhancedImageUri") {
		t.Fatal("verified response must not carry an enhanced image")
	}
	if model.enhanceCalls != 0 {
		t.Fatalf("enhance must not run on match, got %d calls", model.enhanceCalls)
	}
}

func TestVerifyNoMatchEndToEnd(t *testing.T) {
	enhanced, err := imagedata.Parse("data:image/png;base64,CCC=")
	if err != nil {
		t.Fatalf("failed to build enhanced payload: %v", err)
	}
	model := &stubModel{
		judgment: facemodel.ParseJudgment("No matching person found in both images."),
		enhanced: enhanced,
	}
	router := newTestRouter(t, model, selfiebox.New())

	body, contentType := buildMultipartBody(t, "image/png", []byte{0, 0}, "data:image/png;base64,BBB=")
	req := httptest.NewRequest(http.MethodPost, "/api/verify", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var parsed struct {
		Status           string `json:"status"`
		Message          string `json:"message"`
		Summary          string `json:"summary"`
		EnhancedImageURI string `json:"enhancedImageUri"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if parsed.Status != "failed" {
		t.Fatalf("expected failed, got %s", parsed.Status)
	}
	if parsed.Summary != "No matching person found in both images." {
		t.Fatalf("unexpected summary: %q", parsed.Summary)
	}
	if parsed.EnhancedImageURI != "data:image/png;base64,CCC=" {
		t.Fatalf("unexpected enhanced image: %q", parsed.EnhancedImageURI)
	}
	if parsed.Message == "" {
		t.Fatal("failed response must carry a message")
	}
}

// --- auth ---

func TestResultRequiresToken(t *testing.T) {
	router := newTestRouter(t, &stubModel{}, selfiebox.New())

	req := httptest.NewRequest(http.MethodGet, "/api/result/abc", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestMetricsWithValidToken(t *testing.T) {
	router := newTestRouter(t, &stubModel{}, selfiebox.New())

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "admin"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "total_requests") {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
