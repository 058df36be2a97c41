package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/BradenHooton/stepgate/internal/services"
	pkghttp "github.com/BradenHooton/stepgate/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// NewTestLogger returns a logger that discards output
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockTwoFactorService implements TwoFactorServiceInterface for testing
type MockTwoFactorService struct {
	GetStatusFunc func(ctx context.Context, req *services.TwoFactorRequest) (*models.TwoFactorStatus, error)
	ObtainFunc    func(ctx context.Context, req *services.TwoFactorRequest) (*models.ObtainResult, error)
	VerifyFunc    func(ctx context.Context, req *services.TwoFactorRequest, code string) (*models.VerifyResult, error)
	ForgetFunc    func(ctx context.Context, req *services.TwoFactorRequest) error

	// Requests records every request passed to the service
	Requests []*services.TwoFactorRequest
}

func (m *MockTwoFactorService) GetStatus(ctx context.Context, req *services.TwoFactorRequest) (*models.TwoFactorStatus, error) {
	m.Requests = append(m.Requests, req)
	if m.GetStatusFunc == nil {
		return nil, models.NewTwoFactorError(models.AccountErrorMessage, nil)
	}
	return m.GetStatusFunc(ctx, req)
}

func (m *MockTwoFactorService) Obtain(ctx context.Context, req *services.TwoFactorRequest) (*models.ObtainResult, error) {
	m.Requests = append(m.Requests, req)
	if m.ObtainFunc == nil {
		return nil, models.NewTwoFactorError(models.AccountErrorMessage, nil)
	}
	return m.ObtainFunc(ctx, req)
}

func (m *MockTwoFactorService) Verify(ctx context.Context, req *services.TwoFactorRequest, code string) (*models.VerifyResult, error) {
	m.Requests = append(m.Requests, req)
	if m.VerifyFunc == nil {
		return nil, models.NewTwoFactorError(models.InvalidCodeMessage, nil)
	}
	return m.VerifyFunc(ctx, req, code)
}

func (m *MockTwoFactorService) ForgetDevice(ctx context.Context, req *services.TwoFactorRequest) error {
	m.Requests = append(m.Requests, req)
	if m.ForgetFunc == nil {
		return nil
	}
	return m.ForgetFunc(ctx, req)
}
