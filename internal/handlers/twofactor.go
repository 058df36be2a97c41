package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/BradenHooton/stepgate/internal/auth"
	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/BradenHooton/stepgate/internal/services"
	pkghttp "github.com/BradenHooton/stepgate/pkg/http"
)

// TwoFactorServiceInterface defines the two-factor operations the handler drives
type TwoFactorServiceInterface interface {
	GetStatus(ctx context.Context, req *services.TwoFactorRequest) (*models.TwoFactorStatus, error)
	Obtain(ctx context.Context, req *services.TwoFactorRequest) (*models.ObtainResult, error)
	Verify(ctx context.Context, req *services.TwoFactorRequest, code string) (*models.VerifyResult, error)
	ForgetDevice(ctx context.Context, req *services.TwoFactorRequest) error
}

// TwoFactorHandler exposes the two-factor flow over HTTP
type TwoFactorHandler struct {
	service  TwoFactorServiceInterface
	ipConfig *pkghttp.IPConfig
	cookies  auth.CookieConfig
	logger   *slog.Logger
}

// NewTwoFactorHandler creates a new TwoFactorHandler
func NewTwoFactorHandler(service TwoFactorServiceInterface, ipConfig *pkghttp.IPConfig, cookies auth.CookieConfig, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{
		service:  service,
		ipConfig: ipConfig,
		cookies:  cookies,
		logger:   logger,
	}
}

// Status reports which strategy applies to the caller
// @Router /2fa/status [post]
func (h *TwoFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	status, err := h.service.GetStatus(r.Context(), h.newRequest(w, r, req))
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// Obtain issues a second factor challenge
// @Router /2fa/obtain [post]
func (h *TwoFactorHandler) Obtain(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Obtain(r.Context(), h.newRequest(w, r, req))
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Verify checks a submitted code
// @Router /2fa/verify [post]
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Verify(r.Context(), h.newRequest(w, r, req.CredentialsRequest), strings.TrimSpace(req.Code))
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, newVerifyResponse(result))
}

// Login runs the login form flow. Without a code a challenge is issued and
// 202 returned; with a code, or when no second factor applies, the login is
// verified.
// @Router /auth/login [post]
func (h *TwoFactorHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	tfReq := h.newRequest(w, r, req.CredentialsRequest)
	code := strings.TrimSpace(req.Code)

	status, err := h.service.GetStatus(ctx, tfReq)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if code != "" || status.Type == services.StrategyDirect {
		result, err := h.service.Verify(ctx, tfReq, code)
		if err != nil {
			h.writeError(w, err)
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, newVerifyResponse(result))
		return
	}

	result, err := h.service.Obtain(ctx, tfReq)
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, LoginChallengeResponse{
		TwoFactorType:  status.Type,
		TwoFactorName:  status.Name,
		Message:        result.Message,
		ThrottleStatus: result.ThrottleStatus,
	})
}

// ForgetDevice revokes trust for the caller's device and clears the cookie
// @Router /2fa/forget-device [post]
func (h *TwoFactorHandler) ForgetDevice(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ForgetDevice(r.Context(), h.buildRequest(r, req, h.deviceID(r, req))); err != nil {
		h.writeError(w, err)
		return
	}

	auth.ClearDeviceCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

func (h *TwoFactorHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}

	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}

	return true
}

// newRequest builds the per-attempt request. The device id comes from the
// cookie, then the body; a fresh one is minted and set when both are empty.
func (h *TwoFactorHandler) newRequest(w http.ResponseWriter, r *http.Request, req CredentialsRequest) *services.TwoFactorRequest {
	deviceID := h.deviceID(r, req)
	if deviceID == "" {
		deviceID = uuid.New().String()
		auth.SetDeviceCookie(w, deviceID, h.cookies)
	}

	return h.buildRequest(r, req, deviceID)
}

func (h *TwoFactorHandler) deviceID(r *http.Request, req CredentialsRequest) string {
	if id := auth.GetDeviceCookie(r); id != "" {
		return id
	}
	return req.DeviceID
}

func (h *TwoFactorHandler) buildRequest(r *http.Request, req CredentialsRequest, deviceID string) *services.TwoFactorRequest {
	return &services.TwoFactorRequest{
		Username:  strings.TrimSpace(req.Username),
		Password:  req.Password,
		DeviceID:  deviceID,
		IP:        pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	}
}

// writeError maps service errors to responses. Throttled two-factor errors
// become 429 with Retry-After, other two-factor errors 401, anything else 500.
func (h *TwoFactorHandler) writeError(w http.ResponseWriter, err error) {
	tfErr, ok := models.AsTwoFactorError(err)
	if !ok {
		h.logger.Error("two-factor request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	var meta map[string]any
	if status := tfErr.ThrottleStatus; status != nil {
		meta = map[string]any{
			"remaining_attempts": status.RemainingAttempts(),
			"max_attempts":       status.Condition.MaxAttempts,
		}
		if status.RemainingAttempts() == 1 {
			meta["warning"] = models.LastAttemptMessage
		}
	}

	if tfErr.IsThrottled() {
		wait := tfErr.ThrottleStatus.WaitingTime()
		seconds := int64(math.Max(1, math.Ceil(wait.Seconds())))
		meta["retry_after_seconds"] = seconds

		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		pkghttp.WriteErrorWithMeta(w, http.StatusTooManyRequests, "rate_limit_exceeded", tfErr.Reason, meta)
		return
	}

	pkghttp.WriteErrorWithMeta(w, http.StatusUnauthorized, "two_factor_failed", tfErr.Reason, meta)
}
