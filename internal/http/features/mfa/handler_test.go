package mfa

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/corepay/stepup/internal/http/middleware"
	"github.com/corepay/stepup/pkg/audit"
	"github.com/corepay/stepup/pkg/auth"
	"github.com/corepay/stepup/pkg/ratelimit"
	"github.com/corepay/stepup/pkg/replay"
	"github.com/corepay/stepup/pkg/repository"
)

type fixture struct {
	handler  *Handler
	store    *repository.MemoryStore
	userID   uuid.UUID
	tenantID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	limiter := ratelimit.NewMemoryLimiter(map[string]ratelimit.Rule{
		ratelimit.EndpointMFAVerify: {MaxRequests: 5, Window: 15 * time.Minute},
	})
	guard := replay.NewMemoryGuard()
	sealer, err := auth.NewSecretSealer(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("NewSecretSealer: %v", err)
	}
	recorder := audit.NewRecorder(logger, store)
	verifier := auth.NewVerifier(logger, store, store, limiter, guard, sealer, recorder)
	enrollment := auth.NewEnrollmentService(
		logger,
		auth.EnrollmentConfig{Issuer: "CorePay"},
		store, store, sealer, verifier, recorder,
	)
	policy := auth.NewPolicyResolver(logger, store)

	return &fixture{
		handler:  NewHandler(logger, enrollment, verifier, policy, store),
		store:    store,
		userID:   uuid.New(),
		tenantID: uuid.New(),
	}
}

func (f *fixture) request(method, path string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)

	ctx := context.WithValue(req.Context(), middleware.UserIDKey, f.userID)
	ctx = context.WithValue(ctx, middleware.TenantIDKey, f.tenantID)
	ctx = context.WithValue(ctx, middleware.ClaimsKey, &middleware.AccessTokenClaims{Role: "admin"})
	return req.WithContext(ctx)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// enroll walks the full enroll+confirm flow over HTTP and returns the TOTP
// secret and issued recovery codes.
func (f *fixture) enroll(t *testing.T) (string, []string) {
	t.Helper()

	rec := httptest.NewRecorder()
	f.handler.Enroll(rec, f.request(http.MethodPost, "/v1/me/mfa/enroll", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Enroll status = %d, body = %s", rec.Code, rec.Body)
	}
	var enrollResp EnrollResponse
	decode(t, rec, &enrollResp)

	code, err := totp.GenerateCode(enrollResp.Secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	rec = httptest.NewRecorder()
	f.handler.Confirm(rec, f.request(http.MethodPost, "/v1/me/mfa/enroll/confirm", ConfirmRequest{Code: code}))
	if rec.Code != http.StatusOK {
		t.Fatalf("Confirm status = %d, body = %s", rec.Code, rec.Body)
	}
	var confirmResp ConfirmResponse
	decode(t, rec, &confirmResp)
	return enrollResp.Secret, confirmResp.RecoveryCodes
}

func TestStatusUnenrolled(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Status(rec, f.request(http.MethodGet, "/v1/me/mfa/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp StatusResponse
	decode(t, rec, &resp)
	if resp.Enabled {
		t.Error("unenrolled user must report enabled=false")
	}
	if resp.CodeSecondsRemaining < 1 || resp.CodeSecondsRemaining > 30 {
		t.Errorf("CodeSecondsRemaining = %d, want 1..30", resp.CodeSecondsRemaining)
	}
}

func TestEnrollConfirmFlow(t *testing.T) {
	f := newFixture(t)

	_, codes := f.enroll(t)
	if len(codes) != 10 {
		t.Fatalf("got %d recovery codes, want 10", len(codes))
	}

	rec := httptest.NewRecorder()
	f.handler.Status(rec, f.request(http.MethodGet, "/v1/me/mfa/status", nil))
	var resp StatusResponse
	decode(t, rec, &resp)
	if !resp.Enabled {
		t.Error("confirmed user must report enabled=true")
	}
	if resp.RecoveryCodesRemaining != 10 {
		t.Errorf("RecoveryCodesRemaining = %d, want 10", resp.RecoveryCodesRemaining)
	}

	// Enrolling again while enabled conflicts.
	rec = httptest.NewRecorder()
	f.handler.Enroll(rec, f.request(http.MethodPost, "/v1/me/mfa/enroll", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("re-enroll status = %d, want 409", rec.Code)
	}
}

func TestConfirmRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Confirm(rec, f.request(http.MethodPost, "/v1/me/mfa/enroll/confirm", ConfirmRequest{Code: "12"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short code status = %d, want 400", rec.Code)
	}

	// No pending enrollment to confirm against.
	rec = httptest.NewRecorder()
	f.handler.Confirm(rec, f.request(http.MethodPost, "/v1/me/mfa/enroll/confirm", ConfirmRequest{Code: "123456"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no pending status = %d, want 400", rec.Code)
	}
}

func TestVerifyHappyPathAndReplay(t *testing.T) {
	f := newFixture(t)
	secret, _ := f.enroll(t)

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	rec := httptest.NewRecorder()
	f.handler.Verify(rec, f.request(http.MethodPost, "/v1/me/mfa/verify", VerifyRequest{Code: code, Type: "totp"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("Verify status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp VerifyResponse
	decode(t, rec, &resp)
	if !resp.OK {
		t.Error("valid code must report ok")
	}

	// The same code inside its window is a replay.
	rec = httptest.NewRecorder()
	f.handler.Verify(rec, f.request(http.MethodPost, "/v1/me/mfa/verify", VerifyRequest{Code: code, Type: "totp"}))
	if rec.Code != http.StatusConflict {
		t.Errorf("replay status = %d, want 409", rec.Code)
	}
}

func TestVerifyErrorMapping(t *testing.T) {
	f := newFixture(t)

	// Not enrolled yet.
	rec := httptest.NewRecorder()
	f.handler.Verify(rec, f.request(http.MethodPost, "/v1/me/mfa/verify", VerifyRequest{Code: "123456", Type: "totp"}))
	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("unenrolled status = %d, want 412", rec.Code)
	}

	f.enroll(t)

	// Unknown code type.
	rec = httptest.NewRecorder()
	f.handler.Verify(rec, f.request(http.MethodPost, "/v1/me/mfa/verify", VerifyRequest{Code: "123456", Type: "sms"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", rec.Code)
	}

	// Wrong code.
	rec = httptest.NewRecorder()
	f.handler.Verify(rec, f.request(http.MethodPost, "/v1/me/mfa/verify", VerifyRequest{Code: "000000", Type: "totp"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong code status = %d, want 400", rec.Code)
	}
}

func TestVerifyRateLimited(t *testing.T) {
	f := newFixture(t)
	secret, _ := f.enroll(t)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		f.handler.Verify(rec, f.request(http.MethodPost, "/v1/me/mfa/verify", VerifyRequest{Code: "000000", Type: "totp"}))
	}

	// The budget is spent; even a valid code is rejected.
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	rec := httptest.NewRecorder()
	f.handler.Verify(rec, f.request(http.MethodPost, "/v1/me/mfa/verify", VerifyRequest{Code: code, Type: "totp"}))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}
	var resp map[string]interface{}
	decode(t, rec, &resp)
	if _, ok := resp["reset_at"]; !ok {
		t.Error("429 body must carry reset_at")
	}
}

func TestVerifyRecoveryCode(t *testing.T) {
	f := newFixture(t)
	_, codes := f.enroll(t)

	rec := httptest.NewRecorder()
	f.handler.Verify(rec, f.request(http.MethodPost, "/v1/me/mfa/verify", VerifyRequest{Code: codes[0], Type: "recovery"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	// Single use.
	rec = httptest.NewRecorder()
	f.handler.Verify(rec, f.request(http.MethodPost, "/v1/me/mfa/verify", VerifyRequest{Code: codes[0], Type: "recovery"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reused code status = %d, want 400", rec.Code)
	}
}

func TestDisableFlow(t *testing.T) {
	f := newFixture(t)
	secret, _ := f.enroll(t)

	// Wrong code leaves the factor on.
	rec := httptest.NewRecorder()
	f.handler.Disable(rec, f.request(http.MethodPost, "/v1/me/mfa/disable", DisableRequest{Code: "000000", Type: "totp"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong code status = %d, want 400", rec.Code)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	rec = httptest.NewRecorder()
	f.handler.Disable(rec, f.request(http.MethodPost, "/v1/me/mfa/disable", DisableRequest{Code: code, Type: "totp"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("Disable status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	f.handler.Status(rec, f.request(http.MethodGet, "/v1/me/mfa/status", nil))
	var resp StatusResponse
	decode(t, rec, &resp)
	if resp.Enabled {
		t.Error("disabled factor must report enabled=false")
	}
}

func TestRegenerateRequiresFreshStepUp(t *testing.T) {
	f := newFixture(t)
	secret, oldCodes := f.enroll(t)

	// No recent verification: the factor-management gate blocks it.
	rec := httptest.NewRecorder()
	f.handler.Regenerate(rec, f.request(http.MethodPost, "/v1/me/mfa/recovery-codes/regenerate", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stale status = %d, want 403", rec.Code)
	}

	// A successful verification establishes freshness.
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	rec = httptest.NewRecorder()
	f.handler.Verify(rec, f.request(http.MethodPost, "/v1/me/mfa/verify", VerifyRequest{Code: code, Type: "totp"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("Verify status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	f.handler.Regenerate(rec, f.request(http.MethodPost, "/v1/me/mfa/recovery-codes/regenerate", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp RegenerateResponse
	decode(t, rec, &resp)
	if len(resp.RecoveryCodes) != 10 {
		t.Fatalf("got %d recovery codes, want 10", len(resp.RecoveryCodes))
	}

	// The old set is dead.
	rec = httptest.NewRecorder()
	f.handler.Verify(rec, f.request(http.MethodPost, "/v1/me/mfa/verify", VerifyRequest{Code: oldCodes[0], Type: "recovery"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("old recovery code status = %d, want 400", rec.Code)
	}
}

func TestHandlersRequireAuthContext(t *testing.T) {
	f := newFixture(t)

	// A request with no identity in context (middleware bypassed).
	req := httptest.NewRequest(http.MethodGet, "/v1/me/mfa/status", nil)
	rec := httptest.NewRecorder()
	f.handler.Status(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
