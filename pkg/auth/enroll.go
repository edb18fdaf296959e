package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/corepay/stepup/pkg/audit"
	"github.com/corepay/stepup/pkg/domain"
)

const (
	// Recovery code parameters
	recoveryCodeLength = 12
	recoveryCodeCount  = 10
	recoveryCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // No ambiguous chars
)

// EnrollmentConfig contains configuration for the enrollment service.
type EnrollmentConfig struct {
	Issuer string // shown in authenticator apps, e.g. "CorePay"
}

// EnrollmentStart contains material issued by BeginEnrollment. The secret
// and QR code are shown once; the factor stays disabled until confirmed.
type EnrollmentStart struct {
	Secret          string // Base32 TOTP secret for manual entry
	ProvisioningURI string // otpauth:// URI
	QRCodeDataURI   string // data:image/png;base64,...
}

// EnrollmentService manages the factor lifecycle: issuing secrets,
// confirming the first valid code, recovery code regeneration and disable.
type EnrollmentService struct {
	logger   *slog.Logger
	config   EnrollmentConfig
	factors  FactorStore
	codes    RecoveryCodeStore
	sealer   *SecretSealer
	verifier *Verifier
	recorder *audit.Recorder
	now      func() time.Time
}

// NewEnrollmentService creates an enrollment service.
func NewEnrollmentService(
	logger *slog.Logger,
	config EnrollmentConfig,
	factors FactorStore,
	codes RecoveryCodeStore,
	sealer *SecretSealer,
	verifier *Verifier,
	recorder *audit.Recorder,
) *EnrollmentService {
	return &EnrollmentService{
		logger:   logger,
		config:   config,
		factors:  factors,
		codes:    codes,
		sealer:   sealer,
		verifier: verifier,
		recorder: recorder,
		now:      time.Now,
	}
}

// BeginEnrollment issues a fresh random secret for the user and stores it in
// PendingEnrollment state. The factor is not enabled; re-running while
// pending overwrites the previous pending secret.
func (s *EnrollmentService) BeginEnrollment(ctx context.Context, userID uuid.UUID, accountName string) (*EnrollmentStart, error) {
	existing, err := s.factors.Get(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrFactorNotFound) {
		return nil, err
	}
	if existing.Enabled() {
		return nil, domain.ErrFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.config.Issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	var qrBuf bytes.Buffer
	img, err := key.Image(200, 200)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code image: %w", err)
	}
	if err := png.Encode(&qrBuf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	qrDataURI := fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(qrBuf.Bytes()))

	sealed, err := s.sealer.Seal(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to seal TOTP secret: %w", err)
	}

	now := s.now()
	factor := &domain.AuthFactor{
		UserID:       userID,
		Status:       domain.FactorPendingEnrollment,
		SecretSealed: sealed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing != nil {
		factor.CreatedAt = existing.CreatedAt
	}
	if err := s.factors.SavePending(ctx, factor); err != nil {
		return nil, fmt.Errorf("failed to save pending factor: %w", err)
	}

	s.recorder.Record(ctx, domain.AuditEvent{
		Action:   domain.AuditEnrollmentBegan,
		ActorID:  userID,
		TargetID: userID,
	})

	return &EnrollmentStart{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCodeDataURI:   qrDataURI,
	}, nil
}

// ConfirmEnrollment validates exactly one TOTP code against the pending
// secret. On success the factor becomes Enabled and a fresh set of
// single-use recovery codes is installed and returned; the plaintext codes
// are never retrievable again. Failure leaves prior state untouched.
func (s *EnrollmentService) ConfirmEnrollment(ctx context.Context, userID uuid.UUID, code domain.Code) ([]string, error) {
	if code.Kind() != domain.CodeKindTOTP {
		// Recovery codes cannot confirm an enrollment.
		return nil, domain.ErrInvalidCode
	}

	factor, err := s.factors.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrFactorNotFound) {
			return nil, domain.ErrNoPendingEnrollment
		}
		return nil, err
	}
	switch factor.Status {
	case domain.FactorPendingEnrollment:
	case domain.FactorEnabled:
		return nil, domain.ErrFactorAlreadyEnabled
	default:
		return nil, domain.ErrNoPendingEnrollment
	}

	secret, err := s.sealer.Open(factor.SecretSealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed secret: %w", err)
	}
	if _, ok := matchTOTP(secret, code.Value(), s.now()); !ok {
		return nil, domain.ErrInvalidCode
	}

	plain, hashed, err := s.generateRecoveryCodes(userID)
	if err != nil {
		return nil, err
	}
	if err := s.factors.Enable(ctx, userID, hashed); err != nil {
		return nil, fmt.Errorf("failed to enable factor: %w", err)
	}

	s.recorder.Record(ctx, domain.AuditEvent{
		Action:   domain.AuditEnrollmentConfirmed,
		ActorID:  userID,
		TargetID: userID,
		After:    []byte(fmt.Sprintf(`{"recovery_codes_issued":%d}`, len(plain))),
	})

	return plain, nil
}

// RegenerateRecoveryCodes atomically replaces the user's whole recovery
// code set, instantly invalidating every previously issued code. Requires
// an already-enabled factor.
func (s *EnrollmentService) RegenerateRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	factor, err := s.factors.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrFactorNotFound) {
			return nil, domain.ErrEnrollmentRequired
		}
		return nil, err
	}
	if !factor.Enabled() {
		return nil, domain.ErrEnrollmentRequired
	}

	plain, hashed, err := s.generateRecoveryCodes(userID)
	if err != nil {
		return nil, err
	}
	if err := s.codes.Replace(ctx, userID, hashed); err != nil {
		return nil, fmt.Errorf("failed to replace recovery codes: %w", err)
	}

	s.recorder.Record(ctx, domain.AuditEvent{
		Action:   domain.AuditRecoveryRegenerated,
		ActorID:  userID,
		TargetID: userID,
		After:    []byte(fmt.Sprintf(`{"recovery_codes_issued":%d}`, len(plain))),
	})

	return plain, nil
}

// Disable requires one valid TOTP or recovery code, then clears the secret,
// disables the factor and invalidates all recovery codes.
func (s *EnrollmentService) Disable(ctx context.Context, userID uuid.UUID, code domain.Code) error {
	res, err := s.verifier.Verify(ctx, userID, code)
	if err != nil {
		return err
	}
	if !res.OK {
		return domain.ErrInvalidCode
	}

	if err := s.factors.Disable(ctx, userID); err != nil {
		return fmt.Errorf("failed to disable factor: %w", err)
	}

	s.recorder.Record(ctx, domain.AuditEvent{
		Action:   domain.AuditFactorDisabled,
		ActorID:  userID,
		TargetID: userID,
	})
	return nil
}

// Status reports whether the factor is enabled and how many recovery codes
// remain unused.
func (s *EnrollmentService) Status(ctx context.Context, userID uuid.UUID) (enabled bool, recoveryCodesRemaining int, err error) {
	factor, err := s.factors.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrFactorNotFound) {
			return false, 0, nil
		}
		return false, 0, err
	}
	if !factor.Enabled() {
		return false, 0, nil
	}

	count, err := s.codes.CountUnused(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return true, count, nil
}

func (s *EnrollmentService) generateRecoveryCodes(userID uuid.UUID) ([]string, []*domain.RecoveryCode, error) {
	now := s.now()
	plain := make([]string, recoveryCodeCount)
	hashed := make([]*domain.RecoveryCode, recoveryCodeCount)
	for i := 0; i < recoveryCodeCount; i++ {
		code, err := generateRecoveryCode()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		plain[i] = code

		normalized, err := domain.ParseCode(domain.CodeKindRecovery, code)
		if err != nil {
			return nil, nil, err
		}
		hash, err := HashRecoveryCode(normalized.Value())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash recovery code: %w", err)
		}
		hashed[i] = &domain.RecoveryCode{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  hash,
			CreatedAt: now,
		}
	}
	return plain, hashed, nil
}

// generateRecoveryCode generates a random recovery code in format XXXX-XXXX-XXXX.
func generateRecoveryCode() (string, error) {
	chars := make([]byte, recoveryCodeLength)
	if _, err := rand.Read(chars); err != nil {
		return "", err
	}

	for i := range chars {
		chars[i] = recoveryCodeChars[int(chars[i])%len(recoveryCodeChars)]
	}

	return fmt.Sprintf("%s-%s-%s",
		string(chars[0:4]),
		string(chars[4:8]),
		string(chars[8:12]),
	), nil
}
