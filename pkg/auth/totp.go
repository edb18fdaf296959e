package auth

import (
	"crypto/subtle"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// TOTP parameters
	totpDigits = 6
	totpPeriod = 30
	totpSkew   = 1 // one step either side: roughly a 90-second acceptance window
)

func totpValidateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// timeStep returns the TOTP counter for t.
func timeStep(t time.Time) int64 {
	return t.Unix() / totpPeriod
}

// stepWindowTTL is how long an accepted step stays replayable: until the
// last tolerated step containing it has elapsed.
func stepWindowTTL(matchedStep int64, now time.Time) time.Duration {
	expiry := time.Unix((matchedStep+totpSkew+1)*totpPeriod, 0)
	ttl := expiry.Sub(now)
	if ttl < totpPeriod*time.Second {
		ttl = totpPeriod * time.Second
	}
	return ttl
}

// matchTOTP checks the submitted code against the current step and the two
// adjacent ones, returning the step that produced the match. All candidates
// are compared in constant time before the verdict is taken, so the matched
// offset is not observable through timing.
func matchTOTP(secret, code string, now time.Time) (int64, bool) {
	current := timeStep(now)
	matched := int64(0)
	found := false

	for offset := int64(-totpSkew); offset <= totpSkew; offset++ {
		step := current + offset
		at := time.Unix(step*totpPeriod, 0)
		candidate, err := totp.GenerateCodeCustom(secret, at, totpValidateOpts())
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 && !found {
			matched = step
			found = true
		}
	}
	return matched, found
}

// CountdownSeconds reports how long the current TOTP code remains valid.
// It is a pure function of wall-clock time, never derived from server
// responses, so a UI countdown cannot drift.
func CountdownSeconds(now time.Time) int {
	return totpPeriod - int(now.Unix()%totpPeriod)
}
