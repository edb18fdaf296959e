package domain

import "strings"

// CodeKind discriminates the two accepted credential shapes. Callers state
// the kind explicitly; it is never inferred from the string shape.
type CodeKind string

const (
	CodeKindTOTP     CodeKind = "totp"
	CodeKindRecovery CodeKind = "recovery"
)

const totpCodeLength = 6

// Code is a validated, normalized one-time credential. Construct values
// through ParseCode so normalization happens exactly once, at the boundary.
type Code struct {
	kind  CodeKind
	value string
}

// Kind returns the credential kind.
func (c Code) Kind() CodeKind { return c.kind }

// Value returns the normalized code string.
func (c Code) Value() string { return c.value }

// ParseCode validates and normalizes a submitted code of the given kind.
// TOTP input keeps digits only and must come out exactly six long; recovery
// input is upper-cased with separators and spaces stripped.
func ParseCode(kind CodeKind, raw string) (Code, error) {
	switch kind {
	case CodeKindTOTP:
		var b strings.Builder
		for _, r := range raw {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		v := b.String()
		if len(v) != totpCodeLength {
			return Code{}, ErrInvalidCode
		}
		return Code{kind: CodeKindTOTP, value: v}, nil

	case CodeKindRecovery:
		v := strings.ToUpper(strings.TrimSpace(raw))
		v = strings.ReplaceAll(v, "-", "")
		v = strings.ReplaceAll(v, " ", "")
		if v == "" {
			return Code{}, ErrInvalidCode
		}
		for _, r := range v {
			if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
				return Code{}, ErrInvalidCode
			}
		}
		return Code{kind: CodeKindRecovery, value: v}, nil
	}
	return Code{}, ErrInvalidCode
}
