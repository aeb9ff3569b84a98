// Package phone turns user-entered phone numbers into the canonical
// +<country code><subscriber> form used for storage, matching and dispatch.
package phone

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var ErrInvalid = errors.New("invalid phone number")

type Reason string

const (
	ReasonEmpty             Reason = "empty"
	ReasonInvalidCharacters Reason = "invalid characters"
	ReasonTooShort          Reason = "too short"
	ReasonTooLong           Reason = "too long"
)

type ValidationError struct {
	Input  string
	Reason Reason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid phone number %q: %s", e.Input, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

const (
	minDigits = 10
	maxDigits = 15
)

var canonical = regexp.MustCompile(`^\+\d{10,15}$`)

type Normalizer struct {
	countryCode string
}

// NewNormalizer returns a normalizer that prefixes numbers written without an
// international prefix with countryCode. A leading "+" on countryCode is ignored.
func NewNormalizer(countryCode string) *Normalizer {
	return &Normalizer{countryCode: strings.TrimPrefix(strings.TrimSpace(countryCode), "+")}
}

func (n *Normalizer) CountryCode() string {
	return n.countryCode
}

func (n *Normalizer) Normalize(raw string) (string, error) {
	s := strings.TrimSpace(width.Narrow.String(raw))
	if s == "" {
		return "", &ValidationError{Input: raw, Reason: ReasonEmpty}
	}

	for i, r := range s {
		if isDigit(r) || isSeparator(r) || (r == '+' && i == 0) {
			continue
		}
		return "", &ValidationError{Input: raw, Reason: ReasonInvalidCharacters}
	}

	digits := onlyDigits(s)
	switch {
	case strings.HasPrefix(s, "+"):
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	default:
		digits = n.countryCode + strings.TrimPrefix(digits, "0")
	}

	if len(digits) < minDigits {
		return "", &ValidationError{Input: raw, Reason: ReasonTooShort}
	}
	if len(digits) > maxDigits {
		return "", &ValidationError{Input: raw, Reason: ReasonTooLong}
	}

	out := "+" + digits
	if !canonical.MatchString(out) {
		return "", &ValidationError{Input: raw, Reason: ReasonInvalidCharacters}
	}
	return out, nil
}

// NormalizeInbound normalizes a provider account id (wa_id). Those always
// carry the country code but come without the leading "+".
func (n *Normalizer) NormalizeInbound(waID string) (string, error) {
	s := strings.TrimSpace(waID)
	if s != "" && !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	return n.Normalize(s)
}

// Candidates lists the representations a stored phone may have for raw: the
// raw value, digits with "+", and digits with the default country code.
// Duplicates are removed, order is preserved.
func (n *Normalizer) Candidates(raw string) []string {
	s := strings.TrimSpace(width.Narrow.String(raw))
	digits := onlyDigits(s)

	probes := []string{s}
	if digits != "" {
		probes = append(probes,
			"+"+digits,
			"+"+n.countryCode+strings.TrimPrefix(digits, "0"),
		)
	}

	out := make([]string, 0, len(probes))
	seen := make(map[string]bool, len(probes))
	for _, p := range probes {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '-', '.', '(', ')', '/':
		return true
	}
	return false
}
