package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/LeventeLantos/event-messaging/internal/retry"
)

type Kind string

const (
	KindPermanent   Kind = "permanent"
	KindTransient   Kind = "transient"
	KindRateLimited Kind = "rate_limited"
	// KindBlocked marks an account or number the provider has restricted.
	// Nothing succeeds until the restriction is lifted upstream.
	KindBlocked Kind = "blocked"
)

// ExternalServiceError is returned for every failed provider call, including
// transport failures. Code is the provider error code, 0 when none was sent.
type ExternalServiceError struct {
	StatusCode int
	Code       int
	Subcode    int
	Message    string
	Details    string
	Kind       Kind
	Err        error
}

func (e *ExternalServiceError) Error() string {
	msg := fmt.Sprintf("whatsapp %s error", e.Kind)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	} else if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Provider error codes, see the Cloud API error code reference.
var codeKinds = map[int]Kind{
	// credentials
	190: KindPermanent,
	// invalid parameters
	100:    KindPermanent,
	131008: KindPermanent,
	131009: KindPermanent,
	// template problems
	132000: KindPermanent,
	132001: KindPermanent,
	132005: KindPermanent,
	132007: KindPermanent,
	132012: KindPermanent,
	132015: KindPermanent,
	132016: KindPermanent,
	// destination
	131026: KindPermanent,
	131030: KindPermanent,
	133010: KindPermanent,
	// account restricted
	368:    KindBlocked,
	131031: KindBlocked,
	130497: KindBlocked,
	// throttling
	4:      KindRateLimited,
	80007:  KindRateLimited,
	130429: KindRateLimited,
	131048: KindRateLimited,
	131056: KindRateLimited,
	// provider side
	1:      KindTransient,
	2:      KindTransient,
	131000: KindTransient,
}

func kindForCode(code, status int) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	if status == http.StatusTooManyRequests {
		return KindRateLimited
	}
	return KindTransient
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// Classify maps provider failures onto retry classes. Anything that is not an
// ExternalServiceError is a local problem and never retried.
func Classify(err error) retry.Class {
	var ese *ExternalServiceError
	if !errors.As(err, &ese) {
		return retry.Permanent
	}
	switch ese.Kind {
	case KindTransient:
		return retry.Transient
	case KindRateLimited:
		return retry.RateLimited
	}
	return retry.Permanent
}

// IsBlocked reports whether err means the sending account is restricted.
func IsBlocked(err error) bool {
	var ese *ExternalServiceError
	return errors.As(err, &ese) && ese.Kind == KindBlocked
}
