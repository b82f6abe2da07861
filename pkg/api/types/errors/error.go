package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code classifies error responses of the executor.
//
// Schedulers decide whether to retry a trigger by its Code, not by its
// HTTP status alone: 503 is returned both for "draining" and "queue is full",
// and both are worth a retry on another replica.
type Code string

const (
	BadRequest   Code = "bad-request"
	Unauthorized Code = "unauthorized"
	NotFound     Code = "not-found"

	// the dataset config failed its pre-flight check (drift, missing remote, invalid).
	ConfigNotReady Code = "config-not-ready"

	// the replica is not ready, or its queue is full.
	Unavailable Code = "unavailable"

	// the request exceeds its deadline.
	Timeout Code = "timeout"

	Internal Code = "internal"
)

// Retryable tells whether the same request may succeed later without any change.
func (c Code) Retryable() bool {
	switch c {
	case Unavailable, Timeout:
		return true
	default:
		return false
	}
}

type ErrorMessage struct {
	Code   Code   `json:"code"`
	Reason string `json:"reason"`
	Advice string `json:"advice,omitempty"`
	Cause  error  `json:"-"`
}

// MarshalJSON makes echo write ErrorMessage as is, rather than as its Error().
func (em ErrorMessage) MarshalJSON() ([]byte, error) {
	type plain ErrorMessage
	return json.Marshal(plain(em))
}

func (em *ErrorMessage) UnmarshalJSON(bytes []byte) error {
	f := new(struct {
		Code   *Code   `json:"code"`
		Reason *string `json:"reason"`
		Advice *string `json:"advice,omitempty"`
	})
	if err := json.Unmarshal(bytes, f); err != nil {
		return err
	}

	missing := []string{}
	if f.Code == nil {
		missing = append(missing, `"code"`)
	}
	if f.Reason == nil {
		missing = append(missing, `"reason"`)
	}
	if len(missing) != 0 {
		return fmt.Errorf("required field missing: %s", strings.Join(missing, ", "))
	}

	em.Code = *f.Code
	em.Reason = *f.Reason
	if f.Advice != nil {
		em.Advice = *f.Advice
	}
	return nil
}

func (e ErrorMessage) String() string {
	lines := []string{fmt.Sprintf("%s (%s)", e.Reason, e.Code)}
	if e.Advice != "" {
		lines = append(lines, e.Advice)
	}
	if e.Cause != nil {
		lines = append(lines, fmt.Sprint(" caused by:", e.Cause.Error()))
	}
	return strings.Join(lines, "\n")
}

func (e ErrorMessage) Error() string {
	return e.String()
}

func (e ErrorMessage) Unwrap() error {
	return e.Cause
}
