package provider

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrRateLimited        = errors.New("rate limited")
	ErrMalformedResponse  = errors.New("malformed provider response")
)

type SubmissionKind int

const (
	KindOther SubmissionKind = iota
	KindInsufficientCredit
	KindRateLimited
)

func (k SubmissionKind) String() string {
	switch k {
	case KindInsufficientCredit:
		return "insufficient_credit"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

// SubmissionError is returned when the provider rejects job creation.
type SubmissionError struct {
	Kind       SubmissionKind
	StatusCode int
	Body       string
	Detail     string
	RetryAfter time.Duration
}

func NewSubmissionError(statusCode int, body, detail string, retryAfter time.Duration) *SubmissionError {
	e := &SubmissionError{
		Kind:       KindOther,
		StatusCode: statusCode,
		Body:       body,
		Detail:     detail,
	}
	switch statusCode {
	case http.StatusPaymentRequired:
		e.Kind = KindInsufficientCredit
	case http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = retryAfter
	}
	return e
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("submission rejected with status %d", e.StatusCode)
	switch e.Kind {
	case KindInsufficientCredit:
		msg = "submission rejected: insufficient credit"
	case KindRateLimited:
		msg = fmt.Sprintf("submission rejected: rate limited, retry after %s", e.RetryAfter)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *SubmissionError) Is(target error) bool {
	switch target {
	case ErrInsufficientCredit:
		return e.Kind == KindInsufficientCredit
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	}
	return false
}

// MalformedResponseError means the provider answered with a shape we could
// not interpret: a non-JSON body, a missing id or an unusable output.
type MalformedResponseError struct {
	Op     string
	Reason string
	Body   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %s", e.Op, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error {
	return ErrMalformedResponse
}

// StatusCheckError wraps a failed status query for one job.
type StatusCheckError struct {
	JobID      string
	StatusCode int
	Err        error
}

func (e *StatusCheckError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("status check for job %s failed with status %d", e.JobID, e.StatusCode)
	}
	return fmt.Sprintf("status check for job %s failed: %v", e.JobID, e.Err)
}

func (e *StatusCheckError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the query may succeed if repeated: transport
// failures and 5xx answers qualify, 4xx answers do not.
func (e *StatusCheckError) Temporary() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
