package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/manash/cardgen/internal/poller"
	"github.com/manash/cardgen/internal/precheck"
	"github.com/manash/cardgen/internal/provider"
	"github.com/manash/cardgen/internal/storage"
	"github.com/manash/cardgen/pkg/models"
)

type Category string

const (
	CategoryStorage            Category = "storage"
	CategoryUnreachable        Category = "unreachable"
	CategoryNetwork            Category = "network"
	CategoryInsufficientCredit Category = "insufficient_credit"
	CategoryRateLimited        Category = "rate_limited"
	CategorySubmission         Category = "submission"
	CategoryTimeout            Category = "timeout"
	CategoryJobFailed          Category = "job_failed"
	CategoryMalformedResponse  Category = "malformed_response"
	CategoryCanceled           Category = "canceled"
	CategoryInvalidInput       Category = "invalid_input"
	CategoryInternal           Category = "internal"
)

func (c Category) String() string {
	return string(c)
}

// Error is the single user-facing outcome of a failed generation. Message is
// safe to show to end users; Err keeps the underlying cause.
type Error struct {
	Category   Category
	Message    string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var invalidInput = []error{
	models.ErrEmptyPrompt,
	models.ErrNoUserImage,
	models.ErrNoPhotoData,
	models.ErrInvalidJobID,
	models.ErrEmptyModelID,
	models.ErrInvalidImageRef,
	models.ErrStyleNotFound,
	models.ErrInvalidStyle,
	storage.ErrEmpty,
	storage.ErrTooLarge,
	storage.ErrUnsupportedType,
}

// Classify maps any error from the pipeline onto one category. It returns
// nil for a nil error and passes an existing *Error through.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Category: CategoryCanceled, Message: "The request was canceled.", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Category: CategoryTimeout, Message: "The request timed out. Please try again later.", Err: err}
	}

	for _, target := range invalidInput {
		if errors.Is(err, target) {
			return &Error{Category: CategoryInvalidInput, Message: "Invalid input: " + target.Error() + ".", Err: err}
		}
	}

	var (
		storageErr  *storage.StorageError
		unreachable *precheck.UnreachableError
		submitErr   *provider.SubmissionError
		timeoutErr  *poller.PollTimeoutError
		failedErr   *poller.JobFailedError
		statusErr   *provider.StatusCheckError
		netErr      net.Error
	)

	switch {
	case errors.As(err, &storageErr):
		return &Error{Category: CategoryStorage, Message: "Could not upload the image. Please try again.", Err: err}

	case errors.As(err, &unreachable):
		return &Error{
			Category: CategoryUnreachable,
			Message:  "An image URL is not reachable. Make sure it is public and try again.",
			Err:      err,
		}

	case errors.As(err, &submitErr):
		switch submitErr.Kind {
		case provider.KindInsufficientCredit:
			return &Error{
				Category: CategoryInsufficientCredit,
				Message:  "The generation account is out of credit. Top up the provider billing balance and try again.",
				Err:      err,
			}
		case provider.KindRateLimited:
			return &Error{
				Category:   CategoryRateLimited,
				Message:    fmt.Sprintf("Too many generation requests. Try again in %s.", retryText(submitErr.RetryAfter)),
				Err:        err,
				RetryAfter: submitErr.RetryAfter,
			}
		default:
			msg := "The generation service rejected the request."
			if submitErr.Detail != "" {
				msg = "The generation service rejected the request: " + submitErr.Detail
			}
			return &Error{Category: CategorySubmission, Message: msg, Err: err}
		}

	case errors.As(err, &timeoutErr):
		return &Error{Category: CategoryTimeout, Message: "Generation is taking too long. Please try again later.", Err: err}

	case errors.As(err, &failedErr):
		msg := "Generation failed: " + failedErr.Message
		if failedErr.Status == models.StatusCanceled {
			msg = "Generation was canceled."
		}
		return &Error{Category: CategoryJobFailed, Message: msg, Err: err}

	case errors.Is(err, provider.ErrMalformedResponse):
		return &Error{
			Category: CategoryMalformedResponse,
			Message:  "The generation service returned an unexpected response.",
			Err:      err,
		}

	case errors.As(err, &statusErr):
		if statusErr.StatusCode == http.StatusNotFound {
			return &Error{Category: CategoryInvalidInput, Message: "Invalid input: unknown job id.", Err: err}
		}
		return &Error{
			Category: CategoryNetwork,
			Message:  "Could not reach the generation service. Check your connection and try again.",
			Err:      err,
		}

	case errors.As(err, &netErr):
		return &Error{
			Category: CategoryNetwork,
			Message:  "Could not reach the generation service. Check your connection and try again.",
			Err:      err,
		}
	}

	return &Error{Category: CategoryInternal, Message: "Something went wrong while generating the card.", Err: err}
}

func retryText(d time.Duration) string {
	if d <= 0 {
		return "a moment"
	}
	return d.Round(time.Second).String()
}
