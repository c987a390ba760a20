package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type ErrorKind string

const (
	KindRateLimited       ErrorKind = "rate_limited"
	KindTimeout           ErrorKind = "timeout"
	KindServerError       ErrorKind = "server_error"
	KindAuth              ErrorKind = "auth_error"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindInvalidRequest    ErrorKind = "invalid_request"
)

// GenerationError is the only error shape Complete returns for a failed call
// to the generation service.
type GenerationError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

// Sentinels for errors.Is; they match any GenerationError of the same kind.
var (
	ErrRateLimited       = &GenerationError{Kind: KindRateLimited}
	ErrTimeout           = &GenerationError{Kind: KindTimeout}
	ErrServerError       = &GenerationError{Kind: KindServerError}
	ErrAuth              = &GenerationError{Kind: KindAuth}
	ErrMalformedResponse = &GenerationError{Kind: KindMalformedResponse}
	ErrInvalidRequest    = &GenerationError{Kind: KindInvalidRequest}
)

func (e *GenerationError) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return "generation failed: " + msg
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) Is(target error) bool {
	t, ok := target.(*GenerationError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether another attempt may succeed.
func (e *GenerationError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindServerError
}

// IsRetryable returns true only for rate limiting and server errors.
func IsRetryable(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Retryable()
}

func newError(kind ErrorKind, err error) *GenerationError {
	return &GenerationError{Kind: kind, Err: err}
}

// classifyStatus maps a non-200 response onto the error taxonomy.
func classifyStatus(statusCode int, body []byte) *GenerationError {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	var err error
	if bodyStr != "" {
		err = errors.New(bodyStr)
	}

	kind := KindInvalidRequest
	switch {
	case statusCode == http.StatusTooManyRequests:
		kind = KindRateLimited
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		kind = KindAuth
	case statusCode == http.StatusRequestTimeout:
		kind = KindTimeout
	case statusCode >= 500:
		kind = KindServerError
	}

	return &GenerationError{Kind: kind, StatusCode: statusCode, Err: err}
}

// classifyTransport maps an error that prevented any response. Caller
// cancellation is passed through untouched.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return newError(KindTimeout, err)
	}
	// Refused or reset connections are treated like an unavailable server.
	return newError(KindServerError, err)
}
