package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrorKind classifies why the gateway could not produce a category.
type ErrorKind string

const (
	EmptyInput         ErrorKind = "EmptyInput"
	Timeout            ErrorKind = "Timeout"
	AuthFailure        ErrorKind = "AuthFailure"
	ServiceUnavailable ErrorKind = "ServiceUnavailable"
	InvalidCategory    ErrorKind = "InvalidCategory"
)

// ClassificationError is the only error type Gateway.Classify returns.
type ClassificationError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassificationError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind from err; foreign errors count as ServiceUnavailable.
func KindOf(err error) ErrorKind {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ServiceUnavailable
}

// statusError is a non-2xx answer from an OpenAI-compatible endpoint.
type statusError struct {
	StatusCode int
	Message    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

var errMissingAPIKey = errors.New("api key is not configured")

func classifyCallError(callCtx context.Context, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	if errors.Is(err, errMissingAPIKey) {
		return AuthFailure
	}

	status := 0
	var apiErr *anthropic.Error
	var stErr *statusError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.StatusCode
	case errors.As(err, &stErr):
		status = stErr.StatusCode
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return AuthFailure
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return Timeout
	}
	return ServiceUnavailable
}
