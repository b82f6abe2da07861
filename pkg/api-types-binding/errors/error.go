package errors

import (
	"net/http"

	"github.com/labstack/echo/v4"
	apierr "github.com/opst/importexec/pkg/api/types/errors"
)

type ErrorMessageOption func(in *apierr.ErrorMessage) *apierr.ErrorMessage

func WithAdvice(advice string) ErrorMessageOption {
	return func(in *apierr.ErrorMessage) *apierr.ErrorMessage {
		if advice != "" {
			in.Advice = advice
		}
		return in
	}
}

func WithError(err error) ErrorMessageOption {
	return func(in *apierr.ErrorMessage) *apierr.ErrorMessage {
		if err != nil {
			in.Cause = err
		}
		return in
	}
}

// NewErrorMessage builds an echo.HTTPError whose body is apierr.ErrorMessage.
func NewErrorMessage(status int, code apierr.Code, reason string, opts ...ErrorMessageOption) *echo.HTTPError {
	msg := apierr.ErrorMessage{Code: code, Reason: reason}
	for _, opt := range opts {
		msg = *opt(&msg)
	}

	return echo.NewHTTPError(status, msg).SetInternal(msg)
}

func ServiceUnavailable(advice string, err error) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusServiceUnavailable, apierr.Unavailable,
		"service unavailable temporarily",
		WithAdvice(advice),
		WithError(err),
	)
}

func NotFound(opts ...ErrorMessageOption) *echo.HTTPError {
	return NewErrorMessage(http.StatusNotFound, apierr.NotFound, "not found", opts...)
}

func BadRequest(advice string, err error) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusBadRequest, apierr.BadRequest,
		"bad request",
		WithAdvice(advice),
		WithError(err),
	)
}

// ConfigNotReady is for dataset configs failing their pre-flight check.
func ConfigNotReady(message string, options ...ErrorMessageOption) *echo.HTTPError {
	return NewErrorMessage(http.StatusConflict, apierr.ConfigNotReady, message, options...)
}

func InternalServerError(err error) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusInternalServerError, apierr.Internal,
		"unexpected error",
		WithError(err),
	)
}

func Unauthorized(message string, err error) *echo.HTTPError {
	return NewErrorMessage(http.StatusUnauthorized, apierr.Unauthorized, message, WithError(err))
}

func GatewayTimeout(err error) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusGatewayTimeout, apierr.Timeout,
		"request exceeds its deadline",
		WithAdvice("retry later. the import may still be running: see GET /imports"),
		WithError(err),
	)
}
