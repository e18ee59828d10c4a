package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrorMessage is the body of error responses.
type ErrorMessage struct {
	Reason string `json:"reason"`
	Advice string `json:"advice,omitempty"`
	Cause  error  `json:"-"`
}

type ErrorResponse struct {
	Message ErrorMessage `json:"message"`
}

func (e ErrorMessage) Error() string {
	lines := []string{e.Reason}
	if e.Advice != "" {
		lines = append(lines, e.Advice)
	}
	if e.Cause != nil {
		lines = append(lines, " caused by: "+e.Cause.Error())
	}
	return strings.Join(lines, "\n")
}

func (e ErrorMessage) Unwrap() error {
	return e.Cause
}

func newError(code int, reason string, advice string, err error) *echo.HTTPError {
	msg := ErrorMessage{Reason: reason, Advice: advice, Cause: err}
	return echo.NewHTTPError(code, ErrorResponse{Message: msg}).SetInternal(msg)
}

func BadRequest(advice string, err error) *echo.HTTPError {
	return newError(http.StatusBadRequest, "bad request", advice, err)
}

func ServiceUnavailable(advice string, err error) *echo.HTTPError {
	return newError(http.StatusServiceUnavailable, "service unavailable temporarily", advice, err)
}

func InternalServerError(err error) *echo.HTTPError {
	return newError(http.StatusInternalServerError, "unexpected error", "", err)
}
