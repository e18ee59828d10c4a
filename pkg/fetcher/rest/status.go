package rest

import (
	"fmt"
	"net/http"
)

type StatusCodeRange int

const (
	StatusUnknown StatusCodeRange = iota
	Status1xx
	Status2xx
	Status3xx
	Status4xx
	Status5xx
)

func (sc StatusCodeRange) String() string {
	switch sc {
	case Status1xx:
		return "informational response"
	case Status2xx:
		return "success"
	case Status3xx:
		return "redirect"
	case Status4xx:
		return "client error"
	case Status5xx:
		return "server error"
	default:
		return fmt.Sprintf("unknown (%d)", sc)
	}
}

func StatusCodeRangeOf(resp *http.Response) StatusCodeRange {
	switch sc := resp.StatusCode; {
	case sc < 100:
		return StatusUnknown
	case sc < 200:
		return Status1xx
	case sc < 300:
		return Status2xx
	case sc < 400:
		return Status3xx
	case sc < 500:
		return Status4xx
	case sc < 600:
		return Status5xx
	default:
		return StatusUnknown
	}
}

// StatusError is returned when the server responds with non-2xx status.
type StatusError struct {
	Code int

	// body of the response, or the error on reading it.
	Message string
}

func (e *StatusError) Error() string {
	scr := StatusCodeRangeOf(&http.Response{StatusCode: e.Code})
	return fmt.Sprintf("%s (status code = %d): %s", scr, e.Code, e.Message)
}
