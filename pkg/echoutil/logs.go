package echoutil

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// LogHandlerFunc is a middleware logging each request and its response at info level.
func LogHandlerFunc(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		meth := c.Request().Method
		path := c.Request().URL
		begin := time.Now()
		c.Logger().Infof("< request @[%s] %s %s", begin, meth, path)

		err := next(c)

		end := time.Now()
		c.Logger().Infof(
			"> response @[%s] status = %d (for request @[%s] %s %s) in %v / error = %+v",
			end, c.Response().Status, begin, meth, path, end.Sub(begin), err,
		)
		return err
	}
}

// SetLevel sets log level of e by name: debug|info|warn|error|off .
//
// Empty or unknown names fall back to warn.
func SetLevel(e *echo.Echo, loglevel string) {
	switch strings.ToLower(loglevel) {
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
	case "info":
		e.Logger.SetLevel(log.INFO)
	case "warn", "":
		e.Logger.SetLevel(log.WARN)
	case "error":
		e.Logger.SetLevel(log.ERROR)
	case "off":
		e.Logger.SetLevel(log.OFF)
	default:
		e.Logger.SetLevel(log.WARN)
		e.Logger.Warnf("unknown loglevel: %s . fall-backed to warn", loglevel)
	}
}

// ErrorHandler responds err as echo does, and logs it.
//
// Errors other than *echo.HTTPError are logged at error level, and others at debug level.
func ErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		if herr, ok := err.(*echo.HTTPError); ok && herr.Code < http.StatusInternalServerError {
			e.Logger.Debug(err)
			return
		}
		e.Logger.Error(err)
	}
}
