package echoutil_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/opst/assetgraph/pkg/echoutil"
)

func TestSetLevel(t *testing.T) {
	for name, testcase := range map[string]struct {
		when string
		then log.Lvl
	}{
		"debug":       {when: "debug", then: log.DEBUG},
		"info":        {when: "INFO", then: log.INFO},
		"warn":        {when: "warn", then: log.WARN},
		"empty":       {when: "", then: log.WARN},
		"error":       {when: "error", then: log.ERROR},
		"off":         {when: "off", then: log.OFF},
		"unknown one": {when: "verbose", then: log.WARN},
	} {
		t.Run(name, func(t *testing.T) {
			e := echo.New()
			e.Logger.SetOutput(&bytes.Buffer{})
			echoutil.SetLevel(e, testcase.when)
			if actual := e.Logger.Level(); actual != testcase.then {
				t.Errorf("unmatch: (actual, expected) = (%v, %v)", actual, testcase.then)
			}
		})
	}
}

func TestLogHandlerFunc(t *testing.T) {
	e := echo.New()
	buf := &bytes.Buffer{}
	e.Logger.SetOutput(buf)
	e.Logger.SetLevel(log.INFO)
	e.HTTPErrorHandler = echoutil.ErrorHandler(e)
	e.Use(echoutil.LogHandlerFunc)
	e.GET("/ok", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/ng", func(c echo.Context) error {
		return errors.New("broken")
	})

	for name, testcase := range map[string]struct {
		path   string
		status int
	}{
		"success": {path: "/ok", status: http.StatusOK},
		"failure": {path: "/ng", status: http.StatusInternalServerError},
	} {
		t.Run(name, func(t *testing.T) {
			buf.Reset()
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, testcase.path, nil))

			if rec.Code != testcase.status {
				t.Errorf("unmatch: status: (actual, expected) = (%d, %d)", rec.Code, testcase.status)
			}
			logs := buf.String()
			if !strings.Contains(logs, "< request") || !strings.Contains(logs, "GET "+testcase.path) {
				t.Errorf("request is not logged: %s", logs)
			}
			if !strings.Contains(logs, "> response") {
				t.Errorf("response is not logged: %s", logs)
			}
		})
	}
}
