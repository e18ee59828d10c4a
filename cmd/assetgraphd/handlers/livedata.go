package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/livedata"
)

// LiveDataResponse is the body of GET /api/livedata .
type LiveDataResponse struct {
	// cached live data by token. null when not fetched yet.
	LiveData   map[string]*domain.LiveData `json:"liveData"`
	Refreshing bool                        `json:"refreshing"`
}

type RefreshRequest struct {
	Keys []string `json:"keys"`
}

type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

type RunEventsResponse struct {
	Refreshed bool `json:"refreshed"`
}

// keys and thread from query parameters "key" and "thread".
func subscriptionQuery(c echo.Context) ([]domain.AssetKey, livedata.ThreadID, error) {
	tokens := c.QueryParams()["key"]
	if len(tokens) == 0 {
		return nil, "", errors.New(`query parameter "key" is required`)
	}
	keys, err := parseTokens(tokens)
	if err != nil {
		return nil, "", err
	}
	thread := livedata.ThreadID(c.QueryParam("thread"))
	if thread == "" {
		thread = livedata.DefaultThread
	}
	return keys, thread, nil
}

func parseTokens(tokens []string) ([]domain.AssetKey, error) {
	keys := make([]domain.AssetKey, 0, len(tokens))
	for _, t := range tokens {
		k, err := domain.ParseToken(t)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func GetLiveDataHandler(m *livedata.Manager, subs *Subscriptions) echo.HandlerFunc {
	return func(c echo.Context) error {
		keys, thread, err := subscriptionQuery(c)
		if err != nil {
			return BadRequest(`specify asset keys like "?key=s3/a&key=b"`, err)
		}
		if err := subs.Keep(keys, thread); err != nil {
			if errors.Is(err, livedata.ErrClosed) {
				return ServiceUnavailable("server is shutting down.", err)
			}
			return InternalServerError(err)
		}

		resp := LiveDataResponse{LiveData: map[string]*domain.LiveData{}}
		for _, k := range keys {
			data, _ := m.CacheEntry(k)
			resp.LiveData[k.Token()] = data
		}
		resp.Refreshing = m.AreKeysRefreshing(keys...)
		return c.JSON(http.StatusOK, resp)
	}
}

// WatchLiveDataHandler streams snapshots of live data as JSON lines, until the client goes away.
//
// Snapshots are reported at most once per interval.
func WatchLiveDataHandler(m *livedata.Manager, interval time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		keys, thread, err := subscriptionQuery(c)
		if err != nil {
			return BadRequest(`specify asset keys like "?key=s3/a&key=b"`, err)
		}

		// keeps the latest snapshot only
		latest := make(chan map[string]*domain.LiveData, 1)
		stop, err := livedata.Watch(m, keys, thread, interval, func(s map[string]*domain.LiveData) {
			for {
				select {
				case latest <- s:
					return
				default:
				}
				select {
				case <-latest:
				default:
				}
			}
		})
		if err != nil {
			if errors.Is(err, livedata.ErrClosed) {
				return ServiceUnavailable("server is shutting down.", err)
			}
			return InternalServerError(err)
		}
		defer stop()

		resp := c.Response()
		resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
		resp.WriteHeader(http.StatusOK)
		resp.Flush()

		ctx := c.Request().Context()
		enc := json.NewEncoder(resp)
		for {
			select {
			case <-ctx.Done():
				return nil
			case s := <-latest:
				if err := enc.Encode(s); err != nil {
					return nil
				}
				resp.Flush()
			}
		}
	}
}

func RefreshHandler(m *livedata.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return BadRequest("request body cannot be read", err)
		}
		req := RefreshRequest{}
		if len(body) != 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return BadRequest(`request body should be {"keys": [...]}`, err)
			}
		}
		keys, err := parseTokens(req.Keys)
		if err != nil {
			return BadRequest("keys should be asset key tokens like s3/a", err)
		}
		m.RefreshKeys(keys...)
		return c.NoContent(http.StatusAccepted)
	}
}

func StatusHandler(m *livedata.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, m.OldestDataTimestamp())
	}
}

func VisibilityHandler(m *livedata.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := new(struct {
			Visible *bool `json:"visible"`
		})
		if err := json.NewDecoder(c.Request().Body).Decode(req); err != nil {
			return BadRequest(`request body should be {"visible": true|false}`, err)
		}
		if req.Visible == nil {
			return BadRequest(`request body should be {"visible": true|false}`, errors.New(`"visible" is missing`))
		}
		m.SetDocumentVisible(*req.Visible)
		return c.JSON(http.StatusOK, VisibilityRequest{Visible: *req.Visible})
	}
}

func LaunchedHandler(m *livedata.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		m.NotifyLaunched()
		return c.NoContent(http.StatusAccepted)
	}
}

func RunEventsHandler(m *livedata.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		events := []domain.RunEvent{}
		if err := json.NewDecoder(c.Request().Body).Decode(&events); err != nil {
			return BadRequest("request body should be an array of run events", err)
		}
		for i, ev := range events {
			if ev.RunID == "" {
				return BadRequest("each run event should have runId", fmt.Errorf("events[%d]: runId is empty", i))
			}
		}
		return c.JSON(http.StatusOK, RunEventsResponse{Refreshed: m.HandleRunEvents(events)})
	}
}
