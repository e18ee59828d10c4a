package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/opst/assetgraph/pkg/layout"
	"github.com/opst/assetgraph/pkg/layout/dot"
	"github.com/opst/assetgraph/pkg/layout/layered"
)

// LayoutRequest is the body of POST /api/layout .
//
// Without options, the server default is used.
type LayoutRequest struct {
	layout.Graph
	Options *layout.Options `json:"options,omitempty"`
}

// Layouter computes layouts. *layout.Cache is a Layouter.
type Layouter interface {
	ComputeLayout(graph layout.Graph, opts ...layout.Option) (*layout.AssetGraphLayout, error)
}

func computeLayout(c echo.Context, l Layouter, defaults layout.Options) (*layout.AssetGraphLayout, error) {
	req := LayoutRequest{}
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return nil, BadRequest(`request body should be {"nodes": [...], "edges": [...]}`, err)
	}
	opts := defaults
	if req.Options != nil {
		opts = *req.Options
	}

	result, err := l.ComputeLayout(req.Graph, layout.WithOptions(opts))
	if err != nil {
		switch {
		case errors.Is(err, layout.ErrUnknownNode),
			errors.Is(err, layout.ErrBundleCollision),
			errors.Is(err, layered.ErrDuplicatedNode),
			errors.Is(err, layered.ErrUnknownNode),
			errors.Is(err, layered.ErrInvalidGroup):
			return nil, BadRequest("the graph cannot be laid out", err)
		}
		return nil, InternalServerError(err)
	}
	return result, nil
}

func LayoutHandler(l Layouter, defaults layout.Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		result, err := computeLayout(c, l, defaults)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, result)
	}
}

func LayoutDotHandler(l Layouter, defaults layout.Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		result, err := computeLayout(c, l, defaults)
		if err != nil {
			return err
		}
		buf := &bytes.Buffer{}
		if err := dot.Write(buf, result); err != nil {
			return InternalServerError(err)
		}
		return c.Blob(http.StatusOK, "text/vnd.graphviz", buf.Bytes())
	}
}
