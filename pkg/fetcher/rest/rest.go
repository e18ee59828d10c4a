// Package rest fetches live data of assets from a GraphQL endpoint over HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/livedata"
)

// DefaultNodesPath selects asset nodes in a response of LiveDataQuery.
const DefaultNodesPath = "$.data.assetNodes[*]"

const LiveDataQuery = `query AssetLiveDataQuery($assetKeys: [AssetKeyInput!]!) {
  assetNodes(assetKeys: $assetKeys, loadMaterializations: true) {
    assetKey { path }
    stepKey
    opNames
    lastMaterialization { runId timestamp }
    lastMaterializationRunStatus
    lastObservation { runId timestamp }
    unstartedRunIds
    inProgressRunIds
    runWhichFailedToMaterialize
    staleStatus
    staleCauses { key { path } reason category dependency { path } }
    freshnessInfo { currentMinutesLate }
    partitionStats { numMaterialized numMaterializing numPartitions numFailed }
    assetChecks { name executionForLatestMaterialization { runId status } }
    error
  }
}`

type Fetcher struct {
	endpoint string
	client   *http.Client
	nodes    jp.Expr
	header   http.Header
	logger   *log.Logger
}

var _ livedata.Fetcher = &Fetcher{}

type Option func(*Fetcher) error

// WithNodesPath sets JSONPath selecting asset nodes in responses.
func WithNodesPath(path string) Option {
	return func(f *Fetcher) error {
		x, err := jp.ParseString(path)
		if err != nil {
			return fmt.Errorf("invalid jsonpath '%s': %w", path, err)
		}
		f.nodes = x
		return nil
	}
}

// WithTimeout sets timeout of each request. 0 means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) error {
		f.client.Timeout = d
		return nil
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) error {
		f.client = c
		return nil
	}
}

func WithHeader(key, value string) Option {
	return func(f *Fetcher) error {
		f.header.Add(key, value)
		return nil
	}
}

func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) error {
		f.logger = l
		return nil
	}
}

func New(endpoint string, options ...Option) (*Fetcher, error) {
	f := &Fetcher{
		endpoint: endpoint,
		client:   &http.Client{},
		header:   http.Header{},
		logger:   log.New(io.Discard, "", 0),
	}
	options = append([]Option{WithNodesPath(DefaultNodesPath)}, options...)
	for _, opt := range options {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type node struct {
	domain.LiveData

	// error only for this asset.
	Error *string `json:"error"`
}

// Fetch queries live data of keys.
//
// Non-2xx responses and malformed responses are errors for the whole batch.
// Nodes with "error" are failures of each key.
func (f *Fetcher) Fetch(ctx context.Context, keys []domain.AssetKey) (map[string]livedata.Result, error) {
	body, err := json.Marshal(request{
		Query:     LiveDataQuery,
		Variables: map[string]any{"assetKeys": keys},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range f.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if scr := StatusCodeRangeOf(resp); scr != Status2xx {
		message := string(payload)
		if err != nil {
			message = fmt.Sprintf("cannot read server message: %s", err)
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: message}
	}
	if err != nil {
		return nil, err
	}

	doc, err := oj.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	requested := map[string]bool{}
	for _, k := range keys {
		requested[k.Token()] = true
	}

	results := map[string]livedata.Result{}
	for _, n := range f.nodes.Get(doc) {
		raw, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		nd := node{}
		if err := json.Unmarshal(raw, &nd); err != nil {
			f.logger.Printf("asset node is not decodable: %s: %s", err, raw)
			continue
		}
		token := nd.AssetKey.Token()
		if !requested[token] {
			continue
		}
		if nd.Error != nil {
			results[token] = livedata.Failed(errors.New(*nd.Error))
			continue
		}
		results[token] = livedata.Present(nd.LiveData)
	}
	return results, nil
}
