// Package layout computes positions of assets, bundles and their edges in an asset graph.
package layout

import (
	"errors"
	"fmt"
	"math"

	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/layout/layered"
)

var (
	// a node or a foreign asset has the same id as a bundle.
	ErrBundleCollision = errors.New("layout: bundle collides with node")

	ErrUnknownNode = errors.New("layout: unknown node")
)

const Margin = 100

type Node struct {
	// ID of the node. If empty, the token of AssetKey is used.
	ID string `json:"id,omitempty"`

	// AssetKey of the node. If empty, ID is parsed as a token.
	AssetKey domain.AssetKey `json:"assetKey"`

	// OpName is the name of the op computing this asset.
	//
	// Nodes without OpName are not rendered, and shown as foreign nodes if they have edges.
	OpName string `json:"opName,omitempty"`

	Description string `json:"description,omitempty"`

	// Declared size. When both are positive, they are used instead of computed size.
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

func (n Node) renderable() bool {
	return n.OpName != ""
}

type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type Options struct {
	// Mini makes nodes narrow and separations small.
	Mini bool `json:"mini,omitempty"`

	// Collapsed bundles are rendered as single blocks hiding their members.
	Collapsed []string `json:"collapsed,omitempty"`
}

type Option func(*Options)

func Mini(mini bool) Option {
	return func(o *Options) {
		o.Mini = mini
	}
}

func Collapse(bundleIDs ...string) Option {
	return func(o *Options) {
		o.Collapsed = append(o.Collapsed, bundleIDs...)
	}
}

func WithOptions(opts Options) Option {
	return func(o *Options) {
		o.Mini = opts.Mini
		o.Collapsed = append(o.Collapsed, opts.Collapsed...)
	}
}

func resolve(opts []Option) Options {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds is a rectangle by its top-left corner and size.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type AssetLayout struct {
	ID     string `json:"id"`
	Bounds Bounds `json:"bounds"`
}

type AssetLayoutEdge struct {
	From   Point  `json:"from"`
	FromID string `json:"fromId"`
	To     Point  `json:"to"`
	ToID   string `json:"toId"`
}

type AssetGraphLayout struct {
	Width  float64                `json:"width"`
	Height float64                `json:"height"`
	Nodes  map[string]AssetLayout `json:"nodes"`
	Edges  []AssetLayoutEdge      `json:"edges"`

	Bundles     map[string]AssetLayout `json:"bundles"`
	BundleEdges []AssetLayoutEdge      `json:"bundleEdges"`
}

// Backend places a graph with groups.
type Backend interface {
	Layout(*layered.Graph) (*layered.Result, error)
}

// ComputeLayout lays out graph with the default backend.
func ComputeLayout(graph Graph, opts ...Option) (*AssetGraphLayout, error) {
	return ComputeLayoutWith(layered.New(), graph, opts...)
}

// ComputeLayoutWith lays out graph with backend.
//
// # Returns
//
// - *AssetGraphLayout: positions of nodes, bundles and edges.
//
// - error: ErrBundleCollision when a node is also a bundle,
// ErrUnknownNode when an edge points neither a node nor a valid token
// or when a node has an invalid asset key (wrapping domain.ErrInvalidAssetKey),
// or an error from backend.
func ComputeLayoutWith(backend Backend, graph Graph, opts ...Option) (*AssetGraphLayout, error) {
	o := resolve(opts)

	nodes := map[string]Node{}
	ids := []string{}
	for _, n := range graph.Nodes {
		if !n.AssetKey.IsZero() {
			if err := n.AssetKey.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnknownNode, err)
			}
		}
		id, key, ok := n.identity()
		if !ok {
			return nil, fmt.Errorf("%w: node without id nor asset key: %+v", ErrUnknownNode, n)
		}
		n.ID, n.AssetKey = id, key
		if _, ok := nodes[id]; !ok {
			ids = append(ids, id)
		}
		nodes[id] = n
	}

	bundles := IdentifyBundles(graph.Nodes)
	for _, id := range ids {
		if _, ok := bundles[id]; ok {
			return nil, fmt.Errorf("%w: %s", ErrBundleCollision, id)
		}
	}
	parents := bundleParents(bundles)

	collapsed := map[string]bool{}
	for _, b := range o.Collapsed {
		if _, ok := bundles[b]; !ok {
			return nil, fmt.Errorf("%w: bundle %s is not found", ErrUnknownNode, b)
		}
		collapsed[b] = true
	}
	// representative returns the outermost collapsed bundle containing id, or id itself.
	representative := func(id string) string {
		rep := id
		for p, ok := parents[id]; ok; p, ok = parents[p] {
			if collapsed[p] {
				rep = p
			}
		}
		return rep
	}

	config := layered.DefaultConfig()
	config.MarginX, config.MarginY = Margin, Margin
	config.EdgeSep = 10
	if o.Mini {
		config.NodeSep, config.RankSep = 20, 20
	} else {
		config.NodeSep, config.RankSep = 50, 50
	}
	lg := &layered.Graph{Parents: map[string]string{}, Config: config}

	placed := map[string]bool{}
	place := func(id string, size Size) {
		if placed[id] {
			return
		}
		placed[id] = true
		lg.Nodes = append(lg.Nodes, layered.Node{ID: id, Width: size.Width, Height: size.Height})
	}

	for _, id := range ids {
		n := nodes[id]
		if !n.renderable() {
			continue
		}
		if rep := representative(id); rep != id {
			size, err := collapsedSize(rep, o)
			if err != nil {
				return nil, err
			}
			place(rep, size)
			continue
		}
		size := NodeDimensions(n)
		if 0 < n.Width && 0 < n.Height {
			size = Size{Width: n.Width, Height: n.Height}
		}
		if o.Mini {
			size.Width = MiniNodeWidth
		}
		place(id, size)
	}

	type edgeKey struct{ from, to string }
	seenEdges := map[edgeKey]bool{}
	for _, e := range graph.Edges {
		from, fromOK := nodes[e.From]
		to, toOK := nodes[e.To]
		fromRendered := fromOK && from.renderable()
		toRendered := toOK && to.renderable()
		if !fromRendered && !toRendered {
			continue
		}

		endpoints := [2]string{}
		for i, end := range []struct {
			id       string
			known    bool
			rendered bool
		}{
			{id: e.From, known: fromOK, rendered: fromRendered},
			{id: e.To, known: toOK, rendered: toRendered},
		} {
			if end.rendered {
				endpoints[i] = representative(end.id)
				continue
			}
			key, err := foreignKey(end.id, nodes)
			if err != nil {
				return nil, err
			}
			if _, ok := bundles[end.id]; ok {
				return nil, fmt.Errorf("%w: %s", ErrBundleCollision, end.id)
			}
			rep := end.id
			if end.known {
				rep = representative(end.id)
			}
			if rep == end.id {
				place(end.id, ForeignNodeDimensions(key))
			} else {
				size, err := collapsedSize(rep, o)
				if err != nil {
					return nil, err
				}
				place(rep, size)
			}
			endpoints[i] = rep
		}

		k := edgeKey{from: endpoints[0], to: endpoints[1]}
		if k.from == k.to || seenEdges[k] {
			continue
		}
		seenEdges[k] = true
		lg.Edges = append(lg.Edges, layered.Edge{From: k.from, To: k.to})
	}

	// groups which are laid out. hidden bundles in collapsed ones are excluded.
	for _, n := range lg.Nodes {
		for child, p := n.ID, ""; ; child = p {
			var ok bool
			p, ok = parents[child]
			if !ok || representative(p) != p {
				break
			}
			if _, ok := lg.Parents[child]; ok {
				break
			}
			lg.Parents[child] = p
		}
	}

	result, err := backend.Layout(lg)
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}

	ret := &AssetGraphLayout{
		Nodes:       map[string]AssetLayout{},
		Edges:       []AssetLayoutEdge{},
		Bundles:     map[string]AssetLayout{},
		BundleEdges: []AssetLayoutEdge{},
	}
	maxX, maxY := 0.0, 0.0
	for id, box := range result.Nodes {
		al := AssetLayout{ID: id, Bounds: Bounds{
			X: box.Left(), Y: box.Top(), Width: box.Width, Height: box.Height,
		}}
		if _, ok := bundles[id]; ok {
			ret.Bundles[id] = al
		} else {
			ret.Nodes[id] = al
		}
		maxX = math.Max(maxX, box.Right())
		maxY = math.Max(maxY, box.Bottom())
	}
	ret.Width, ret.Height = maxX+Margin, maxY+Margin

	for _, route := range result.Edges {
		if len(route.Points) == 0 {
			continue
		}
		first, last := route.Points[0], route.Points[len(route.Points)-1]
		e := AssetLayoutEdge{
			From: Point{X: first.X, Y: first.Y}, FromID: route.From,
			To: Point{X: last.X, Y: last.Y}, ToID: route.To,
		}
		_, fromBundle := ret.Bundles[route.From]
		_, toBundle := ret.Bundles[route.To]
		if fromBundle || toBundle {
			ret.BundleEdges = append(ret.BundleEdges, e)
		} else {
			ret.Edges = append(ret.Edges, e)
		}
	}
	return ret, nil
}

func collapsedSize(bundleID string, o Options) (Size, error) {
	prefix, err := domain.ParseToken(bundleID)
	if err != nil {
		return Size{}, fmt.Errorf("%w: bundle %s: %w", ErrUnknownNode, bundleID, err)
	}
	size := CollapsedBundleDimensions(prefix)
	if o.Mini {
		size.Width = MiniNodeWidth
	}
	return size, nil
}

func foreignKey(id string, nodes map[string]Node) (domain.AssetKey, error) {
	if n, ok := nodes[id]; ok {
		return n.AssetKey, nil
	}
	key, err := domain.ParseToken(id)
	if err != nil {
		return domain.AssetKey{}, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return key, nil
}
