// Package dot writes a computed asset graph layout in Graphviz DOT.
//
// Nodes are pinned at their positions, so the output is meant to be rendered with
// `neato -n2`.
package dot

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/opst/assetgraph/pkg/layout"
)

// pixels per inch in graphviz.
const dpi = 72.0

type writer struct {
	w   io.Writer
	err error
}

func (w *writer) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

// Write writes l as a digraph.
//
// Bundles are written as clusters. Nodes belong to the smallest bundle containing them.
func Write(w io.Writer, l *layout.AssetGraphLayout) error {
	out := &writer{w: w}
	out.printf(`digraph G {
	graph [bb="0,0,%s,%s"]
	node [shape=box fontsize=10 fixedsize=true]
	edge [fontsize=10]

`, num(l.Width), num(l.Height))

	parents := map[string]string{}
	for _, id := range sortedKeys(l.Nodes) {
		if p, ok := container(l, l.Nodes[id].Bounds, ""); ok {
			parents[id] = p
		}
	}
	for _, id := range sortedKeys(l.Bundles) {
		if p, ok := container(l, l.Bundles[id].Bounds, id); ok {
			parents[id] = p
		}
	}
	children := map[string][]string{}
	for _, id := range append(sortedKeys(l.Bundles), sortedKeys(l.Nodes)...) {
		children[parents[id]] = append(children[parents[id]], id)
	}

	var emit func(parent string, indent string)
	emit = func(parent string, indent string) {
		for _, id := range children[parent] {
			if b, ok := l.Bundles[id]; ok && len(children[id]) != 0 {
				out.printf("%ssubgraph \"cluster_%s\" {\n", indent, escape(id))
				out.printf("%s\tlabel=\"%s\"\n", indent, escape(displayName(id)))
				out.printf("%s\tbb=\"%s\"\n", indent, bb(l, b.Bounds))
				emit(id, indent+"\t")
				out.printf("%s}\n", indent)
				continue
			}
			n, shape := l.Nodes[id], "box"
			if b, ok := l.Bundles[id]; ok {
				// collapsed
				n, shape = b, "folder"
			}
			out.printf(
				"%s\"%s\"[shape=%s label=\"%s\" pos=\"%s,%s!\" width=%s height=%s];\n",
				indent, escape(id), shape, escape(displayName(id)),
				num(n.Bounds.X+n.Bounds.Width/2), num(l.Height-(n.Bounds.Y+n.Bounds.Height/2)),
				num(n.Bounds.Width/dpi), num(n.Bounds.Height/dpi),
			)
		}
	}
	emit("", "\t")
	out.printf("\n")

	for _, edges := range [][]layout.AssetLayoutEdge{l.Edges, l.BundleEdges} {
		for _, e := range edges {
			out.printf("\t\"%s\" -> \"%s\";\n", escape(e.FromID), escape(e.ToID))
		}
	}
	out.printf("}\n")
	return out.err
}

// container finds the smallest bundle containing b, other than self.
func container(l *layout.AssetGraphLayout, b layout.Bounds, self string) (string, bool) {
	found, area := "", 0.0
	for _, id := range sortedKeys(l.Bundles) {
		if id == self {
			continue
		}
		c := l.Bundles[id].Bounds
		if !(c.X <= b.X && b.X+b.Width <= c.X+c.Width && c.Y <= b.Y && b.Y+b.Height <= c.Y+c.Height) {
			continue
		}
		if a := c.Width * c.Height; found == "" || a < area {
			found, area = id, a
		}
	}
	return found, found != ""
}

func bb(l *layout.AssetGraphLayout, b layout.Bounds) string {
	return strings.Join([]string{
		num(b.X), num(l.Height - (b.Y + b.Height)), num(b.X + b.Width), num(l.Height - b.Y),
	}, ",")
}

func displayName(id string) string {
	return strings.ReplaceAll(id, "/", " / ")
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func num(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
