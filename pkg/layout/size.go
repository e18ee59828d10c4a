package layout

import (
	"unicode/utf8"

	"github.com/opst/assetgraph/pkg/domain"
)

const (
	NodeBaseHeight       = 75
	NodeHeightIncrement  = 25
	NodeMinWidth         = 200
	NodeNameMaxLength    = 32
	AnnotationsMaxWidth  = 65
	DisplayNamePxPerChar = 8.0

	ForeignNodeHeight  = 30
	ForeignNodePadding = 30

	CollapsedBundleHeight = 60

	MiniNodeWidth = 230
)

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NodeDimensions is the size of a renderable node.
//
// Declared sizes of the node are not considered.
func NodeDimensions(n Node) Size {
	_, key, _ := n.identity()
	displayName := key.DisplayName()

	height := float64(NodeBaseHeight)
	if n.Description != "" {
		height += NodeHeightIncrement
	}
	if n.OpName != "" && n.OpName != displayName {
		height += NodeHeightIncrement
	}
	return Size{Width: nameWidth(displayName), Height: height}
}

// ForeignNodeDimensions is the size of a placeholder for an asset out of the graph.
func ForeignNodeDimensions(key domain.AssetKey) Size {
	return Size{
		Width:  float64(utf8.RuneCountInString(key.DisplayName()))*DisplayNamePxPerChar + ForeignNodePadding,
		Height: ForeignNodeHeight,
	}
}

// CollapsedBundleDimensions is the size of a bundle rendered as a single block.
func CollapsedBundleDimensions(prefix domain.AssetKey) Size {
	return Size{Width: nameWidth(prefix.DisplayName()), Height: CollapsedBundleHeight}
}

func nameWidth(displayName string) float64 {
	length := min(NodeNameMaxLength, utf8.RuneCountInString(displayName))
	return max(NodeMinWidth, float64(length)*DisplayNamePxPerChar) + AnnotationsMaxWidth
}
