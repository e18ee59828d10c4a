package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidAssetKey = errors.New("invalid asset key")

// AssetKey identifies an asset by its hierarchical path.
//
// The path is non-empty, and none of its segments is empty.
type AssetKey struct {
	Path []string `json:"path"`
}

// NewAssetKey creates an AssetKey with a copy of path.
func NewAssetKey(path ...string) AssetKey {
	p := make([]string, len(path))
	copy(p, path)
	return AssetKey{Path: p}
}

// ParseToken is the inverse of AssetKey.Token .
//
// # Returns
//
// - AssetKey: parsed key.
//
// - error: ErrInvalidAssetKey when the token is empty or has an empty segment.
func ParseToken(token string) (AssetKey, error) {
	if token == "" {
		return AssetKey{}, fmt.Errorf("%w: empty token", ErrInvalidAssetKey)
	}
	path := strings.Split(token, "/")
	for _, seg := range path {
		if seg == "" {
			return AssetKey{}, fmt.Errorf("%w: %q has empty segment", ErrInvalidAssetKey, token)
		}
	}
	return AssetKey{Path: path}, nil
}

// Token is the canonical string form: path segments joined by "/".
func (k AssetKey) Token() string {
	return strings.Join(k.Path, "/")
}

// DisplayName is the human-facing form: path segments joined by " / ".
func (k AssetKey) DisplayName() string {
	return strings.Join(k.Path, " / ")
}

func (k AssetKey) String() string {
	return k.Token()
}

func (k AssetKey) Equal(o AssetKey) bool {
	if len(k.Path) != len(o.Path) {
		return false
	}
	for i := range k.Path {
		if k.Path[i] != o.Path[i] {
			return false
		}
	}
	return true
}

// Prefix returns the key made of the first n segments.
func (k AssetKey) Prefix(n int) AssetKey {
	return NewAssetKey(k.Path[:n]...)
}

// Validate reports ErrInvalidAssetKey when the path is empty or has an empty segment.
func (k AssetKey) Validate() error {
	if k.IsZero() {
		return fmt.Errorf("%w: empty path", ErrInvalidAssetKey)
	}
	for _, seg := range k.Path {
		if seg == "" {
			return fmt.Errorf("%w: %q has empty segment", ErrInvalidAssetKey, k.Token())
		}
	}
	return nil
}

func (k AssetKey) IsZero() bool {
	return len(k.Path) == 0
}
