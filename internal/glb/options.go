package glb

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
)

// IndexWidth selects the component type of the index buffer.
type IndexWidth int

const (
	// IndexWidth16 writes UNSIGNED_SHORT indices. This is the legacy layout
	// and the default.
	IndexWidth16 IndexWidth = 16
	// IndexWidth32 writes UNSIGNED_INT indices.
	IndexWidth32 IndexWidth = 32
)

// DefaultGenerator is written to asset.generator when Options.Generator is empty.
const DefaultGenerator = "text3d-worker"

// ParseIndexWidth parses "16" or "32" (an optional "bit" suffix is accepted).
func ParseIndexWidth(s string) (IndexWidth, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "bit") {
	case "", "16":
		return IndexWidth16, nil
	case "32":
		return IndexWidth32, nil
	}
	return 0, errors.Errorf("unsupported index width %q", s)
}

func (w IndexWidth) normalize() IndexWidth {
	if w == IndexWidth32 {
		return IndexWidth32
	}
	return IndexWidth16
}

// maxIndex is the largest index value the width can carry. The all-ones
// value is reserved by glTF as the primitive restart marker.
func (w IndexWidth) maxIndex() uint32 {
	if w.normalize() == IndexWidth32 {
		return 0xFFFFFFFE
	}
	return 0xFFFE
}

func (w IndexWidth) byteSize() int {
	if w.normalize() == IndexWidth32 {
		return 4
	}
	return 2
}

func (w IndexWidth) componentType() gltf.ComponentType {
	if w.normalize() == IndexWidth32 {
		return gltf.ComponentUint
	}
	return gltf.ComponentUshort
}

func (w IndexWidth) String() string {
	if w.normalize() == IndexWidth32 {
		return "32"
	}
	return "16"
}

// Options controls container layout.
type Options struct {
	IndexWidth IndexWidth
	// PointPrimitives tags face-less meshes with the POINTS draw mode.
	// When false, the primitive is always tagged TRIANGLES, which is what
	// existing clients expect.
	PointPrimitives bool
	Generator       string
}
