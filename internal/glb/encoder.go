// Package glb writes meshes and point clouds as binary glTF containers.
//
// A container is a 12-byte header, a JSON chunk describing buffers, buffer
// views and accessors, and a BIN chunk holding positions, then indices (if
// any), then colors (if any). Both chunks are padded to 4 bytes, JSON with
// spaces and BIN with zeros.
package glb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"

	"github.com/adverant/nexus/text3d-worker/internal/mesh"
)

const (
	Magic   uint32 = 0x46546C67 // "glTF"
	Version uint32 = 2

	ChunkJSON uint32 = 0x4E4F534A // "JSON"
	ChunkBIN  uint32 = 0x004E4942 // "BIN\x00"

	HeaderSize      = 12
	ChunkHeaderSize = 8
)

var (
	// ErrInvalidMeshData is returned for empty, inconsistent or non-finite input.
	ErrInvalidMeshData = errors.New("invalid mesh data")
	// ErrIndexOverflow is returned when a face index does not fit the index width.
	ErrIndexOverflow = errors.New("index overflow")
)

// Encoder encodes meshes with a fixed set of options. It holds no other
// state and is safe for concurrent use.
type Encoder struct {
	opts Options
}

// NewEncoder creates an encoder.
func NewEncoder(opts Options) *Encoder {
	opts.IndexWidth = opts.IndexWidth.normalize()
	if opts.Generator == "" {
		opts.Generator = DefaultGenerator
	}
	return &Encoder{opts: opts}
}

// Options returns the effective options.
func (e *Encoder) Options() Options {
	return e.opts
}

// Encode encodes m with opts.
func Encode(m *mesh.Mesh, opts Options) ([]byte, error) {
	return NewEncoder(opts).Encode(m)
}

// Encode validates m and returns the container bytes.
func (e *Encoder) Encode(m *mesh.Mesh) ([]byte, error) {
	if err := e.validate(m); err != nil {
		return nil, err
	}

	bin, layout := e.packBuffers(m)
	doc := e.document(m, layout, uint32(len(bin)))

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshal gltf document")
	}
	jsonData = pad(jsonData, ' ')

	total := HeaderSize + ChunkHeaderSize + len(jsonData) + ChunkHeaderSize + len(bin)
	if uint64(total) > math.MaxUint32 {
		return nil, errors.Wrapf(ErrInvalidMeshData, "container of %d bytes exceeds 4GiB", total)
	}

	out := bytes.NewBuffer(make([]byte, 0, total))
	writeUint32s(out, Magic, Version, uint32(total))
	writeUint32s(out, uint32(len(jsonData)), ChunkJSON)
	out.Write(jsonData)
	writeUint32s(out, uint32(len(bin)), ChunkBIN)
	out.Write(bin)

	return out.Bytes(), nil
}

func (e *Encoder) validate(m *mesh.Mesh) error {
	if m == nil || len(m.Vertices) == 0 {
		return errors.Wrap(ErrInvalidMeshData, "no vertices")
	}
	n := len(m.Vertices)
	if len(m.Colors) > 0 && len(m.Colors) != n {
		return errors.Wrapf(ErrInvalidMeshData, "%d colors for %d vertices", len(m.Colors), n)
	}
	for i, v := range m.Vertices {
		if !finite(v) {
			return errors.Wrapf(ErrInvalidMeshData, "vertex %d is not finite: %v", i, v)
		}
	}
	for i, c := range m.Colors {
		if !finite(c) {
			return errors.Wrapf(ErrInvalidMeshData, "color %d is not finite: %v", i, c)
		}
	}

	// Overflow is checked before range so an oversized index always reports
	// as overflow, whatever the vertex count.
	maxIndex := e.opts.IndexWidth.maxIndex()
	for i, face := range m.Faces {
		for _, idx := range face {
			if idx > maxIndex {
				return errors.Wrapf(ErrIndexOverflow, "face %d index %d does not fit %s-bit indices", i, idx, e.opts.IndexWidth)
			}
		}
	}
	for i, face := range m.Faces {
		for _, idx := range face {
			if int(idx) >= n {
				return errors.Wrapf(ErrInvalidMeshData, "face %d index %d out of range (%d vertices)", i, idx, n)
			}
		}
	}
	return nil
}

// span is a byte range of the BIN chunk.
type span struct {
	offset, length uint32
}

type bufferLayout struct {
	positions span
	indices   *span
	colors    *span
}

func (e *Encoder) packBuffers(m *mesh.Mesh) ([]byte, bufferLayout) {
	var layout bufferLayout
	bin := new(bytes.Buffer)

	layout.positions = span{0, uint32(len(m.Vertices) * 12)}
	for _, v := range m.Vertices {
		writeVec3(bin, v)
	}

	if len(m.Faces) > 0 {
		start := bin.Len()
		bin.Grow(len(m.Faces) * 3 * e.opts.IndexWidth.byteSize())
		for _, face := range m.Faces {
			for _, idx := range face {
				writeIndex(bin, e.opts.IndexWidth, idx)
			}
		}
		layout.indices = &span{uint32(start), uint32(bin.Len() - start)}
	}

	if len(m.Colors) > 0 {
		// Float accessors must start on a 4-byte boundary; an odd number of
		// 16-bit faces leaves the index view 2 bytes short.
		for bin.Len()%4 != 0 {
			bin.WriteByte(0)
		}
		start := bin.Len()
		for _, c := range m.Colors {
			writeVec3(bin, c)
		}
		layout.colors = &span{uint32(start), uint32(bin.Len() - start)}
	}

	return pad(bin.Bytes(), 0), layout
}

func (e *Encoder) document(m *mesh.Mesh, layout bufferLayout, binLength uint32) *gltf.Document {
	doc := &gltf.Document{
		Asset:   gltf.Asset{Version: "2.0", Generator: e.opts.Generator},
		Scene:   gltf.Index(0),
		Scenes:  []*gltf.Scene{{Nodes: []uint32{0}}},
		Buffers: []*gltf.Buffer{{ByteLength: binLength}},
	}

	min, max := m.Bounds()
	doc.BufferViews = append(doc.BufferViews, &gltf.BufferView{
		Buffer:     0,
		ByteOffset: layout.positions.offset,
		ByteLength: layout.positions.length,
		Target:     gltf.TargetArrayBuffer,
	})
	doc.Accessors = append(doc.Accessors, &gltf.Accessor{
		BufferView:    gltf.Index(0),
		ComponentType: gltf.ComponentFloat,
		Count:         uint32(len(m.Vertices)),
		Type:          gltf.AccessorVec3,
		Min:           []float32{min[0], min[1], min[2]},
		Max:           []float32{max[0], max[1], max[2]},
	})

	primitive := &gltf.Primitive{
		Attributes: map[string]uint32{"POSITION": 0},
		Mode:       gltf.PrimitiveTriangles,
	}
	if m.IsPointCloud() && e.opts.PointPrimitives {
		primitive.Mode = gltf.PrimitivePoints
	}

	if layout.indices != nil {
		view := uint32(len(doc.BufferViews))
		doc.BufferViews = append(doc.BufferViews, &gltf.BufferView{
			Buffer:     0,
			ByteOffset: layout.indices.offset,
			ByteLength: layout.indices.length,
			Target:     gltf.TargetElementArrayBuffer,
		})
		primitive.Indices = gltf.Index(uint32(len(doc.Accessors)))
		doc.Accessors = append(doc.Accessors, &gltf.Accessor{
			BufferView:    gltf.Index(view),
			ComponentType: e.opts.IndexWidth.componentType(),
			Count:         uint32(len(m.Faces) * 3),
			Type:          gltf.AccessorScalar,
		})
	}

	if layout.colors != nil {
		view := uint32(len(doc.BufferViews))
		doc.BufferViews = append(doc.BufferViews, &gltf.BufferView{
			Buffer:     0,
			ByteOffset: layout.colors.offset,
			ByteLength: layout.colors.length,
			Target:     gltf.TargetArrayBuffer,
		})
		primitive.Attributes["COLOR_0"] = uint32(len(doc.Accessors))
		doc.Accessors = append(doc.Accessors, &gltf.Accessor{
			BufferView:    gltf.Index(view),
			ComponentType: gltf.ComponentFloat,
			Count:         uint32(len(m.Colors)),
			Type:          gltf.AccessorVec3,
		})
	}

	doc.Meshes = []*gltf.Mesh{{Primitives: []*gltf.Primitive{primitive}}}
	doc.Nodes = []*gltf.Node{{
		Mesh:     gltf.Index(0),
		Matrix:   gltf.DefaultMatrix,
		Rotation: gltf.DefaultRotation,
		Scale:    gltf.DefaultScale,
	}}
	return doc
}

func pad(b []byte, with byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, with)
	}
	return b
}

func writeVec3(buf *bytes.Buffer, v mgl32.Vec3) {
	var tmp [12]byte
	binary.LittleEndian.PutUint32(tmp[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(tmp[4:], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(tmp[8:], math.Float32bits(v[2]))
	buf.Write(tmp[:])
}

func writeUint32s(buf *bytes.Buffer, values ...uint32) {
	var tmp [4]byte
	for _, v := range values {
		binary.LittleEndian.PutUint32(tmp[:], v)
		buf.Write(tmp[:])
	}
}

// writeIndex writes idx little-endian in the width's component size.
// Callers have already checked that idx fits.
func writeIndex(buf *bytes.Buffer, width IndexWidth, idx uint32) {
	var tmp [4]byte
	if width.byteSize() == 4 {
		binary.LittleEndian.PutUint32(tmp[:], idx)
		buf.Write(tmp[:])
		return
	}
	binary.LittleEndian.PutUint16(tmp[:], uint16(idx))
	buf.Write(tmp[:2])
}

func finite(v mgl32.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
			return false
		}
	}
	return true
}
