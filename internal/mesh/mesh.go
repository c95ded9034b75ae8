package mesh

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Mesh is the vertex data of a finished prediction asset.
// Faces and Colors are optional; a mesh without faces is a point cloud.
type Mesh struct {
	Vertices []mgl32.Vec3 `json:"vertices"`
	Faces    [][3]uint32  `json:"faces,omitempty"`
	Colors   []mgl32.Vec3 `json:"colors,omitempty"`
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices)
}

// FaceCount returns the number of triangles.
func (m *Mesh) FaceCount() int {
	return len(m.Faces)
}

// IsPointCloud returns true if the mesh carries no faces.
func (m *Mesh) IsPointCloud() bool {
	return len(m.Faces) == 0
}

// HasColors returns true if per-vertex colors are present.
func (m *Mesh) HasColors() bool {
	return len(m.Colors) > 0
}

// Bounds returns the axis-wise minimum and maximum of the vertex positions.
// Both are zero for an empty mesh.
func (m *Mesh) Bounds() (min, max mgl32.Vec3) {
	if len(m.Vertices) == 0 {
		return
	}
	min, max = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		for axis := 0; axis < 3; axis++ {
			if v[axis] < min[axis] {
				min[axis] = v[axis]
			}
			if v[axis] > max[axis] {
				max[axis] = v[axis]
			}
		}
	}
	return
}
