package mesh

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

// ErrUnsupportedFormat is returned when an asset is neither point cloud JSON nor OBJ.
var ErrUnsupportedFormat = errors.New("unsupported asset format")

// Format names a supported asset encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatOBJ  Format = "obj"
)

// Sniff guesses the format of data from its content type, file name and
// first significant byte, in that order.
func Sniff(data []byte, contentType, name string) (Format, error) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return FormatJSON, nil
	case strings.Contains(ct, "obj"):
		return FormatOBJ, nil
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return FormatJSON, nil
	case ".obj":
		return FormatOBJ, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", errors.Wrap(ErrUnsupportedFormat, "empty asset")
	}
	switch trimmed[0] {
	case '{':
		return FormatJSON, nil
	case 'v', 'f', '#', 'o', 'g', 's', 'm', 'u':
		return FormatOBJ, nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "content type %q, name %q", contentType, name)
}

// Decode parses a downloaded prediction asset.
func Decode(data []byte, contentType, name string) (*Mesh, error) {
	format, err := Sniff(data, contentType, name)
	if err != nil {
		return nil, err
	}
	if format == FormatJSON {
		return DecodePointCloud(data)
	}
	return DecodeOBJ(data)
}

type pointCloudDoc struct {
	Coords   [][]float32 `json:"coords"`
	Vertices [][]float32 `json:"vertices"`
	Colors   [][]float32 `json:"colors"`
	Faces    [][]int64   `json:"faces"`
}

// DecodePointCloud parses the JSON point cloud document produced by Point-E:
// {"coords": [[x,y,z],...], "colors": [[r,g,b],...]}. "vertices" is accepted
// in place of "coords" and an optional "faces" array of index triples turns
// the cloud into a mesh.
func DecodePointCloud(data []byte) (*Mesh, error) {
	var doc pointCloudDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse point cloud json")
	}
	coords := doc.Coords
	if len(coords) == 0 {
		coords = doc.Vertices
	}

	m := &Mesh{}
	var err error
	if m.Vertices, err = vec3s(coords, "coords"); err != nil {
		return nil, err
	}
	if m.Colors, err = vec3s(doc.Colors, "colors"); err != nil {
		return nil, err
	}
	for i, face := range doc.Faces {
		if len(face) != 3 {
			return nil, errors.Errorf("faces[%d] has %d indices, want 3", i, len(face))
		}
		var tri [3]uint32
		for j, idx := range face {
			if idx < 0 || idx > int64(^uint32(0)) {
				return nil, errors.Errorf("faces[%d] index %d out of range", i, idx)
			}
			tri[j] = uint32(idx)
		}
		m.Faces = append(m.Faces, tri)
	}
	return m, nil
}

func vec3s(rows [][]float32, field string) ([]mgl32.Vec3, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]mgl32.Vec3, len(rows))
	for i, row := range rows {
		if len(row) != 3 {
			return nil, errors.Errorf("%s[%d] has %d components, want 3", field, i, len(row))
		}
		out[i] = mgl32.Vec3{row[0], row[1], row[2]}
	}
	return out, nil
}

// DecodeOBJ parses Wavefront OBJ geometry. Only "v" and "f" statements are
// used; "v x y z r g b" carries a vertex color. Faces may use the i, i/t,
// i//n and i/t/n forms with positive or negative indices and are fan
// triangulated. Colors are kept only when every vertex has one.
func DecodeOBJ(data []byte) (*Mesh, error) {
	m := &Mesh{}
	var colors []mgl32.Vec3
	colored := true

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "v":
			v, c, hasColor, err := parseVertex(fields[1:])
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNo)
			}
			m.Vertices = append(m.Vertices, v)
			colors = append(colors, c)
			colored = colored && hasColor
		case "f":
			tris, err := parseFace(fields[1:], len(m.Vertices))
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNo)
			}
			m.Faces = append(m.Faces, tris...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read obj")
	}
	if len(m.Vertices) == 0 {
		return nil, errors.Wrap(ErrUnsupportedFormat, "obj has no vertices")
	}
	if colored {
		m.Colors = colors
	}
	return m, nil
}

func parseVertex(fields []string) (mgl32.Vec3, mgl32.Vec3, bool, error) {
	var v, c mgl32.Vec3
	if len(fields) < 3 {
		return v, c, false, errors.Errorf("vertex has %d components", len(fields))
	}
	values := make([]float32, 0, 6)
	for _, f := range fields {
		x, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return v, c, false, errors.Wrapf(err, "invalid vertex component %q", f)
		}
		values = append(values, float32(x))
	}
	v = mgl32.Vec3{values[0], values[1], values[2]}
	// "v x y z w" is a homogeneous coordinate, not a color.
	if len(values) >= 6 {
		c = mgl32.Vec3{values[3], values[4], values[5]}
		return v, c, true, nil
	}
	return v, c, false, nil
}

func parseFace(fields []string, vertexCount int) ([][3]uint32, error) {
	if len(fields) < 3 {
		return nil, errors.Errorf("face has %d vertices", len(fields))
	}
	indices := make([]uint32, len(fields))
	for i, f := range fields {
		ref := f
		if slash := strings.IndexByte(f, '/'); slash >= 0 {
			ref = f[:slash]
		}
		n, err := strconv.Atoi(ref)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid face vertex %q", f)
		}
		switch {
		case n > 0:
			n--
		case n < 0:
			n += vertexCount
		default:
			return nil, errors.Errorf("face vertex index 0")
		}
		if n < 0 || n >= vertexCount {
			return nil, errors.Errorf("face vertex %q out of range (%d vertices)", f, vertexCount)
		}
		indices[i] = uint32(n)
	}

	tris := make([][3]uint32, 0, len(indices)-2)
	for i := 1; i+1 < len(indices); i++ {
		tris = append(tris, [3]uint32{indices[0], indices[i], indices[i+1]})
	}
	return tris, nil
}
