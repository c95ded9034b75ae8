package glb

import (
	"encoding/binary"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
)

// ErrMalformedContainer is returned when bytes are not a well-formed container.
var ErrMalformedContainer = errors.New("malformed glb container")

// Header describes the chunk table of a container.
type Header struct {
	Version    uint32
	Length     uint32
	JSONLength uint32
	BINLength  uint32
}

// ReadHeader validates the header and chunk table of b. The declared total
// length must equal len(b) and both chunks must be 4-byte aligned.
func ReadHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize+ChunkHeaderSize {
		return h, errors.Wrapf(ErrMalformedContainer, "%d bytes is shorter than a header", len(b))
	}
	le := binary.LittleEndian
	if magic := le.Uint32(b[0:]); magic != Magic {
		return h, errors.Wrapf(ErrMalformedContainer, "bad magic 0x%08x", magic)
	}
	h.Version = le.Uint32(b[4:])
	h.Length = le.Uint32(b[8:])
	if h.Version != Version {
		return h, errors.Wrapf(ErrMalformedContainer, "unsupported version %d", h.Version)
	}
	if int(h.Length) != len(b) {
		return h, errors.Wrapf(ErrMalformedContainer, "declared length %d, actual %d", h.Length, len(b))
	}

	offset := HeaderSize
	h.JSONLength = le.Uint32(b[offset:])
	if t := le.Uint32(b[offset+4:]); t != ChunkJSON {
		return h, errors.Wrapf(ErrMalformedContainer, "first chunk type 0x%08x is not JSON", t)
	}
	offset += ChunkHeaderSize + int(h.JSONLength)
	if h.JSONLength%4 != 0 || offset > len(b) {
		return h, errors.Wrapf(ErrMalformedContainer, "bad JSON chunk length %d", h.JSONLength)
	}

	if offset == len(b) {
		return h, nil
	}
	if offset+ChunkHeaderSize > len(b) {
		return h, errors.Wrap(ErrMalformedContainer, "truncated BIN chunk header")
	}
	h.BINLength = le.Uint32(b[offset:])
	if t := le.Uint32(b[offset+4:]); t != ChunkBIN {
		return h, errors.Wrapf(ErrMalformedContainer, "second chunk type 0x%08x is not BIN", t)
	}
	offset += ChunkHeaderSize + int(h.BINLength)
	if h.BINLength%4 != 0 || offset != len(b) {
		return h, errors.Wrapf(ErrMalformedContainer, "bad BIN chunk length %d", h.BINLength)
	}
	return h, nil
}

// ReadMetadata returns the decoded JSON chunk of b.
func ReadMetadata(b []byte) (*gltf.Document, error) {
	h, err := ReadHeader(b)
	if err != nil {
		return nil, err
	}
	start := HeaderSize + ChunkHeaderSize
	doc := new(gltf.Document)
	if err := json.Unmarshal(b[start:start+int(h.JSONLength)], doc); err != nil {
		return nil, errors.Wrap(err, "decode JSON chunk")
	}
	return doc, nil
}

// BIN returns the binary chunk body of b, or nil if there is none.
func BIN(b []byte) ([]byte, error) {
	h, err := ReadHeader(b)
	if err != nil {
		return nil, err
	}
	if h.BINLength == 0 {
		return nil, nil
	}
	start := HeaderSize + ChunkHeaderSize + int(h.JSONLength) + ChunkHeaderSize
	return b[start : start+int(h.BINLength)], nil
}
