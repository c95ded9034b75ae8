// Package framing delivers a binary payload over a channel that limits the
// size of each message. The payload is base64 encoded, split into numbered
// chunk frames and terminated by a completion marker.
package framing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Frame kinds.
const (
	KindChunk     = "chunk"
	KindCompleted = "completed"
)

const (
	// DefaultMaxFragmentChars keeps a chunk frame under the 32KB message
	// limit of the delivery channel once JSON framing is added.
	DefaultMaxFragmentChars = 30000
	// DefaultDelay is the pause between successive sends.
	DefaultDelay = 100 * time.Millisecond
)

// Frame is one transport message. Chunk frames carry Index, Total and Data;
// the completion marker carries only Kind.
type Frame struct {
	Kind  string `json:"kind"`
	Index int    `json:"index"`
	Total int    `json:"total"`
	Data  string `json:"data"`
}

type completionFrame struct {
	Kind string `json:"kind"`
}

// MarshalJSON writes the completion marker as {"kind":"completed"}.
func (f Frame) MarshalJSON() ([]byte, error) {
	if f.IsCompletion() {
		return json.Marshal(completionFrame{Kind: f.Kind})
	}
	type chunk Frame
	return json.Marshal(chunk(f))
}

// IsCompletion returns true for the completion marker.
func (f Frame) IsCompletion() bool {
	return f.Kind == KindCompleted
}

// Sender delivers a single frame. A call either succeeds or fails as a whole.
type Sender interface {
	Send(ctx context.Context, frame Frame) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, frame Frame) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, frame Frame) error {
	return f(ctx, frame)
}

// TransportError reports the frame at which a transfer failed. AtFragment
// equals the chunk count when the completion marker could not be sent.
type TransportError struct {
	AtFragment int
	Total      int
	Err        error
}

func (e *TransportError) Error() string {
	if e.AtFragment >= e.Total {
		return fmt.Sprintf("transport failed at completion marker (%d fragments sent): %v", e.Total, e.Err)
	}
	return fmt.Sprintf("transport failed at fragment %d/%d: %v", e.AtFragment, e.Total, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Config holds framer settings.
type Config struct {
	MaxFragmentChars int
	Delay            time.Duration
}

// Framer splits payloads into frames and sends them in order.
// Frames of one transfer are never sent concurrently.
type Framer struct {
	maxFragmentChars int
	delay            time.Duration
	sleep            func(time.Duration)
}

// NewFramer creates a framer. A zero Delay falls back to DefaultDelay; use
// a negative Delay to send without pausing.
func NewFramer(cfg Config) (*Framer, error) {
	if cfg.MaxFragmentChars <= 0 {
		return nil, fmt.Errorf("max fragment chars must be positive, got %d", cfg.MaxFragmentChars)
	}
	delay := cfg.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	if delay < 0 {
		delay = 0
	}
	return &Framer{
		maxFragmentChars: cfg.MaxFragmentChars,
		delay:            delay,
		sleep:            time.Sleep,
	}, nil
}

// MaxFragmentChars returns the fragment size limit.
func (f *Framer) MaxFragmentChars() int {
	return f.maxFragmentChars
}

// FragmentCount returns the number of chunk frames Transmit sends for a
// payload of n bytes.
func (f *Framer) FragmentCount(n int) int {
	encoded := base64.StdEncoding.EncodedLen(n)
	return (encoded + f.maxFragmentChars - 1) / f.maxFragmentChars
}

// Transmit sends payload as chunk frames followed by the completion marker
// and returns the number of chunk frames sent. The first failing send aborts
// the transfer with a *TransportError; nothing is retried. ctx is only
// handed to the sender.
func (f *Framer) Transmit(ctx context.Context, payload []byte, send Sender) (int, error) {
	fragments := Split(base64.StdEncoding.EncodeToString(payload), f.maxFragmentChars)
	total := len(fragments)

	for i, data := range fragments {
		if i > 0 {
			f.pause()
		}
		frame := Frame{Kind: KindChunk, Index: i, Total: total, Data: data}
		if err := send.Send(ctx, frame); err != nil {
			return i, &TransportError{AtFragment: i, Total: total, Err: err}
		}
	}

	if total > 0 {
		f.pause()
	}
	if err := send.Send(ctx, Frame{Kind: KindCompleted}); err != nil {
		return total, &TransportError{AtFragment: total, Total: total, Err: err}
	}
	return total, nil
}

func (f *Framer) pause() {
	if f.delay > 0 {
		f.sleep(f.delay)
	}
}

// Split cuts s into consecutive pieces of at most n characters. Base64 text
// is ASCII, so byte and character counts agree.
func Split(s string, n int) []string {
	if n <= 0 || s == "" {
		return nil
	}
	pieces := make([]string, 0, (len(s)+n-1)/n)
	for len(s) > n {
		pieces = append(pieces, s[:n])
		s = s[n:]
	}
	return append(pieces, s)
}

// Reassemble rebuilds a payload from the frames of one transfer. Chunk
// frames may arrive in any order but must cover 0..total-1 exactly once
// and agree on total. A trailing completion marker is accepted.
func Reassemble(frames []Frame) ([]byte, error) {
	var (
		total     = -1
		fragments []string
		seen      []bool
		completed bool
	)
	for _, frame := range frames {
		switch frame.Kind {
		case KindCompleted:
			completed = true
			continue
		case KindChunk:
		default:
			return nil, fmt.Errorf("unknown frame kind %q", frame.Kind)
		}
		if completed {
			return nil, fmt.Errorf("chunk %d after completion marker", frame.Index)
		}
		if total == -1 {
			if frame.Total <= 0 {
				return nil, fmt.Errorf("chunk %d has invalid total %d", frame.Index, frame.Total)
			}
			total = frame.Total
			fragments = make([]string, total)
			seen = make([]bool, total)
		}
		if frame.Total != total {
			return nil, fmt.Errorf("chunk %d declares total %d, expected %d", frame.Index, frame.Total, total)
		}
		if frame.Index < 0 || frame.Index >= total {
			return nil, fmt.Errorf("chunk index %d out of range [0,%d)", frame.Index, total)
		}
		if seen[frame.Index] {
			return nil, fmt.Errorf("duplicate chunk %d", frame.Index)
		}
		seen[frame.Index] = true
		fragments[frame.Index] = frame.Data
	}

	if !completed {
		return nil, fmt.Errorf("missing completion marker")
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("missing chunk %d of %d", i, total)
		}
	}

	var encoded []byte
	for _, fragment := range fragments {
		encoded = append(encoded, fragment...)
	}
	payload, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return payload, nil
}
