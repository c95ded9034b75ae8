package framing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/adverant/nexus/text3d-worker/internal/glb"
	"github.com/adverant/nexus/text3d-worker/internal/mesh"
)

// recorder collects frames and optionally fails at a given call.
type recorder struct {
	frames []Frame
	failAt int
	err    error
}

func (r *recorder) Send(ctx context.Context, frame Frame) error {
	if r.err != nil && len(r.frames) == r.failAt {
		return r.err
	}
	r.frames = append(r.frames, frame)
	return nil
}

func newTestFramer(t *testing.T, max int) (*Framer, *[]time.Duration) {
	t.Helper()
	f, err := NewFramer(Config{MaxFragmentChars: max, Delay: 5 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	var slept []time.Duration
	f.sleep = func(d time.Duration) { slept = append(slept, d) }
	return f, &slept
}

func TestTransmitSendCount(t *testing.T) {
	tests := []struct {
		size, max int
	}{
		{1, 1},
		{3, 4},
		{10, 4},
		{100, 7},
		{1000, 30000},
		{30000, 1000},
	}
	for _, test := range tests {
		payload := bytes.Repeat([]byte{0xAB}, test.size)
		encodedLen := base64.StdEncoding.EncodedLen(test.size)
		want := (encodedLen + test.max - 1) / test.max

		f, _ := newTestFramer(t, test.max)
		rec := &recorder{}
		n, err := f.Transmit(context.Background(), payload, rec)
		if err != nil {
			t.Fatalf("size=%d max=%d: %v", test.size, test.max, err)
		}
		if n != want || f.FragmentCount(test.size) != want {
			t.Errorf("size=%d max=%d: sent %d chunks, want %d", test.size, test.max, n, want)
		}
		if len(rec.frames) != want+1 {
			t.Fatalf("size=%d max=%d: %d sends, want %d", test.size, test.max, len(rec.frames), want+1)
		}
		for i, frame := range rec.frames[:want] {
			if frame.Kind != KindChunk || frame.Index != i || frame.Total != want {
				t.Errorf("frame %d = %+v", i, frame)
			}
			if len(frame.Data) > test.max {
				t.Errorf("frame %d carries %d chars, limit %d", i, len(frame.Data), test.max)
			}
		}
		if !rec.frames[want].IsCompletion() {
			t.Errorf("last frame = %+v, want completion marker", rec.frames[want])
		}
	}
}

func TestTransmitEncodedTriangle(t *testing.T) {
	m := &mesh.Mesh{Vertices: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}}
	container, err := glb.Encode(m, glb.Options{})
	if err != nil {
		t.Fatal(err)
	}
	encoded := base64.StdEncoding.EncodeToString(container)

	f, _ := newTestFramer(t, 4)
	rec := &recorder{}
	n, err := f.Transmit(context.Background(), container, rec)
	if err != nil {
		t.Fatal(err)
	}

	want := (len(encoded) + 3) / 4
	if n != want {
		t.Errorf("sent %d chunks, want %d", n, want)
	}
	completions := 0
	for _, frame := range rec.frames {
		if frame.IsCompletion() {
			completions++
		}
	}
	if completions != 1 || !rec.frames[len(rec.frames)-1].IsCompletion() {
		t.Errorf("expected exactly one trailing completion marker, got %d", completions)
	}

	var joined string
	for _, frame := range rec.frames[:n] {
		joined += frame.Data
	}
	decoded, err := base64.StdEncoding.DecodeString(joined)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, container) {
		t.Error("reassembled bytes differ from the container")
	}

	got, err := Reassemble(rec.frames)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, container) {
		t.Error("Reassemble differs from the container")
	}
	if _, err := glb.ReadHeader(got); err != nil {
		t.Errorf("reassembled container: %v", err)
	}
}

func TestTransmitFailure(t *testing.T) {
	cause := errors.New("gone")
	payload := bytes.Repeat([]byte("x"), 30) // 40 base64 chars, 4 chunks of 10

	for _, failAt := range []int{0, 2, 4} {
		f, _ := newTestFramer(t, 10)
		rec := &recorder{failAt: failAt, err: cause}
		n, err := f.Transmit(context.Background(), payload, rec)

		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("failAt=%d: err = %v, want *TransportError", failAt, err)
		}
		if te.AtFragment != failAt || n != failAt {
			t.Errorf("failAt=%d: AtFragment=%d n=%d", failAt, te.AtFragment, n)
		}
		if !errors.Is(err, cause) {
			t.Errorf("failAt=%d: cause not wrapped", failAt)
		}
		if len(rec.frames) != failAt {
			t.Errorf("failAt=%d: %d frames delivered", failAt, len(rec.frames))
		}
	}
}

func TestTransmitEmptyPayload(t *testing.T) {
	f, slept := newTestFramer(t, 8)
	rec := &recorder{}
	n, err := f.Transmit(context.Background(), nil, rec)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || len(rec.frames) != 1 || !rec.frames[0].IsCompletion() {
		t.Errorf("n=%d frames=%+v", n, rec.frames)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %d times for an empty payload", len(*slept))
	}
	payload, err := Reassemble(rec.frames)
	if err != nil || len(payload) != 0 {
		t.Errorf("Reassemble = %v, %v", payload, err)
	}
}

func TestTransmitDelays(t *testing.T) {
	f, slept := newTestFramer(t, 4)
	rec := &recorder{}
	// 6 bytes -> 8 base64 chars -> 2 chunks and a marker.
	if _, err := f.Transmit(context.Background(), []byte("abcdef"), rec); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(*slept))
	}
	for _, d := range *slept {
		if d != 5*time.Millisecond {
			t.Errorf("delay = %v", d)
		}
	}
}

func TestNewFramerConfig(t *testing.T) {
	for _, max := range []int{0, -1} {
		if _, err := NewFramer(Config{MaxFragmentChars: max}); err == nil {
			t.Errorf("MaxFragmentChars=%d accepted", max)
		}
	}
	f, err := NewFramer(Config{MaxFragmentChars: 1})
	if err != nil {
		t.Fatal(err)
	}
	if f.delay != DefaultDelay {
		t.Errorf("delay = %v, want default", f.delay)
	}
	f, err = NewFramer(Config{MaxFragmentChars: 1, Delay: -1})
	if err != nil {
		t.Fatal(err)
	}
	if f.delay != 0 {
		t.Errorf("delay = %v, want 0", f.delay)
	}
}

func TestSenderFuncPassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "job-1")
	f, _ := newTestFramer(t, 100)
	var got []interface{}
	send := SenderFunc(func(ctx context.Context, frame Frame) error {
		got = append(got, ctx.Value(key{}))
		return nil
	})
	if _, err := f.Transmit(ctx, []byte("hi"), send); err != nil {
		t.Fatal(err)
	}
	for _, v := range got {
		if v != "job-1" {
			t.Errorf("context value = %v", v)
		}
	}
}

func TestFrameJSON(t *testing.T) {
	b, err := json.Marshal(Frame{Kind: KindCompleted})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"kind":"completed"}` {
		t.Errorf("completion = %s", b)
	}
	b, err = json.Marshal(Frame{Kind: KindChunk, Index: 0, Total: 2, Data: "AAAA"})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"kind":"chunk","index":0,"total":2,"data":"AAAA"}` {
		t.Errorf("chunk = %s", b)
	}
}

func TestReassembleRejects(t *testing.T) {
	done := Frame{Kind: KindCompleted}
	chunk := func(i, total int, data string) Frame {
		return Frame{Kind: KindChunk, Index: i, Total: total, Data: data}
	}
	tests := map[string][]Frame{
		"missing marker":   {chunk(0, 1, "AAAA")},
		"missing chunk":    {chunk(0, 2, "AAAA"), done},
		"duplicate":        {chunk(0, 2, "AAAA"), chunk(0, 2, "AAAA"), done},
		"total mismatch":   {chunk(0, 2, "AAAA"), chunk(1, 3, "AAAA"), done},
		"out of range":     {chunk(2, 2, "AAAA"), done},
		"after completion": {done, chunk(0, 1, "AAAA")},
		"unknown kind":     {{Kind: "ping"}, done},
		"bad base64":       {chunk(0, 1, "A!"), done},
	}
	for name, frames := range tests {
		if _, err := Reassemble(frames); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}

	// Out-of-order delivery is reassembled by index.
	got, err := Reassemble([]Frame{chunk(1, 2, "E="), chunk(0, 2, "YW"), done})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "aa" {
		t.Errorf("got %q", got)
	}
}
