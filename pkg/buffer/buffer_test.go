package buffer

import (
	"bytes"
	"io"
	"testing"

	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

type pipeStream struct {
	r io.Reader
	w io.Writer
}

func (p pipeStream) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipeStream) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p pipeStream) Close() error                { return nil }

func newLoopbackCodec() (*Codec, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewCodec(pipeStream{r: &buf, w: &buf}), &buf
}

func TestVersionRoundTrip(t *testing.T) {
	c, _ := newLoopbackCodec()
	if err := c.WriteVersion(3, 8); err != nil {
		t.Fatalf("WriteVersion: %v", err)
	}
	major, minor, err := c.ReadVersion()
	if err != nil {
		t.Fatalf("ReadVersion: %v", err)
	}
	if major != 3 || minor != 8 {
		t.Fatalf("got %d.%d, want 3.8", major, minor)
	}
}

func TestReadVersionMalformed(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("garbage data!")
	c := NewCodec(pipeStream{r: &buf, w: &bytes.Buffer{}})
	if _, _, err := c.ReadVersion(); err == nil {
		t.Fatal("expected error for malformed version banner")
	}
}

func TestStringRoundTrip(t *testing.T) {
	c, _ := newLoopbackCodec()
	w, end := c.BeginWrite()
	if err := WriteString(w, "hello desktop"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := end(); err != nil {
		t.Fatalf("end: %v", err)
	}
	got, err := c.ReadString(0)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if got != "hello desktop" {
		t.Fatalf("got %q, want %q", got, "hello desktop")
	}
}

func TestReadStringRejectsOverBound(t *testing.T) {
	c, _ := newLoopbackCodec()
	w, end := c.BeginWrite()
	_ = WriteString(w, "this is too long for the bound")
	_ = end()
	if _, err := c.ReadString(4); err == nil {
		t.Fatal("expected bound violation error")
	}
}

func TestPixelFormatRoundTrip(t *testing.T) {
	pf := &types.PixelFormat{
		BPP: 32, Depth: 24, BigEndian: 0, TrueColour: 1,
		RedMax: 0xff, GreenMax: 0xff, BlueMax: 0xff,
		RedShift: 0, GreenShift: 8, BlueShift: 16,
	}
	encoded := EncodePixelFormat(pf)
	if len(encoded) != 16 {
		t.Fatalf("encoded pixel format length = %d, want 16", len(encoded))
	}
	decoded := DecodePixelFormat(encoded)
	if *decoded != *pf {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, pf)
	}
}

func TestRectangleRoundTrip(t *testing.T) {
	c, _ := newLoopbackCodec()
	want := types.Rectangle{X: 10, Y: 20, Width: 100, Height: 50}
	w, end := c.BeginWrite()
	if err := WriteRectangle(w, want); err != nil {
		t.Fatalf("WriteRectangle: %v", err)
	}
	if err := end(); err != nil {
		t.Fatalf("end: %v", err)
	}
	got, err := c.ReadRectangle()
	if err != nil {
		t.Fatalf("ReadRectangle: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestWriteLockedIsAtomicAcrossGoroutines(t *testing.T) {
	c, buf := newLoopbackCodec()
	done := make(chan struct{})
	go func() {
		_ = c.WriteLocked([]byte("AAAA"))
		done <- struct{}{}
	}()
	_ = c.WriteLocked([]byte("BBBB"))
	<-done

	out := buf.Bytes()
	if len(out) != 8 {
		t.Fatalf("expected 8 bytes total, got %d", len(out))
	}
	// Each 4-byte message must appear whole, never interleaved.
	if string(out[0:4]) != "AAAA" && string(out[0:4]) != "BBBB" {
		t.Fatalf("messages interleaved: %q", out)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := newLoopbackCodec()
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !c.IsClosed() {
		t.Fatal("IsClosed should report true after Close")
	}
}
