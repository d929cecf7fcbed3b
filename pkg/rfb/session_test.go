package rfb

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

type stubSource struct{ fb *types.Framebuffer }

func (s *stubSource) Capture() (*types.Framebuffer, error) { return s.fb, nil }

func mustWrite(t *testing.T, w io.Writer, b []byte) {
	t.Helper()
	if _, err := w.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func mustRead(t *testing.T, r io.Reader, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

// driveHandshake plays the client side of version/security/desktop-init
// negotiation over client, assuming AuthNone. Returns the advertised
// width/height.
func driveHandshake(t *testing.T, client net.Conn) (width, height uint16) {
	t.Helper()
	_ = mustRead(t, client, 12) // server version banner
	mustWrite(t, client, []byte("RFB 003.008\n"))

	count := mustRead(t, client, 1)[0]
	if count == 0 {
		t.Fatal("server offered zero security types")
	}
	secTypes := mustRead(t, client, int(count))
	mustWrite(t, client, []byte{secTypes[0]})

	result := mustRead(t, client, 4)
	if binary.BigEndian.Uint32(result) != 0 {
		t.Fatal("security negotiation failed")
	}

	mustWrite(t, client, []byte{0}) // non-shared

	width = binary.BigEndian.Uint16(mustRead(t, client, 2))
	height = binary.BigEndian.Uint16(mustRead(t, client, 2))
	_ = mustRead(t, client, 16) // pixel format
	nameLen := binary.BigEndian.Uint32(mustRead(t, client, 4))
	_ = mustRead(t, client, int(nameLen))
	return
}

func newTestSessionPair(t *testing.T, handlers Handlers) (net.Conn, *Session) {
	t.Helper()
	serverConn, client := net.Pipe()

	fb := types.NewFramebuffer(8, 6, types.DefaultPixelFormat, "test-desktop")
	for i := range fb.Pix {
		fb.Pix[i] = 0x42 // non-zero so the cache's zeroed shadow reports every line dirty
	}
	s := New(Options{Handlers: handlers, MaxUpdateRate: 1000})
	s.SetFramebufferSource(&stubSource{fb: fb})

	go func() { _ = s.Serve(serverConn) }()
	return client, s
}

func TestHandshakeNoAuthReachesRunning(t *testing.T) {
	connected := make(chan struct{})
	client, s := newTestSessionPair(t, Handlers{
		Connected: func() { close(connected) },
	})
	defer client.Close()

	width, height := driveHandshake(t, client)
	if width != 8 || height != 6 {
		t.Fatalf("got %dx%d, want 8x6", width, height)
	}

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("Connected handler never fired")
	}
	if s.Phase() != Running {
		t.Fatalf("phase = %v, want Running", s.Phase())
	}
}

func TestFramebufferUpdateRequestProducesRawRectangle(t *testing.T) {
	client, _ := newTestSessionPair(t, Handlers{})
	defer client.Close()
	driveHandshake(t, client)

	// FramebufferUpdateRequest: type=3, incremental=0, x=0,y=0,w=8,h=6
	req := []byte{3, 0, 0, 0, 0, 0, 0, 8, 0, 6}
	mustWrite(t, client, req)

	msgType := mustRead(t, client, 1)[0]
	if msgType != 0 {
		t.Fatalf("message type = %d, want 0 (FramebufferUpdate)", msgType)
	}
	_ = mustRead(t, client, 1) // padding
	numRects := binary.BigEndian.Uint16(mustRead(t, client, 2))
	if numRects != 1 {
		t.Fatalf("numRects = %d, want 1", numRects)
	}
	header := mustRead(t, client, 12) // x,y,w,h,encoding
	w := binary.BigEndian.Uint16(header[4:6])
	h := binary.BigEndian.Uint16(header[6:8])
	encoding := int32(binary.BigEndian.Uint32(header[8:12]))
	if w != 8 || h != 6 {
		t.Fatalf("rectangle = %dx%d, want 8x6", w, h)
	}
	if encoding != 0 {
		t.Fatalf("encoding = %d, want 0 (Raw)", encoding)
	}
	bpp := types.DefaultPixelFormat.BytesPerPixel()
	_ = mustRead(t, client, int(w)*int(h)*bpp)
}

func TestUnrecognizedMessageTypeClosesSession(t *testing.T) {
	closed := make(chan struct{})
	client, _ := newTestSessionPair(t, Handlers{
		SessionClosed: func() { close(closed) },
	})
	defer client.Close()
	driveHandshake(t, client)

	mustWrite(t, client, []byte{0xfe})

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("SessionClosed handler never fired after unrecognized message")
	}
}

func TestCloseFromWithinHandlerDoesNotDeadlock(t *testing.T) {
	var s *Session
	client, s := newTestSessionPair(t, Handlers{
		KeyChanged: func(keysym uint32, pressed bool) {
			if err := s.Close(); err != nil {
				t.Errorf("Close from within KeyChanged: %v", err)
			}
		},
	})
	defer client.Close()
	driveHandshake(t, client)

	// KeyEvent: type=4, pressed=1, padding(2), keysym=0x41
	mustWrite(t, client, []byte{4, 1, 0, 0, 0, 0, 0, 0x41})

	done := make(chan struct{})
	go func() {
		s.Close() // should return promptly, not self-join
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close from outside the session never returned after the handler closed it")
	}
}

func TestSetMaxUpdateRateRejectsNonPositive(t *testing.T) {
	s := New(Options{})
	if err := s.SetMaxUpdateRate(0); err == nil {
		t.Fatal("expected an error for rate=0")
	}
	if err := s.SetMaxUpdateRate(-5); err == nil {
		t.Fatal("expected an error for a negative rate")
	}
	if got := s.MaxUpdateRate(); got != 15 {
		t.Fatalf("rate should remain at the default 15, got %v", got)
	}
}
