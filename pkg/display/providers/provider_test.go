package providers

import (
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

type fakeBackend struct {
	startErr    error
	frame       *image.RGBA
	captureErr  error
	startWidth  int
	startHeight int
	closed      bool
}

func (f *fakeBackend) Start(width, height int) error {
	f.startWidth, f.startHeight = width, height
	return f.startErr
}
func (f *fakeBackend) CaptureRGBA() (*image.RGBA, error) { return f.frame, f.captureErr }
func (f *fakeBackend) Close() error                      { f.closed = true; return nil }

func TestNewSourceStartsBackendAndDefaultsFormat(t *testing.T) {
	b := &fakeBackend{}
	src, err := NewSource(b, 640, 480, nil, "desktop")
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if b.startWidth != 640 || b.startHeight != 480 {
		t.Fatalf("backend started with %dx%d, want 640x480", b.startWidth, b.startHeight)
	}
	if src.format != types.DefaultPixelFormat {
		t.Fatal("expected the default pixel format when nil is passed")
	}
}

func TestNewSourcePropagatesStartError(t *testing.T) {
	b := &fakeBackend{startErr: fmt.Errorf("no display")}
	if _, err := NewSource(b, 640, 480, nil, "desktop"); err == nil {
		t.Fatal("expected Start error to propagate")
	}
}

func TestCaptureReturnsErrorWhenNoFrameYet(t *testing.T) {
	b := &fakeBackend{}
	src, err := NewSource(b, 4, 4, nil, "desktop")
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if _, err := src.Capture(); err == nil {
		t.Fatal("expected an error when the backend has produced no frame yet")
	}
}

func TestCaptureConvertsFrame(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	b := &fakeBackend{frame: img}
	src, err := NewSource(b, 2, 2, nil, "desktop")
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	fb, err := src.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if fb.Width != 2 || fb.Height != 2 {
		t.Fatalf("framebuffer = %dx%d, want 2x2", fb.Width, fb.Height)
	}
	if fb.Name != "desktop" {
		t.Fatalf("framebuffer name = %q, want %q", fb.Name, "desktop")
	}
}

func TestCloseReleasesBackend(t *testing.T) {
	b := &fakeBackend{}
	src, _ := NewSource(b, 1, 1, nil, "")
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !b.closed {
		t.Fatal("expected the backend to be closed")
	}
}

func TestNewBackendRecognizesProviders(t *testing.T) {
	if _, ok := NewBackend(ProviderScreenCapture).(*ScreenCapture); !ok {
		t.Fatal("expected a *ScreenCapture for ProviderScreenCapture")
	}
	if _, ok := NewBackend(ProviderGstreamer).(*Gstreamer); !ok {
		t.Fatal("expected a *Gstreamer for ProviderGstreamer")
	}
	if b := NewBackend("bogus"); b != nil {
		t.Fatal("expected nil for an unrecognized provider name")
	}
}
