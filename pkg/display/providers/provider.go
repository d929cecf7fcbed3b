// Package providers adapts pixel-capture backends (a periodic screenshot
// via robotgo, a gstreamer capture pipeline) to the rfb.PixelSource
// contract: pull one *types.Framebuffer per call, synchronously, on
// whichever goroutine calls Capture.
package providers

import (
	"fmt"
	"image"

	"github.com/kamrankamilli/gsvnc/pkg/rfb/pixelcopy"
	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

// Backend captures a single RGBA frame of the requested size on demand.
// Implementations own whatever continuous capture process they need
// (a goroutine polling robotgo, a running gstreamer pipeline) but expose
// only a synchronous pull.
type Backend interface {
	Start(width, height int) error
	CaptureRGBA() (*image.RGBA, error)
	Close() error
}

// Provider selects a Backend implementation by name.
type Provider string

const (
	ProviderGstreamer     Provider = "gstreamer"
	ProviderScreenCapture Provider = "screencap"
)

// NewBackend returns the Backend for the given provider name, or nil if
// unrecognized.
func NewBackend(p Provider) Backend {
	switch p {
	case ProviderGstreamer:
		return &Gstreamer{}
	case ProviderScreenCapture:
		return &ScreenCapture{}
	default:
		return nil
	}
}

// Source adapts a Backend to rfb.PixelSource, converting each captured
// frame into a format-agnostic types.Framebuffer via pixelcopy.FromRGBA.
type Source struct {
	backend Backend
	format  *types.PixelFormat
	name    string
	width   int
	height  int
}

// NewSource starts backend at width x height and wraps it as a PixelSource
// producing framebuffers in format, named name (used as the RFB desktop
// name sent during ServerInit).
func NewSource(backend Backend, width, height int, format *types.PixelFormat, name string) (*Source, error) {
	if format == nil {
		format = types.DefaultPixelFormat
	}
	if err := backend.Start(width, height); err != nil {
		return nil, err
	}
	return &Source{backend: backend, format: format, name: name, width: width, height: height}, nil
}

// Capture implements rfb.PixelSource.
func (s *Source) Capture() (*types.Framebuffer, error) {
	img, err := s.backend.CaptureRGBA()
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("providers: backend produced no frame yet")
	}
	return pixelcopy.FromRGBA(img, s.format, s.name), nil
}

// Close releases the underlying backend.
func (s *Source) Close() error { return s.backend.Close() }
