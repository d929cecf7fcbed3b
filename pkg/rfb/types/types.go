// Package types holds the wire-level value types shared across the rfb
// packages: pixel formats, rectangles, framebuffers and the client request
// structs read off the wire by pkg/rfb's dispatch loop.
package types

import "sync"

// PixelFormat is the 16-byte RFB PIXEL_FORMAT structure.
type PixelFormat struct {
	BPP        uint8
	Depth      uint8
	BigEndian  uint8
	TrueColour uint8
	RedMax     uint16
	GreenMax   uint16
	BlueMax    uint16
	RedShift   uint8
	GreenShift uint8
	BlueShift  uint8
	_          [3]byte // padding
}

// BytesPerPixel returns BPP/8.
func (f *PixelFormat) BytesPerPixel() int { return int(f.BPP) / 8 }

// DefaultPixelFormat is the format advertised for a freshly captured
// framebuffer absent any client preference: 32bpp true-colour, 8-8-8,
// little-endian (matches what image.RGBA-backed providers produce without
// a conversion pass).
var DefaultPixelFormat = &PixelFormat{
	BPP:        32,
	Depth:      24,
	BigEndian:  0,
	TrueColour: 1,
	RedMax:     0xff,
	GreenMax:   0xff,
	BlueMax:    0xff,
	RedShift:   0,
	GreenShift: 8,
	BlueShift:  16,
}

// Rectangle is the four-field RFB rectangle geometry: x, y, width, height.
type Rectangle struct {
	X, Y, Width, Height uint16
}

// Empty reports whether the rectangle covers zero area.
func (r Rectangle) Empty() bool { return r.Width == 0 || r.Height == 0 }

// Intersect clamps r to the [0,0,w,h) extent, returning an empty rectangle
// if there is no overlap.
func (r Rectangle) Intersect(w, h uint16) Rectangle {
	if r.X >= w || r.Y >= h {
		return Rectangle{}
	}
	out := r
	if int(out.X)+int(out.Width) > int(w) {
		out.Width = w - out.X
	}
	if int(out.Y)+int(out.Height) > int(h) {
		out.Height = h - out.Y
	}
	return out
}

// Encoding is an RFB encoding type tag, signed per the protocol (pseudo
// encodings use negative values).
type Encoding int32

const (
	EncodingRaw               Encoding = 0
	EncodingCopyRect          Encoding = 1
	EncodingPseudoDesktopSize Encoding = -223
)

// UpdateRectangle is one accumulated rectangle of an outbound
// FramebufferUpdate: geometry, encoding tag, and its already-encoded payload.
type UpdateRectangle struct {
	Region   Rectangle
	Encoding Encoding
	Payload  []byte
}

// Framebuffer is the tuple described by the data model: immutable
// dimensions/format/stride for a given instance, with a mutable pixel
// buffer guarded by SyncRoot. Replacement framebuffers (e.g. after a
// source resize) are new instances, never mutated in place.
type Framebuffer struct {
	Width, Height int
	Stride        int
	Format        *PixelFormat
	Name          string
	Pix           []byte

	SyncRoot sync.Mutex
}

// NewFramebuffer allocates a framebuffer of the given geometry and format
// with a zeroed pixel buffer sized stride*height.
func NewFramebuffer(width, height int, format *PixelFormat, name string) *Framebuffer {
	stride := width * format.BytesPerPixel()
	return &Framebuffer{
		Width:  width,
		Height: height,
		Stride: stride,
		Format: format,
		Name:   name,
		Pix:    make([]byte, stride*height),
	}
}

// FramebufferUpdateRequest is the client's request for a framebuffer
// update: whether it already has a prior image (Incremental) and the
// region it wants refreshed.
type FramebufferUpdateRequest struct {
	Incremental bool
	Region      Rectangle
}

// KeyEvent is a client KeyEvent message.
type KeyEvent struct {
	Pressed bool
	Keysym  uint32
}

// PointerEvent is a client PointerEvent message.
type PointerEvent struct {
	ButtonMask uint8
	X, Y       uint16
}

// ClientCutText is a client clipboard-change notification.
type ClientCutText struct {
	Text string
}
