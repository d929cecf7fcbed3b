package encodings

import (
	"testing"

	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

func TestEncodeRawSameFormatIsByteIdentical(t *testing.T) {
	fb := types.NewFramebuffer(2, 2, types.DefaultPixelFormat, "")
	for i := range fb.Pix {
		fb.Pix[i] = byte(i + 1)
	}
	region := types.Rectangle{Width: 2, Height: 2}
	got := EncodeRaw(fb, region, types.DefaultPixelFormat)
	bpp := types.DefaultPixelFormat.BytesPerPixel()
	if len(got) != 2*2*bpp {
		t.Fatalf("payload length = %d, want %d", len(got), 2*2*bpp)
	}
	for row := 0; row < 2; row++ {
		rowBytes := 2 * bpp
		srcOff := row * fb.Stride
		want := fb.Pix[srcOff : srcOff+rowBytes]
		dstOff := row * rowBytes
		gotRow := got[dstOff : dstOff+rowBytes]
		for i := range want {
			if gotRow[i] != want[i] {
				t.Fatalf("row %d mismatch: got %v, want %v", row, gotRow, want)
			}
		}
	}
}

func TestEncodeRawConvertsToClientFormat(t *testing.T) {
	fb := types.NewFramebuffer(1, 1, types.DefaultPixelFormat, "")
	// Full-white pixel in the default 32bpp format.
	for i := 0; i < fb.Format.BytesPerPixel(); i++ {
		fb.Pix[i] = 0xff
	}

	client16 := &types.PixelFormat{
		BPP: 16, Depth: 16, BigEndian: 0, TrueColour: 1,
		RedMax: 0x1f, GreenMax: 0x3f, BlueMax: 0x1f,
		RedShift: 11, GreenShift: 5, BlueShift: 0,
	}
	region := types.Rectangle{Width: 1, Height: 1}
	got := EncodeRaw(fb, region, client16)
	if len(got) != 2 {
		t.Fatalf("payload length = %d, want 2 for a 16bpp client format", len(got))
	}
	// Full white in 16bpp 565 packs to 0xffff regardless of channel rounding.
	if got[0] != 0xff || got[1] != 0xff {
		t.Fatalf("converted pixel bytes = %v, want [0xff 0xff]", got)
	}
}

func TestEncodeRawDefaultsToFramebufferFormatWhenClientFormatNil(t *testing.T) {
	fb := types.NewFramebuffer(1, 1, types.DefaultPixelFormat, "")
	fb.Pix[0] = 0x11
	region := types.Rectangle{Width: 1, Height: 1}
	got := EncodeRaw(fb, region, nil)
	if len(got) != fb.Format.BytesPerPixel() {
		t.Fatalf("payload length = %d, want %d", len(got), fb.Format.BytesPerPixel())
	}
}
