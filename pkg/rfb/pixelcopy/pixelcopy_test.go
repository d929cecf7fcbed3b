package pixelcopy

import (
	"image"
	"image/color"
	"testing"

	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

func TestCopySameFormatIsByteCopy(t *testing.T) {
	format := types.DefaultPixelFormat
	fb := types.NewFramebuffer(4, 4, format, "")
	for i := range fb.Pix {
		fb.Pix[i] = byte(i)
	}
	dst := make([]byte, len(fb.Pix))
	region := types.Rectangle{X: 1, Y: 1, Width: 2, Height: 2}

	if err := Copy(fb.Pix, fb.Width, fb.Stride, format, region, dst, fb.Width, fb.Stride, format, int(region.X), int(region.Y)); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	bpp := format.BytesPerPixel()
	for row := 0; row < 2; row++ {
		y := 1 + row
		off := y*fb.Stride + 1*bpp
		want := fb.Pix[off : off+2*bpp]
		got := dst[off : off+2*bpp]
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("row %d mismatch: got %v, want %v", row, got, want)
			}
		}
	}
}

func TestCopyRejectsOutOfBoundsRegion(t *testing.T) {
	format := types.DefaultPixelFormat
	fb := types.NewFramebuffer(4, 4, format, "")
	dst := make([]byte, len(fb.Pix))
	region := types.Rectangle{X: 2, Y: 0, Width: 10, Height: 1}

	if err := Copy(fb.Pix, fb.Width, fb.Stride, format, region, dst, fb.Width, fb.Stride, format, int(region.X), int(region.Y)); err == nil {
		t.Fatal("expected an out-of-bounds error")
	}
}

func TestFromRGBAToRGBARoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	img.Set(1, 1, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	fb := FromRGBA(img, types.DefaultPixelFormat, "test")
	back := ToRGBA(fb)

	r, g, b, _ := back.At(0, 0).RGBA()
	if r>>8 != 10 || g>>8 != 20 || b>>8 != 30 {
		t.Fatalf("pixel (0,0) = (%d,%d,%d), want (10,20,30)", r>>8, g>>8, b>>8)
	}
	r, g, b, _ = back.At(1, 1).RGBA()
	if r>>8 != 200 || g>>8 != 100 || b>>8 != 50 {
		t.Fatalf("pixel (1,1) = (%d,%d,%d), want (200,100,50)", r>>8, g>>8, b>>8)
	}
}

func TestCopyConvertsBetweenFormats(t *testing.T) {
	src32 := types.DefaultPixelFormat
	dst16 := &types.PixelFormat{
		BPP: 16, Depth: 16, BigEndian: 0, TrueColour: 1,
		RedMax: 0x1f, GreenMax: 0x3f, BlueMax: 0x1f,
		RedShift: 11, GreenShift: 5, BlueShift: 0,
	}
	srcFb := types.NewFramebuffer(1, 1, src32, "")
	encodePixel(srcFb.Pix, src32, 255, 255, 255)

	dst := make([]byte, 2)
	region := types.Rectangle{Width: 1, Height: 1}
	if err := Copy(srcFb.Pix, 1, srcFb.Stride, src32, region, dst, 1, 2, dst16, 0, 0); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	r, g, b := decodePixel(dst, dst16)
	if r != 255 || g != 255 || b != 255 {
		t.Fatalf("converted pixel = (%d,%d,%d), want full white", r, g, b)
	}
}
