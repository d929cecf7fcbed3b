// Package pixelcopy converts a rectangular sub-region of one pixel buffer
// into another, re-encoding pixel format when source and destination
// differ. It is grounded on the channel max/shift conversion in the
// teacher's pkg/rfb/encodings/util.go, generalized from an image.RGBA
// source to an arbitrary byte-buffer source so it can serve both the
// framebuffer cache's raw-rectangle encoder and the pixel-source providers
// that must cross from image.RGBA into a types.Framebuffer.
package pixelcopy

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

// Copy copies the rectangle region from src (width srcWidth, stride
// srcStride, format srcFormat) into dst (width dstWidth, stride dstStride,
// format dstFormat) at destination offset (dstX, dstY), converting pixel
// format if srcFormat != dstFormat. Region is rejected if it falls outside
// the source bounds, or the placed copy falls outside the destination
// bounds, implied by the stride/width pairs callers provide.
func Copy(src []byte, srcWidth, srcStride int, srcFormat *types.PixelFormat,
	region types.Rectangle,
	dst []byte, dstWidth, dstStride int, dstFormat *types.PixelFormat,
	dstX, dstY int) error {

	if region.Empty() {
		return nil
	}
	srcBPP := srcFormat.BytesPerPixel()
	dstBPP := dstFormat.BytesPerPixel()

	if int(region.X)+int(region.Width) > srcWidth {
		return fmt.Errorf("pixelcopy: region exceeds source width: %+v vs width=%d", region, srcWidth)
	}
	if dstX+int(region.Width) > dstWidth {
		return fmt.Errorf("pixelcopy: placed region exceeds destination width: dstX=%d width=%d vs width=%d", dstX, region.Width, dstWidth)
	}
	rowBytesSrc := int(region.Width) * srcBPP
	rowBytesDst := int(region.Width) * dstBPP

	sameFormat := *srcFormat == *dstFormat
	for row := 0; row < int(region.Height); row++ {
		srcY := int(region.Y) + row
		curDstY := dstY + row
		srcOff := srcY*srcStride + int(region.X)*srcBPP
		dstOff := curDstY*dstStride + dstX*dstBPP
		if srcOff+rowBytesSrc > len(src) {
			return fmt.Errorf("pixelcopy: source row out of range at y=%d", srcY)
		}
		if dstOff+rowBytesDst > len(dst) {
			return fmt.Errorf("pixelcopy: destination row out of range at y=%d", curDstY)
		}
		srcRow := src[srcOff : srcOff+rowBytesSrc]
		dstRow := dst[dstOff : dstOff+rowBytesDst]

		if sameFormat {
			copy(dstRow, srcRow)
			continue
		}
		for x := 0; x < int(region.Width); x++ {
			r, g, b := decodePixel(srcRow[x*srcBPP:(x+1)*srcBPP], srcFormat)
			encodePixel(dstRow[x*dstBPP:(x+1)*dstBPP], dstFormat, r, g, b)
		}
	}
	return nil
}

// decodePixel reads one pixel word (respecting the format's endianness and
// BPP) and extracts 8-bit-normalized R, G, B channel values.
func decodePixel(word []byte, f *types.PixelFormat) (r, g, b uint8) {
	v := readWord(word, f)
	r = normalize(uint16((v>>uint(f.RedShift))&uint32(f.RedMax)), f.RedMax)
	g = normalize(uint16((v>>uint(f.GreenShift))&uint32(f.GreenMax)), f.GreenMax)
	b = normalize(uint16((v>>uint(f.BlueShift))&uint32(f.BlueMax)), f.BlueMax)
	return
}

// encodePixel packs 8-bit R, G, B into one pixel word of the destination
// format and writes it in that format's endianness.
func encodePixel(dst []byte, f *types.PixelFormat, r, g, b uint8) {
	rv := denormalize(r, f.RedMax)
	gv := denormalize(g, f.GreenMax)
	bv := denormalize(b, f.BlueMax)
	v := (uint32(rv) << uint(f.RedShift)) | (uint32(gv) << uint(f.GreenShift)) | (uint32(bv) << uint(f.BlueShift))
	writeWord(dst, f, v)
}

func readWord(word []byte, f *types.PixelFormat) uint32 {
	order := byteOrder(f)
	switch f.BPP {
	case 8:
		return uint32(word[0])
	case 16:
		return uint32(order.Uint16(word))
	default: // 32
		return order.Uint32(word)
	}
}

func writeWord(dst []byte, f *types.PixelFormat, v uint32) {
	order := byteOrder(f)
	switch f.BPP {
	case 8:
		dst[0] = byte(v)
	case 16:
		order.PutUint16(dst, uint16(v))
	default: // 32
		order.PutUint32(dst, v)
	}
}

func byteOrder(f *types.PixelFormat) binary.ByteOrder {
	if f.BigEndian != 0 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// normalize maps a channel value whose max is max into an 8-bit value.
func normalize(v, max uint16) uint8 {
	if max == 0 {
		return 0
	}
	return uint8((uint32(v) * 255) / uint32(max))
}

// denormalize maps an 8-bit channel value into a channel whose max is max.
func denormalize(v uint8, max uint16) uint16 {
	if max == 0 {
		return 0
	}
	return uint16((uint32(v) * uint32(max)) / 255)
}

// FromRGBA converts an image.RGBA frame into a freshly allocated
// types.Framebuffer in dstFormat. Used only by pixel-source providers
// crossing from the image library their capture backend returns into the
// wire-neutral framebuffer type; the core protocol path never touches
// image.RGBA.
func FromRGBA(img *image.RGBA, dstFormat *types.PixelFormat, name string) *types.Framebuffer {
	b := img.Bounds()
	fb := types.NewFramebuffer(b.Dx(), b.Dy(), dstFormat, name)
	dstBPP := dstFormat.BytesPerPixel()
	for y := 0; y < b.Dy(); y++ {
		srcRow := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		dstRow := fb.Pix[y*fb.Stride : y*fb.Stride+b.Dx()*dstBPP]
		for x := 0; x < b.Dx(); x++ {
			px := srcRow[x*4 : x*4+4]
			encodePixel(dstRow[x*dstBPP:(x+1)*dstBPP], dstFormat, px[0], px[1], px[2])
		}
	}
	return fb
}

// ToRGBA converts a types.Framebuffer back into an image.RGBA, e.g. for
// callers that want to hand captured pixels to an image-based codec.
func ToRGBA(fb *types.Framebuffer) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, fb.Width, fb.Height))
	bpp := fb.Format.BytesPerPixel()
	for y := 0; y < fb.Height; y++ {
		srcRow := fb.Pix[y*fb.Stride : y*fb.Stride+fb.Width*bpp]
		dstRow := img.Pix[y*img.Stride : y*img.Stride+fb.Width*4]
		for x := 0; x < fb.Width; x++ {
			r, g, b := decodePixel(srcRow[x*bpp:(x+1)*bpp], fb.Format)
			dstRow[x*4+0] = r
			dstRow[x*4+1] = g
			dstRow[x*4+2] = b
			dstRow[x*4+3] = 0xff
		}
	}
	return img
}
