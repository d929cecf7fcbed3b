// Package encodings implements the rectangle encoders the core supports:
// Raw, CopyRect and the PseudoDesktopSize pseudo-encoding. The teacher's
// Tight/Tight+PNG encoders (the only place it used image/jpeg and
// image/png) are dropped here — lossy encoding is explicitly out of scope
// — without losing any third-party dependency, since both only wrapped
// standard-library image codecs.
package encodings

import (
	"github.com/kamrankamilli/gsvnc/pkg/rfb/pixelcopy"
	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

// Code is the RFB wire tag for an encoding the core supports.
const (
	Raw               = int32(types.EncodingRaw)
	CopyRect          = int32(types.EncodingCopyRect)
	PseudoDesktopSize = int32(types.EncodingPseudoDesktopSize)
)

// EncodeRaw packs the pixel bytes of region out of fb, converting from the
// framebuffer's native format into clientFormat via pixelcopy.Copy so the
// wire payload is always in the format the client negotiated with
// SetPixelFormat, row-major with no inter-row padding.
func EncodeRaw(fb *types.Framebuffer, region types.Rectangle, clientFormat *types.PixelFormat) []byte {
	if clientFormat == nil {
		clientFormat = fb.Format
	}
	bpp := clientFormat.BytesPerPixel()
	rowBytes := int(region.Width) * bpp
	out := make([]byte, int(region.Height)*rowBytes)

	// out is packed with no inter-row padding, so its stride equals one row
	// and the placed copy starts at (0,0) regardless of region's offset
	// within fb.
	_ = pixelcopy.Copy(fb.Pix, fb.Width, fb.Stride, fb.Format,
		region, out, int(region.Width), rowBytes, clientFormat, 0, 0)
	return out
}

// EncodeCopyRect packs the 4-byte (srcX, srcY) CopyRect payload.
func EncodeCopyRect(srcX, srcY uint16) []byte {
	return []byte{byte(srcX >> 8), byte(srcX), byte(srcY >> 8), byte(srcY)}
}
