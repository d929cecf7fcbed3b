package rfb

import (
	"github.com/kamrankamilli/gsvnc/pkg/buffer"
	"github.com/kamrankamilli/gsvnc/pkg/rfb/encodings"
	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

// maxRectanglesBeforeFlush reserves one slot (of the 16-bit count's 65535
// max) for a possible PseudoDesktopSize rectangle prepended at EndUpdate
// time, per the rectangle-count overflow policy.
const maxRectanglesBeforeFlush = 65534

// produceUpdate is the scheduler action: under the update-request lock,
// capture if needed, notify the embedder, and either let it supply
// rectangles directly or fall back to the auto cache's line diff. Returns
// true iff a FramebufferUpdate message was actually sent — the signal the
// scheduler uses to decide whether to keep polling at MaxUpdateRate or
// drop to waiting on Signal alone.
func (s *Session) produceUpdate() bool {
	s.schedulerActive.Store(true)
	defer s.schedulerActive.Store(false)

	s.fbuSync.Lock()
	defer s.fbuSync.Unlock()

	if s.pendingRequest == nil {
		return false
	}

	if source := s.getFramebufferSource(); source != nil {
		fb, err := source.Capture()
		if err != nil {
			s.log.Errorf("framebuffer capture failed, retaining prior framebuffer: %v", err)
		} else if fb != nil {
			s.framebuffer = fb
		}
	}
	if s.framebuffer == nil {
		return false
	}

	if s.handlers.FramebufferCapturing != nil {
		s.handlers.FramebufferCapturing()
	}

	s.FramebufferManualBeginUpdate()

	handled := false
	if s.handlers.FramebufferUpdating != nil {
		handled = s.handlers.FramebufferUpdating(s)
	}

	if handled {
		return s.FramebufferManualEndUpdate()
	}

	if s.fbuAutoCache == nil || s.fbuAutoCache.Framebuffer() != s.framebuffer {
		s.fbuAutoCache = s.newCache(s.framebuffer, s.log)
	}
	return s.fbuAutoCache.RespondToUpdateRequest(s)
}

// --- fbcache.Session / embedder manual-assembly API ---
//
// These methods assume fbuSync is already held by the calling goroutine
// (always the scheduler thread, inside produceUpdate, including when
// called back into from a FramebufferUpdating handler or from the
// fbcache package). They are documented in §6 as "usable inside a
// FramebufferUpdating callback" — that is the only supported call site.

// PendingRequest returns the pending FramebufferUpdateRequest, if any.
func (s *Session) PendingRequest() (*types.FramebufferUpdateRequest, bool) {
	return s.pendingRequest, s.pendingRequest != nil
}

// CurrentFramebuffer returns the framebuffer currently bound to the session.
func (s *Session) CurrentFramebuffer() *types.Framebuffer { return s.framebuffer }

// FramebufferManualBeginUpdate starts a fresh accumulated rectangle batch.
func (s *Session) FramebufferManualBeginUpdate() {
	s.inManualUpdate = true
	s.pendingRectangles = s.pendingRectangles[:0]
}

// FramebufferManualInvalidate adds one Raw rectangle covering region,
// clamped to the framebuffer extent.
func (s *Session) FramebufferManualInvalidate(region types.Rectangle) {
	if s.framebuffer == nil {
		return
	}
	region = region.Intersect(uint16(s.framebuffer.Width), uint16(s.framebuffer.Height))
	if region.Empty() {
		return
	}
	s.addRectangle(types.UpdateRectangle{
		Region:   region,
		Encoding: types.EncodingRaw,
		Payload:  encodings.EncodeRaw(s.framebuffer, region, s.clientPixelFormat),
	})
}

// FramebufferManualInvalidateRegions invalidates each region in turn.
func (s *Session) FramebufferManualInvalidateRegions(regions []types.Rectangle) {
	for _, r := range regions {
		s.FramebufferManualInvalidate(r)
	}
}

// FramebufferManualInvalidateAll invalidates the whole framebuffer extent.
func (s *Session) FramebufferManualInvalidateAll() {
	if s.framebuffer == nil {
		return
	}
	s.FramebufferManualInvalidate(types.Rectangle{
		Width:  uint16(s.framebuffer.Width),
		Height: uint16(s.framebuffer.Height),
	})
}

// FramebufferManualCopyRegion implements the CopyRect choice of §4.5.3: if
// the client has advertised support for the CopyRect encoding, emit one
// CopyRect rectangle; otherwise fall back to raw invalidation of whichever
// of {the union of source and target} or {source and target separately}
// has the smaller total area, tie-breaking toward the union.
func (s *Session) FramebufferManualCopyRegion(target types.Rectangle, srcX, srcY uint16) {
	if s.framebuffer == nil {
		return
	}
	if s.clientSupportsEncoding(int32(types.EncodingCopyRect)) {
		s.addRectangle(types.UpdateRectangle{
			Region:   target,
			Encoding: types.EncodingCopyRect,
			Payload:  encodings.EncodeCopyRect(srcX, srcY),
		})
		return
	}

	source := types.Rectangle{X: srcX, Y: srcY, Width: target.Width, Height: target.Height}
	union := unionRectangle(source, target)
	unionArea := area(union)
	splitArea := area(source) + area(target)

	if splitArea < unionArea {
		s.FramebufferManualInvalidate(source)
		s.FramebufferManualInvalidate(target)
		return
	}
	s.FramebufferManualInvalidate(union)
}

// FramebufferManualEndUpdate implements steps 4-5 of §4.5.3: prepend a
// PseudoDesktopSize rectangle if the framebuffer's dimensions have
// diverged from what the client last saw and it advertised support for
// that pseudo-encoding, then send the accumulated batch (if non-empty)
// and clear the pending request. Returns true iff a message was sent.
func (s *Session) FramebufferManualEndUpdate() bool {
	s.inManualUpdate = false

	if s.framebuffer != nil {
		fbW, fbH := uint16(s.framebuffer.Width), uint16(s.framebuffer.Height)
		if (fbW != s.clientWidth || fbH != s.clientHeight) && s.clientSupportsEncoding(int32(types.EncodingPseudoDesktopSize)) {
			resize := types.UpdateRectangle{
				Region:   types.Rectangle{Width: fbW, Height: fbH},
				Encoding: types.EncodingPseudoDesktopSize,
				Payload:  nil,
			}
			s.pendingRectangles = append([]types.UpdateRectangle{resize}, s.pendingRectangles...)
			s.clientWidth, s.clientHeight = fbW, fbH
		}
	}

	if len(s.pendingRectangles) == 0 {
		return false
	}

	rects := s.pendingRectangles
	s.pendingRectangles = nil
	if err := s.sendFramebufferUpdate(rects); err != nil {
		s.log.Errorf("failed to send framebuffer update: %v", err)
		return false
	}
	s.pendingRequest = nil
	return true
}

// addRectangle appends rect to the current batch and, once the batch
// (rect included) has reached the overflow threshold, sends it as a
// complete message and starts a fresh batch, so the 16-bit
// rectangle-count field of any single message never overflows.
func (s *Session) addRectangle(rect types.UpdateRectangle) {
	s.pendingRectangles = append(s.pendingRectangles, rect)
	if len(s.pendingRectangles) >= maxRectanglesBeforeFlush {
		rects := s.pendingRectangles
		s.pendingRectangles = nil
		if err := s.sendFramebufferUpdate(rects); err != nil {
			s.log.Errorf("failed to flush overflowing rectangle batch: %v", err)
		}
	}
}

// sendFramebufferUpdate writes one complete FramebufferUpdate message
// (type 0) under the stream write lock.
func (s *Session) sendFramebufferUpdate(rects []types.UpdateRectangle) error {
	if len(rects) > 65535 {
		return newErr("update.send", SanityCheck, "rectangle count exceeds protocol limit", nil)
	}
	w, end := s.codec.BeginWrite()
	if err := buffer.WriteByte(w, 0); err != nil {
		end()
		return err
	}
	if err := buffer.WritePadding(w, 1); err != nil {
		end()
		return err
	}
	if err := buffer.WriteUint16(w, uint16(len(rects))); err != nil {
		end()
		return err
	}
	for _, r := range rects {
		if err := buffer.WriteRectangle(w, r.Region); err != nil {
			end()
			return err
		}
		if err := buffer.WriteInt32(w, int32(r.Encoding)); err != nil {
			end()
			return err
		}
		if len(r.Payload) > 0 {
			if _, err := w.Write(r.Payload); err != nil {
				end()
				return err
			}
		}
	}
	return end()
}

func (s *Session) clientSupportsEncoding(tag int32) bool {
	for _, e := range s.clientEncodings {
		if e == tag {
			return true
		}
	}
	return false
}

func unionRectangle(a, b types.Rectangle) types.Rectangle {
	minX, minY := min16(a.X, b.X), min16(a.Y, b.Y)
	maxX := max16(a.X+a.Width, b.X+b.Width)
	maxY := max16(a.Y+a.Height, b.Y+b.Height)
	return types.Rectangle{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

func area(r types.Rectangle) int { return int(r.Width) * int(r.Height) }

func min16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

func max16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}
