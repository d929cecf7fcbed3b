package rfb

import (
	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

const (
	msgSetPixelFormat         = 0
	msgSetEncodings           = 2
	msgFramebufferUpdateReq   = 3
	msgKeyEvent               = 4
	msgPointerEvent           = 5
	msgClientCutText          = 6
	maxSetEncodingsCount      = 511
	maxClientCutTextLen       = 0x00FFFFFF
)

// dispatchLoop is the reader thread: read one message-type byte, dispatch
// to its handler, repeat until the stream fails or an unrecognized type
// arrives. Client messages are processed strictly in arrival order because
// this is the only goroutine reading them.
func (s *Session) dispatchLoop() error {
	for {
		cmd, err := s.codec.ReadByte()
		if err != nil {
			return newErr("dispatch", Transport, "failed to read message type", err)
		}
		if err := s.dispatchOne(cmd); err != nil {
			return err
		}
	}
}

func (s *Session) dispatchOne(cmd byte) error {
	switch cmd {
	case msgSetPixelFormat:
		return s.handleSetPixelFormat()
	case msgSetEncodings:
		return s.handleSetEncodings()
	case msgFramebufferUpdateReq:
		return s.handleFramebufferUpdateRequest()
	case msgKeyEvent:
		return s.handleKeyEvent()
	case msgPointerEvent:
		return s.handlePointerEvent()
	case msgClientCutText:
		return s.handleClientCutText()
	default:
		return newErr("dispatch", UnrecognizedProtocolElement, "unknown client message type", nil)
	}
}

func (s *Session) handleSetPixelFormat() error {
	if err := s.codec.SkipPadding(3); err != nil {
		return newErr("dispatch.SetPixelFormat", Transport, "failed to read padding", err)
	}
	pf, err := s.codec.ReadPixelFormat()
	if err != nil {
		return newErr("dispatch.SetPixelFormat", Transport, "failed to read pixel format", err)
	}
	s.fbuSync.Lock()
	s.clientPixelFormat = pf
	s.fbuSync.Unlock()
	return nil
}

func (s *Session) handleSetEncodings() error {
	if err := s.codec.SkipPadding(1); err != nil {
		return newErr("dispatch.SetEncodings", Transport, "failed to read padding", err)
	}
	count, err := s.codec.ReadUint16()
	if err != nil {
		return newErr("dispatch.SetEncodings", Transport, "failed to read encoding count", err)
	}
	if count > maxSetEncodingsCount {
		return newErr("dispatch.SetEncodings", SanityCheck, "encoding count exceeds sanity cap", nil)
	}
	encs := make([]int32, count)
	for i := range encs {
		v, err := s.codec.ReadInt32()
		if err != nil {
			return newErr("dispatch.SetEncodings", Transport, "failed to read encoding tag", err)
		}
		encs[i] = v
	}
	s.fbuSync.Lock()
	s.clientEncodings = encs
	s.fbuSync.Unlock()
	s.log.Debugf("client encodings: %v", encs)
	return nil
}

func (s *Session) handleFramebufferUpdateRequest() error {
	incrementalByte, err := s.codec.ReadByte()
	if err != nil {
		return newErr("dispatch.FramebufferUpdateRequest", Transport, "failed to read incremental flag", err)
	}
	region, err := s.codec.ReadRectangle()
	if err != nil {
		return newErr("dispatch.FramebufferUpdateRequest", Transport, "failed to read region", err)
	}

	s.fbuSync.Lock()
	fbW, fbH := s.framebufferExtentLocked()
	clamped := region.Intersect(fbW, fbH)
	if !clamped.Empty() {
		s.pendingRequest = &types.FramebufferUpdateRequest{
			Incremental: incrementalByte != 0,
			Region:      clamped,
		}
	}
	s.fbuSync.Unlock()

	s.FramebufferChanged()
	return nil
}

// framebufferExtentLocked must be called with fbuSync held.
func (s *Session) framebufferExtentLocked() (w, h uint16) {
	if s.framebuffer == nil {
		return 0, 0
	}
	return uint16(s.framebuffer.Width), uint16(s.framebuffer.Height)
}

func (s *Session) handleKeyEvent() error {
	pressedByte, err := s.codec.ReadByte()
	if err != nil {
		return newErr("dispatch.KeyEvent", Transport, "failed to read pressed flag", err)
	}
	if err := s.codec.SkipPadding(2); err != nil {
		return newErr("dispatch.KeyEvent", Transport, "failed to read padding", err)
	}
	keysym, err := s.codec.ReadUint32()
	if err != nil {
		return newErr("dispatch.KeyEvent", Transport, "failed to read keysym", err)
	}
	if s.handlers.KeyChanged != nil {
		s.handlers.KeyChanged(keysym, pressedByte != 0)
	}
	return nil
}

func (s *Session) handlePointerEvent() error {
	mask, err := s.codec.ReadByte()
	if err != nil {
		return newErr("dispatch.PointerEvent", Transport, "failed to read button mask", err)
	}
	x, err := s.codec.ReadUint16()
	if err != nil {
		return newErr("dispatch.PointerEvent", Transport, "failed to read x", err)
	}
	y, err := s.codec.ReadUint16()
	if err != nil {
		return newErr("dispatch.PointerEvent", Transport, "failed to read y", err)
	}
	if s.handlers.PointerChanged != nil {
		s.handlers.PointerChanged(x, y, mask)
	}
	return nil
}

func (s *Session) handleClientCutText() error {
	if err := s.codec.SkipPadding(3); err != nil {
		return newErr("dispatch.ClientCutText", Transport, "failed to read padding", err)
	}
	text, err := s.codec.ReadString(maxClientCutTextLen)
	if err != nil {
		return newErr("dispatch.ClientCutText", UnrecognizedProtocolElement, "failed to read clipboard text", err)
	}
	if s.handlers.RemoteClipboardChanged != nil {
		s.handlers.RemoteClipboardChanged(text)
	}
	return nil
}
