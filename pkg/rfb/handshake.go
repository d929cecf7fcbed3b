package rfb

import (
	"bytes"

	"github.com/kamrankamilli/gsvnc/pkg/buffer"
)

// handshake drives the session through Version, Security and Desktop init
// in order, per §4.5.1. Any failure is fatal to the session.
func (s *Session) handshake() error {
	if err := s.negotiateVersion(); err != nil {
		return err
	}
	if err := s.negotiateSecurity(); err != nil {
		return err
	}
	if err := s.initDesktop(); err != nil {
		return err
	}
	return nil
}

func (s *Session) negotiateVersion() error {
	if err := s.codec.WriteVersion(defaultMajor, defaultMinor); err != nil {
		return newErr("handshake.version", Transport, "failed to send version banner", err)
	}
	major, minor, err := s.codec.ReadVersion()
	if err != nil {
		return newErr("handshake.version", Transport, "failed to read client version banner", err)
	}
	s.log.Infof("client offered version %d.%d", major, minor)
	s.clientMajor, s.clientMinor = major, minor
	s.setPhase(VersionNegotiated)
	return nil
}

// offeredSecurityTypes returns the methods the server offers given the
// negotiated client version: the empty set for anything but exactly 3.8,
// which forces the client into NoSupportedAuthenticationMethods below —
// this implementation only speaks 3.8's security negotiation.
func (s *Session) offeredSecurityTypes(major, minor int) []byte {
	if major != 3 || minor != 8 {
		return nil
	}
	switch s.authMethod {
	case AuthPassword:
		return []byte{secTypeVNCAuth}
	default:
		return []byte{secTypeNone}
	}
}

func (s *Session) negotiateSecurity() error {
	// The version read already happened in negotiateVersion; re-derive
	// which types to offer from what we stored there would need the
	// parsed version, so keep it around on the session long enough to use
	// here instead of re-reading the wire.
	offered := s.offeredSecurityTypes(s.clientMajor, s.clientMinor)

	w, end := s.codec.BeginWrite()
	if err := buffer.WriteByte(w, byte(len(offered))); err != nil {
		end()
		return newErr("handshake.security", Transport, "failed to send security type count", err)
	}
	for _, t := range offered {
		if err := buffer.WriteByte(w, t); err != nil {
			end()
			return newErr("handshake.security", Transport, "failed to send security type", err)
		}
	}
	if err := end(); err != nil {
		return newErr("handshake.security", Transport, "failed to flush security types", err)
	}
	if len(offered) == 0 {
		return newErr("handshake.security", NoSupportedAuthenticationMethods, "no security types available for negotiated client version", nil)
	}

	selected, err := s.codec.ReadByte()
	if err != nil {
		return newErr("handshake.security", Transport, "failed to read client security selection", err)
	}
	if !containsByte(offered, selected) {
		return newErr("handshake.security", UnrecognizedProtocolElement, "client selected an unoffered security type", nil)
	}

	if selected == secTypeVNCAuth {
		if err := s.runVNCAuth(); err != nil {
			return err
		}
	}

	if err := s.sendSecurityResult(true); err != nil {
		return err
	}

	s.phaseMu.Lock()
	s.pwLocked = true
	s.phase = SecurityNegotiated
	s.phaseMu.Unlock()
	return nil
}

func (s *Session) runVNCAuth() error {
	challenge, err := s.passwordChallenge.GenerateChallenge()
	if err != nil {
		return newErr("handshake.security.vncauth", SanityCheck, "password challenge provider failed", err)
	}
	if len(challenge) != challengeLength {
		return newErr("handshake.security.vncauth", SanityCheck, "password challenge must be 16 bytes", nil)
	}
	if err := s.codec.WriteLocked(challenge); err != nil {
		return newErr("handshake.security.vncauth", Transport, "failed to send challenge", err)
	}

	response := make([]byte, challengeLength)
	if err := s.codec.ReadFull(response); err != nil {
		return newErr("handshake.security.vncauth", Transport, "failed to read challenge response", err)
	}

	accept := false
	if s.handlers.PasswordProvided != nil {
		accept = s.handlers.PasswordProvided(challenge, response)
	}
	if !accept {
		_ = s.sendSecurityResult(false)
		return newErr("handshake.security.vncauth", AuthenticationFailed, "embedder rejected credentials", nil)
	}
	return nil
}

func (s *Session) sendSecurityResult(ok bool) error {
	status := uint32(1)
	if ok {
		status = 0
	}
	w, end := s.codec.BeginWrite()
	if err := buffer.WriteUint32(w, status); err != nil {
		end()
		return newErr("handshake.security.result", Transport, "failed to send security result", err)
	}
	return end()
}

func (s *Session) initDesktop() error {
	shared, err := s.codec.ReadByte()
	if err != nil {
		return newErr("handshake.desktop", Transport, "failed to read shared-desktop flag", err)
	}
	if s.handlers.CreatingDesktop != nil {
		s.handlers.CreatingDesktop(shared != 0)
	}

	source := s.getFramebufferSource()
	if source == nil {
		return newErr("handshake.desktop", SanityCheck, "no pixel source configured", nil)
	}
	fb, err := source.Capture()
	if err != nil || fb == nil {
		return newErr("handshake.desktop", SanityCheck, "initial framebuffer capture failed", err)
	}
	s.framebuffer = fb

	s.fbuSync.Lock()
	s.clientPixelFormat = fb.Format
	s.clientWidth = uint16(fb.Width)
	s.clientHeight = uint16(fb.Height)
	s.fbuSync.Unlock()

	w, end := s.codec.BeginWrite()
	if err := buffer.WriteUint16(w, uint16(fb.Width)); err != nil {
		end()
		return newErr("handshake.desktop", Transport, "failed to send width", err)
	}
	if err := buffer.WriteUint16(w, uint16(fb.Height)); err != nil {
		end()
		return newErr("handshake.desktop", Transport, "failed to send height", err)
	}
	if err := buffer.WritePixelFormat(w, fb.Format); err != nil {
		end()
		return newErr("handshake.desktop", Transport, "failed to send pixel format", err)
	}
	name := fb.Name
	if name == "" {
		name = "gsvnc"
	}
	s.name = name
	if err := buffer.WriteString(w, name); err != nil {
		end()
		return newErr("handshake.desktop", Transport, "failed to send desktop name", err)
	}
	if err := end(); err != nil {
		return newErr("handshake.desktop", Transport, "failed to flush desktop init", err)
	}

	s.setPhase(DesktopInitialized)
	return nil
}

func containsByte(set []byte, v byte) bool {
	return bytes.IndexByte(set, v) >= 0
}
