// Package rfb is the RFB session engine: version/security negotiation,
// desktop initialization, client message dispatch, and the framebuffer
// update assembly path, wired around the buffer (wire codec), fbcache
// (diff engine), pixelcopy and scheduler packages.
//
// Grounded on the teacher's pkg/rfb (Conn/Server, dispatch-by-byte loop)
// and pkg/display (per-connection mutable state, event queues), adapted
// from gsvnc's push-whatever-changed video-streaming model to the RFB
// request/reply protocol this spec describes: one framebuffer per
// negotiated pixel format, a pending-request/pending-rectangles pair
// guarded by a single lock, and a shadow-cache diff instead of whole-frame
// re-encoding.
package rfb

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/kamrankamilli/gsvnc/pkg/buffer"
	"github.com/kamrankamilli/gsvnc/pkg/internal/log"
	"github.com/kamrankamilli/gsvnc/pkg/rfb/fbcache"
	"github.com/kamrankamilli/gsvnc/pkg/rfb/scheduler"
	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

// Phase is the session's position in the fixed handshake/run state machine.
type Phase int

const (
	Fresh Phase = iota
	VersionNegotiated
	SecurityNegotiated
	DesktopInitialized
	Running
	Closed
)

func (p Phase) String() string {
	return [...]string{"Fresh", "VersionNegotiated", "SecurityNegotiated", "DesktopInitialized", "Running", "Closed"}[p]
}

// AuthenticationMethod selects how the Security handshake step behaves.
type AuthenticationMethod int

const (
	AuthNone AuthenticationMethod = iota
	AuthPassword
)

const (
	secTypeNone     = 1
	secTypeVNCAuth  = 2
	defaultMajor    = 3
	defaultMinor    = 8
	challengeLength = 16
)

// PasswordChallenge generates the 16-byte challenge sent to the client
// during VNC authentication. Swappable before SecurityNegotiated only.
type PasswordChallenge interface {
	GenerateChallenge() ([]byte, error)
}

// PixelSource is the embedder-supplied collaborator that captures
// framebuffers. Out of scope per the spec's framing; the session only
// needs its contract.
type PixelSource interface {
	Capture() (*types.Framebuffer, error)
}

// Handlers is the embedder's notification sink. Every field is optional;
// a nil field is simply not invoked. Delivery is synchronous on whichever
// session thread raised the event (the reader thread for client messages,
// the scheduler thread for capture/update events) — see §5 of the spec
// for the exact thread each notification runs on.
type Handlers struct {
	PasswordProvided       func(challenge, response []byte) bool
	CreatingDesktop        func(shared bool)
	Connected              func()
	ConnectionFailed       func(err error)
	SessionClosed          func()
	FramebufferCapturing   func()
	FramebufferUpdating    func(s *Session) (handled bool)
	KeyChanged             func(keysym uint32, pressed bool)
	PointerChanged         func(x, y uint16, buttonMask uint8)
	RemoteClipboardChanged func(text string)
}

// Options configures a Session at construction time.
type Options struct {
	AuthenticationMethod AuthenticationMethod
	PasswordChallenge    PasswordChallenge
	Handlers             Handlers
	MaxUpdateRate        float64 // frames/sec cap; default 15 if <= 0
	Logger               *log.Logger
	NewCache             func(fb *types.Framebuffer, logger *log.Logger) *fbcache.Cache
}

// Session is one RFB protocol session over a single byte stream. It is
// safe for the embedder to call accessor methods (SetFramebufferSource,
// FramebufferChanged, Bell, ...) from any goroutine; the session's own two
// threads (reader, scheduler) are internal.
type Session struct {
	log *log.Logger

	phaseMu sync.Mutex
	phase   Phase

	codec *buffer.Codec

	clientMajor, clientMinor int

	authMethod        AuthenticationMethod
	passwordChallenge PasswordChallenge
	pwLocked          bool // true once SecurityNegotiated

	handlers Handlers

	newCache func(fb *types.Framebuffer, logger *log.Logger) *fbcache.Cache

	// fbuSync (updateRequestLock) guards everything below down to
	// pendingRectangles, per the spec's lock-order rule.
	fbuSync         sync.Mutex
	clientPixelFormat *types.PixelFormat
	clientEncodings   []int32
	clientWidth       uint16
	clientHeight      uint16
	clientKnowsDesktopSize bool
	pendingRequest    *types.FramebufferUpdateRequest
	pendingRectangles []types.UpdateRectangle
	inManualUpdate    bool

	framebuffer *types.Framebuffer
	fbuAutoCache *fbcache.Cache

	pixelSourceMu sync.Mutex
	pixelSource   PixelSource

	rateMu sync.Mutex
	maxUpdateRate float64

	sched *scheduler.Scheduler

	readerDone chan struct{}
	closeOnce  sync.Once
	connected  bool

	// readerActive and schedulerActive mark, for the duration of Serve and
	// produceUpdate respectively, that the calling goroutine is one of the
	// session's own threads. Close consults these to avoid a handler
	// self-joining on its own thread's exit.
	readerActive    atomic.Bool
	schedulerActive atomic.Bool

	name string
}

// New constructs a Session in phase Fresh. Call Connect to drive it
// through the handshake and start serving.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.MaxUpdateRate <= 0 {
		opts.MaxUpdateRate = 15
	}
	if opts.NewCache == nil {
		opts.NewCache = fbcache.New
	}
	s := &Session{
		log:               opts.Logger,
		phase:             Fresh,
		authMethod:        opts.AuthenticationMethod,
		passwordChallenge: opts.PasswordChallenge,
		handlers:          opts.Handlers,
		newCache:          opts.NewCache,
		maxUpdateRate:     opts.MaxUpdateRate,
		clientEncodings:   []int32{}, // empty until a SetEncodings arrives — §9 open question
		readerDone:        make(chan struct{}),
	}
	if s.passwordChallenge == nil {
		s.passwordChallenge = RandomPasswordChallenge{}
	}
	return s
}

// Phase returns the session's current state.
func (s *Session) Phase() Phase {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.phaseMu.Lock()
	s.phase = p
	s.phaseMu.Unlock()
}

// SetPasswordChallenge swaps the pluggable challenge provider. Fails with
// InvalidArgument once SecurityNegotiated.
func (s *Session) SetPasswordChallenge(p PasswordChallenge) error {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	if s.pwLocked {
		return newErr("SetPasswordChallenge", InvalidArgument, "password challenge provider frozen after security negotiation", nil)
	}
	s.passwordChallenge = p
	return nil
}

// MaxUpdateRate returns the current rate cap in frames/sec.
func (s *Session) MaxUpdateRate() float64 {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	return s.maxUpdateRate
}

// SetMaxUpdateRate sets the rate cap. Values <= 0 fail with
// InvalidArgument without mutating state.
func (s *Session) SetMaxUpdateRate(rate float64) error {
	if rate <= 0 {
		return newErr("SetMaxUpdateRate", InvalidArgument, fmt.Sprintf("rate must be positive, got %v", rate), nil)
	}
	s.rateMu.Lock()
	s.maxUpdateRate = rate
	s.rateMu.Unlock()
	return nil
}

// SetFramebufferSource sets or clears (source == nil) the pixel source
// consulted on each update-assembly pass.
func (s *Session) SetFramebufferSource(source PixelSource) {
	s.pixelSourceMu.Lock()
	s.pixelSource = source
	s.pixelSourceMu.Unlock()
}

func (s *Session) getFramebufferSource() PixelSource {
	s.pixelSourceMu.Lock()
	defer s.pixelSourceMu.Unlock()
	return s.pixelSource
}

// FramebufferChanged hints the scheduler that new pixels may be available.
func (s *Session) FramebufferChanged() {
	if s.sched != nil {
		s.sched.Signal()
	}
}

// Connect starts the session's two threads (reader + scheduler) against
// stream and returns immediately; outcome is reported via the Connected/
// ConnectionFailed/SessionClosed handlers.
func (s *Session) Connect(stream io.ReadWriteCloser) {
	go func() {
		_ = s.Serve(stream)
	}()
}

// Serve runs the handshake and dispatch loop synchronously, returning when
// the session ends. Connect is a fire-and-forget wrapper around Serve.
func (s *Session) Serve(stream io.ReadWriteCloser) error {
	s.readerActive.Store(true)
	defer s.readerActive.Store(false)

	s.codec = buffer.NewCodec(stream)

	if err := s.handshake(); err != nil {
		s.log.Errorf("handshake failed: %v", err)
		s.teardown(false, err)
		return err
	}

	s.connected = true
	s.setPhase(Running)
	if s.handlers.Connected != nil {
		s.handlers.Connected()
	}

	s.sched = scheduler.New(s.produceUpdate, s.MaxUpdateRate)
	s.sched.Start(false)

	err := s.dispatchLoop()
	s.teardown(s.connected, err)
	return err
}

func (s *Session) teardown(wasConnected bool, err error) {
	s.setPhase(Closed)
	if s.sched != nil {
		s.sched.Stop()
	}
	if s.codec != nil {
		_ = s.codec.Close()
	}
	close(s.readerDone)

	if wasConnected {
		if s.handlers.SessionClosed != nil {
			s.handlers.SessionClosed()
		}
	} else if s.handlers.ConnectionFailed != nil {
		s.handlers.ConnectionFailed(err)
	}
}

// Close is idempotent and blocks until the session's threads have exited,
// unless called from within one of those threads (the reader calling
// Close on itself must not self-join).
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.codec != nil {
			_ = s.codec.Close()
		}
	})
	if !s.onOwnThread() {
		<-s.readerDone
	}
	return nil
}

// onOwnThread reports whether Close is being called from within a Handlers
// callback invoked synchronously on one of the session's own threads: the
// reader thread (active for the whole of Serve, so handshake- and
// dispatch-triggered callbacks are covered) or the scheduler thread (active
// for the duration of each produceUpdate pass, covering
// FramebufferCapturing/FramebufferUpdating). Both flags are only ever set
// by the thread they name, so a true read here means the caller is that
// thread.
func (s *Session) onOwnThread() bool {
	return s.readerActive.Load() || s.schedulerActive.Load()
}

// CloseAsync requests shutdown without blocking; safe to call from any
// session thread, including from within a Handlers callback.
func (s *Session) CloseAsync() {
	s.closeOnce.Do(func() {
		if s.codec != nil {
			_ = s.codec.Close()
		}
	})
}

// Bell sends a server-initiated Bell message (type 2, no body).
func (s *Session) Bell() error {
	return s.codec.WriteLocked([]byte{2})
}

// SendLocalClipboardChange sends a ServerCutText message (type 3).
func (s *Session) SendLocalClipboardChange(text string) error {
	w, end := s.codec.BeginWrite()
	if err := buffer.WriteByte(w, 3); err != nil {
		end()
		return err
	}
	if err := buffer.WritePadding(w, 3); err != nil {
		end()
		return err
	}
	if err := buffer.WriteString(w, text); err != nil {
		end()
		return err
	}
	return end()
}
