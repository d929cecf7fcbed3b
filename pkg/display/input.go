// Package display is the local input-injection side of the embedder ring:
// an InputInjector that turns RFB pointer/keyboard/clipboard events into
// robotgo calls against the actual local desktop, meant to be wired onto
// an rfb.Handlers as KeyChanged / PointerChanged / RemoteClipboardChanged.
//
// Grounded on the teacher's ptr_events.go (button-mask edge detection,
// coordinate scaling) and channels.go (decoupling slow native calls from
// the protocol reader thread via a bounded queue per event kind).
package display

import (
	"math"

	"github.com/go-vgo/robotgo"

	"github.com/kamrankamilli/gsvnc/pkg/internal/log"
)

type pointerEvent struct {
	x, y uint16
	mask uint8
}

type keyEvent struct {
	keysym  uint32
	pressed bool
}

// InputInjector drives the local mouse, keyboard and clipboard from RFB
// client events. Each event kind has its own bounded queue so a burst of
// pointer events never backs up behind a slow clipboard sync, and native
// calls never run on the caller's goroutine (normally the session's reader
// thread).
type InputInjector struct {
	width, height int
	log           *log.Logger

	lastBtnMask uint8
	downKeys    map[uint32]bool

	ptrEvQueue  chan pointerEvent
	keyEvQueue  chan keyEvent
	cutTextQ    chan string
	done        chan struct{}
}

// NewInputInjector starts an injector that scales incoming pointer
// coordinates as though the remote client's desktop is width x height,
// regardless of the local screen's actual resolution.
func NewInputInjector(width, height int, logger *log.Logger) *InputInjector {
	if logger == nil {
		logger = log.Default()
	}
	inj := &InputInjector{
		width:      width,
		height:     height,
		log:        logger,
		downKeys:   make(map[uint32]bool),
		ptrEvQueue: make(chan pointerEvent, 128),
		keyEvQueue: make(chan keyEvent, 128),
		cutTextQ:   make(chan string, 16),
		done:       make(chan struct{}),
	}
	go inj.runPointer()
	go inj.runKeyboard()
	go inj.runClipboard()
	return inj
}

// Close stops the injector's worker goroutines. Queued events are dropped.
func (inj *InputInjector) Close() { close(inj.done) }

// HandlePointerEvent is an rfb.Handlers.PointerChanged adapter.
func (inj *InputInjector) HandlePointerEvent(x, y uint16, buttonMask uint8) {
	select {
	case inj.ptrEvQueue <- pointerEvent{x: x, y: y, mask: buttonMask}:
	default:
		inj.log.Debug("dropping pointer event, injector queue full")
	}
}

// HandleKeyEvent is an rfb.Handlers.KeyChanged adapter.
func (inj *InputInjector) HandleKeyEvent(keysym uint32, pressed bool) {
	select {
	case inj.keyEvQueue <- keyEvent{keysym: keysym, pressed: pressed}:
	default:
		inj.log.Debug("dropping key event, injector queue full")
	}
}

// HandleClipboardChange is an rfb.Handlers.RemoteClipboardChanged adapter.
func (inj *InputInjector) HandleClipboardChange(text string) {
	select {
	case inj.cutTextQ <- text:
	default:
		inj.log.Debug("dropping clipboard sync, injector queue full")
	}
}

func (inj *InputInjector) runPointer() {
	for {
		select {
		case <-inj.done:
			return
		case ev := <-inj.ptrEvQueue:
			inj.servePointerEvent(ev)
		}
	}
}

func (inj *InputInjector) servePointerEvent(ev pointerEvent) {
	x, y := int(ev.x), int(ev.y)
	sw, sh := robotgo.GetScreenSize()
	if inj.width > 0 && inj.height > 0 && (inj.width != sw || inj.height != sh) {
		x = int(math.Round(float64(x) * float64(sw) / float64(inj.width)))
		y = int(math.Round(float64(y) * float64(sh) / float64(inj.height)))
	}

	robotgo.Move(x, y)

	btnNames := []string{"left", "middle", "right"}
	for i, name := range btnNames {
		prev := nthBitOf(inj.lastBtnMask, i)
		cur := nthBitOf(ev.mask, i)
		if prev != cur {
			if cur == 1 {
				robotgo.MouseDown(name)
			} else {
				robotgo.MouseUp(name)
			}
		}
	}

	if nthBitOf(ev.mask, 3) == 1 {
		robotgo.Scroll(0, 1)
	}
	if nthBitOf(ev.mask, 4) == 1 {
		robotgo.Scroll(0, -1)
	}
	if nthBitOf(ev.mask, 5) == 1 {
		robotgo.Scroll(-1, 0)
	}
	if nthBitOf(ev.mask, 6) == 1 {
		robotgo.Scroll(1, 0)
	}

	inj.lastBtnMask = ev.mask
}

func nthBitOf(bit uint8, n int) uint8 { return (bit & (1 << n)) >> n }

func (inj *InputInjector) runKeyboard() {
	for {
		select {
		case <-inj.done:
			return
		case ev := <-inj.keyEvQueue:
			inj.serveKeyEvent(ev)
		}
	}
}

func (inj *InputInjector) serveKeyEvent(ev keyEvent) {
	name, ok := keysymToRobotgoName(ev.keysym)
	if !ok {
		inj.log.Debugf("no local key mapping for keysym 0x%x, ignoring", ev.keysym)
		return
	}
	if ev.pressed {
		if !inj.downKeys[ev.keysym] {
			robotgo.KeyToggle(name, "down")
			inj.downKeys[ev.keysym] = true
		}
	} else {
		robotgo.KeyToggle(name, "up")
		delete(inj.downKeys, ev.keysym)
	}
}

func (inj *InputInjector) runClipboard() {
	for {
		select {
		case <-inj.done:
			return
		case text := <-inj.cutTextQ:
			if err := robotgo.WriteAll(text); err != nil {
				inj.log.Errorf("failed to sync remote clipboard locally: %v", err)
			}
		}
	}
}

// keysymToRobotgoName maps the printable ASCII range of X11/RFB keysyms
// directly to robotgo key names, plus the small set of control keys every
// VNC client sends regardless of layout. Anything else (function keys,
// non-Latin layouts, modifiers other than shift, ctrl and alt) is left
// unmapped.
func keysymToRobotgoName(keysym uint32) (string, bool) {
	switch {
	case keysym >= 0x20 && keysym <= 0x7e:
		return string(rune(keysym)), true
	}
	switch keysym {
	case 0xff08:
		return "backspace", true
	case 0xff09:
		return "tab", true
	case 0xff0d:
		return "enter", true
	case 0xff1b:
		return "esc", true
	case 0xff51:
		return "left", true
	case 0xff52:
		return "up", true
	case 0xff53:
		return "right", true
	case 0xff54:
		return "down", true
	case 0xff55:
		return "pageup", true
	case 0xff56:
		return "pagedown", true
	case 0xff50:
		return "home", true
	case 0xff57:
		return "end", true
	case 0xffff:
		return "delete", true
	case 0xffe1, 0xffe2:
		return "shift", true
	case 0xffe3, 0xffe4:
		return "ctrl", true
	case 0xffe9, 0xffea:
		return "alt", true
	case 0x20:
		return "space", true
	default:
		return "", false
	}
}
