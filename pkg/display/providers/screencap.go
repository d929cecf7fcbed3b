package providers

import (
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/go-vgo/robotgo"
	"github.com/kamrankamilli/gsvnc/pkg/internal/log"
	"github.com/nfnt/resize"
)

// ScreenCapture is a Backend that periodically grabs the local screen via
// robotgo and keeps the most recent frame ready for a synchronous pull.
type ScreenCapture struct {
	width, height int

	mu     sync.Mutex
	latest *image.RGBA
	stopCh chan struct{}
}

func (s *ScreenCapture) Close() error {
	if s.stopCh != nil {
		close(s.stopCh)
	}
	return nil
}

// CaptureRGBA returns the most recently captured frame.
func (s *ScreenCapture) CaptureRGBA() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

func (s *ScreenCapture) Start(width, height int) error {
	s.width, s.height = width, height
	s.stopCh = make(chan struct{})

	s.capture() // populate latest before the first scheduler pull

	go func() {
		ticker := time.NewTicker(200 * time.Millisecond) // ~5 FPS
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				log.Debug("Stopping screen capture")
				return
			case <-ticker.C:
				s.capture()
			}
		}
	}()
	return nil
}

func (s *ScreenCapture) capture() {
	bitMap := robotgo.CaptureScreen()
	if bitMap == nil {
		log.Error("CaptureScreen returned nil bitmap")
		return
	}

	img := robotgo.ToImage(bitMap)
	robotgo.FreeBitmap(bitMap)
	if img == nil {
		log.Error("robotgo.ToImage returned nil image")
		return
	}

	b := img.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		img = resize.Resize(uint(s.width), uint(s.height), img, resize.NearestNeighbor)
	}

	dst := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)

	s.mu.Lock()
	s.latest = dst
	s.mu.Unlock()
}
