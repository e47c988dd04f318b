package web

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/StillGo/internal/hw/camera"
)

const keepAliveInterval = 2 * time.Second

// Surface is the preview surface of the page: it keeps the latest frame and
// streams frames to any number of MJPEG clients.
type Surface struct {
	mu      sync.Mutex
	frame   []byte
	seq     uint64
	changed chan struct{}
}

// NewSurface returns an empty surface.
func NewSurface() *Surface {
	return &Surface{changed: make(chan struct{})}
}

// Render publishes a new preview frame.
func (s *Surface) Render(f camera.Frame) {
	s.mu.Lock()
	s.frame = f.Data
	s.seq++
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Clear drops the current frame.
func (s *Surface) Clear() {
	s.mu.Lock()
	s.frame = nil
	s.seq++
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Latest returns the current frame (nil when cleared) and its sequence number.
func (s *Surface) Latest() ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.seq
}

func (s *Surface) next(after uint64) ([]byte, uint64, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != after {
		return s.frame, s.seq, nil
	}
	return nil, s.seq, s.changed
}

// ServeHTTP streams the preview as multipart/x-mixed-replace MJPEG.
func (s *Surface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var seq uint64
	timer := time.NewTimer(keepAliveInterval)
	defer timer.Stop()

	for {
		frame, next, changed := s.next(seq)
		if changed != nil {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(keepAliveInterval)
			select {
			case <-r.Context().Done():
				return
			case <-changed:
				continue
			case <-timer.C:
				// resend the last frame so proxies keep the connection open
				frame, next = s.Latest()
			}
		}
		seq = next
		if frame == nil {
			continue
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
		if _, err := w.Write(frame); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")
		flusher.Flush()
	}
}
