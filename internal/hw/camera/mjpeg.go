package camera

import (
	"bytes"
	"image/jpeg"
	"io"
	"sync"
	"time"

	"github.com/cjeanneret/StillGo/internal/debug"
)

const (
	readChunkSize  = 4096
	maxFrameBuffer = 10 * 1024 * 1024
	staleAfter     = 5 * time.Second
)

// JPEG markers
var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// frameStore keeps the latest complete frame. It is safe for concurrent use.
type frameStore struct {
	mu    sync.RWMutex
	frame Frame
}

func (s *frameStore) set(data []byte) {
	f := Frame{Data: data, Time: time.Now()}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.Width, f.Height = cfg.Width, cfg.Height
	}
	s.mu.Lock()
	s.frame = f
	s.mu.Unlock()
}

// get returns a copy of the latest frame.
func (s *frameStore) get() (Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.frame.Data) == 0 {
		return Frame{}, ErrNoFrame
	}
	// A stale frame means the producer died without the variable being cleared.
	if time.Since(s.frame.Time) > staleAfter {
		return Frame{}, ErrNoFrame
	}
	return copyFrame(s.frame), nil
}

func (s *frameStore) reset() {
	s.mu.Lock()
	s.frame = Frame{}
	s.mu.Unlock()
}

// pumpMJPEG reads an MJPEG byte stream from r, splits it into JPEG images
// on SOI/EOI markers and hands each complete image to store. It returns
// when r fails (EOF included).
func pumpMJPEG(r io.Reader, store *frameStore) error {
	buf := make([]byte, readChunkSize)
	var frameBuffer []byte

	for {
		n, err := r.Read(buf)
		if n > 0 {
			frameBuffer = appendChunk(frameBuffer, buf[:n])
			frameBuffer = extractFrames(frameBuffer, store)

			if len(frameBuffer) > maxFrameBuffer {
				frameBuffer = nil
				debug.Verbose("Camera: MJPEG frame buffer overflow, resetting")
			}
		}
		if err != nil {
			return err
		}
	}
}

// appendChunk appends chunk to the frame buffer and drops any leading
// bytes that are not part of a frame.
func appendChunk(frameBuffer, chunk []byte) []byte {
	return syncToSOI(append(frameBuffer, chunk...))
}

// syncToSOI returns b starting at the first SOI marker. Without a marker
// only a trailing 0xFF is kept, since it may be the first half of one.
func syncToSOI(b []byte) []byte {
	if len(b) == 0 || bytes.HasPrefix(b, soi) {
		return b
	}
	start := bytes.Index(b, soi)
	if start == -1 {
		if b[len(b)-1] == soi[0] {
			return b[len(b)-1:]
		}
		return b[:0]
	}
	return b[start:]
}

// extractFrames stores every complete image at the head of frameBuffer and
// returns the remainder, which is the beginning of the next frame.
func extractFrames(frameBuffer []byte, store *frameStore) []byte {
	for len(frameBuffer) > len(soi) {
		end := bytes.Index(frameBuffer[len(soi):], eoi)
		if end == -1 {
			return frameBuffer
		}
		end += len(soi) + len(eoi)

		frame := make([]byte, end)
		copy(frame, frameBuffer[:end])
		store.set(frame)

		remaining := make([]byte, len(frameBuffer)-end)
		copy(remaining, frameBuffer[end:])
		frameBuffer = syncToSOI(remaining)
	}
	return frameBuffer
}
