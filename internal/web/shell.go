package web

import (
	"log"
)

// Shell shows screen feedback on the page through the status stream.
type Shell struct {
	broadcaster *StatusBroadcaster
}

// NewShell returns a shell publishing on b.
func NewShell(b *StatusBroadcaster) *Shell {
	return &Shell{broadcaster: b}
}

// Toast shows a transient message on the page.
func (s *Shell) Toast(msg string) {
	s.broadcaster.Emit(KindToast, "info", msg)
}

// Finish tells the page the screen is gone.
func (s *Shell) Finish(reason string) {
	log.Printf("screen finished: %s", reason)
	s.broadcaster.Emit(KindFinish, "error", reason)
}
