package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/cjeanneret/StillGo/internal/app"
	"github.com/cjeanneret/StillGo/internal/media"
	"github.com/cjeanneret/StillGo/internal/permission"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ScreenHost is the camera screen as seen by the page.
type ScreenHost interface {
	PressShutter() bool
	Restart()
	Status() app.Status
}

// MediaLibrary resolves saved photos by id.
type MediaLibrary interface {
	Lookup(id string) (media.Item, error)
}

// Deps holds the dependencies of the HTTP handlers.
type Deps struct {
	Broadcaster *StatusBroadcaster
	Host        ScreenHost
	Surface     *Surface
	Prompter    *ConsentPrompter // nil unless permission mode is prompt
	Media       MediaLibrary
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Deps
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If d.Host is nil, POST /capture and POST /screen/restart return 503.
func NewHandlers(d Deps, staticFS fs.FS) *Handlers {
	return &Handlers{Deps: d, staticFS: staticFS}
}

// PermissionAnswer is the body of POST /permission.
type PermissionAnswer struct {
	Granted *bool `json:"granted"`
}

// ValidatePermissionAnswer checks that the answer carries a decision.
func ValidatePermissionAnswer(a PermissionAnswer) error {
	if a.Granted == nil {
		return errors.New("granted is required")
	}
	return nil
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	app.Status
	PendingPermission []permission.Capability `json:"pending_permission,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encode response: %v", err)
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCapture handles POST /capture: a press of the shutter button.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Host == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.Host.PressShutter() {
		http.Error(w, "camera screen is closed", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "requested",
		"bound":  h.Host.Status().Bound,
	})
}

// HandlePermission handles POST /permission: the user's answer to a consent question.
func (h *Handlers) HandlePermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Prompter == nil {
		http.Error(w, "permission prompts are disabled", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var answer PermissionAnswer
	if err := json.NewDecoder(r.Body).Decode(&answer); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidatePermissionAnswer(answer); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Prompter.Answer(*answer.Granted); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": *answer.Granted})
}

// HandleRestart handles POST /screen/restart: re-enter the camera screen.
func (h *Handlers) HandleRestart(w http.ResponseWriter, r *http.Request) {
	if h.Host == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	h.Host.Restart()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

// HandleState returns the screen state as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	resp := StateResponse{Status: app.Status{Lifecycle: "none", Permission: "unknown"}}
	if h.Host != nil {
		resp.Status = h.Host.Status()
	}
	if h.Prompter != nil {
		resp.PendingPermission = h.Prompter.Pending()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMedia serves a saved photo by id.
func (h *Handlers) HandleMedia(w http.ResponseWriter, r *http.Request) {
	if h.Media == nil {
		http.NotFound(w, r)
		return
	}
	item, err := h.Media.Lookup(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", item.MIMEType)
	http.ServeFile(w, r, item.Path)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
