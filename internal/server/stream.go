package server

import (
	"fmt"
	"net/http"
	"time"
)

// StreamInterval is the delay between MJPEG parts, about 15 FPS.
const StreamInterval = 66 * time.Millisecond

// FrameSource supplies the most recent encoded frame.
type FrameSource interface {
	LatestJPEG() []byte
}

// StreamHandler serves the annotated frames as MJPEG.
type StreamHandler struct {
	source FrameSource
	done   <-chan struct{}
}

// NewStreamHandler creates a StreamHandler. Streams end when done is closed.
func NewStreamHandler(source FrameSource, done <-chan struct{}) *StreamHandler {
	return &StreamHandler{source: source, done: done}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(StreamInterval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
		}

		data := h.source.LatestJPEG()
		if len(data) == 0 || (len(last) > 0 && &data[0] == &last[0]) {
			continue
		}
		last = data

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
		if _, err := w.Write(data); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
