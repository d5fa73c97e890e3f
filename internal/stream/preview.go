package stream

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"log"
	"net/http"
	"sync"

	"moodcam/internal/pipeline"
)

// PreviewConfig configures the preview server
type PreviewConfig struct {
	Quality   int // JPEG quality, 1-100
	KeyBuffer int // Pending key presses kept for Show
}

// PreviewServer is the pipeline display. Each shown frame is JPEG encoded
// and pushed to MJPEG clients; key presses arrive through PushKey.
type PreviewServer struct {
	quality int

	clients   map[chan []byte]bool
	clientsMu sync.RWMutex

	currentFrame []byte
	frameSeq     uint64
	frameMu      sync.RWMutex

	keys      chan rune
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPreviewServer creates a preview server
func NewPreviewServer(cfg PreviewConfig) *PreviewServer {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 80
	}
	if cfg.KeyBuffer <= 0 {
		cfg.KeyBuffer = 8
	}
	return &PreviewServer{
		quality: cfg.Quality,
		clients: make(map[chan []byte]bool),
		keys:    make(chan rune, cfg.KeyBuffer),
		closed:  make(chan struct{}),
	}
}

// Show encodes the frame for clients and returns the oldest pending key.
// It never blocks on slow clients.
func (s *PreviewServer) Show(frame *pipeline.Frame) (rune, bool) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: s.quality}); err != nil {
		log.Printf("[Preview] Failed to encode frame %d: %v", frame.Seq, err)
	} else {
		s.updateFrame(buf.Bytes())
	}

	select {
	case k := <-s.keys:
		return k, true
	default:
		return 0, false
	}
}

// PushKey queues a key press for the next Show. Keys are dropped when the
// queue is full.
func (s *PreviewServer) PushKey(key rune) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.keys <- key:
	default:
		log.Printf("[Preview] Key queue full, dropping %q", key)
	}
}

func (s *PreviewServer) updateFrame(frame []byte) {
	s.frameMu.Lock()
	s.currentFrame = frame
	s.frameSeq++
	seq := s.frameSeq
	s.frameMu.Unlock()

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip frame
		}
	}
	s.clientsMu.RUnlock()

	if seq%100 == 0 {
		log.Printf("[Preview] Frame seq: %d (%d clients)", seq, s.ClientCount())
	}
}

// CurrentFrame returns the latest encoded frame, or nil before the first Show
func (s *PreviewServer) CurrentFrame() []byte {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.currentFrame
}

// FrameSeq returns the number of frames shown
func (s *PreviewServer) FrameSeq() uint64 {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frameSeq
}

// ClientCount returns the number of connected MJPEG clients
func (s *PreviewServer) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ServeHTTP streams frames as multipart MJPEG
func (s *PreviewServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	clientCh := make(chan []byte, 5)
	s.clientsMu.Lock()
	select {
	case <-s.closed:
		s.clientsMu.Unlock()
		http.Error(w, "Preview closed", http.StatusServiceUnavailable)
		return
	default:
	}
	s.clients[clientCh] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		if s.clients[clientCh] {
			delete(s.clients, clientCh)
		}
		s.clientsMu.Unlock()
	}()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Printf("[Preview] Client connected from %s", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[Preview] Client disconnected from %s", r.RemoteAddr)
			return
		case frame, ok := <-clientCh:
			if !ok {
				return
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
}

// SnapshotHandler serves the latest frame as a single JPEG
func (s *PreviewServer) SnapshotHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		frame := s.CurrentFrame()
		if frame == nil {
			http.Error(w, "No frame available", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
		w.Write(frame)
	})
}

// Close disconnects all clients. Safe to call more than once.
func (s *PreviewServer) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.clientsMu.Lock()
		for ch := range s.clients {
			close(ch)
			delete(s.clients, ch)
		}
		s.clientsMu.Unlock()
	})
	return nil
}

var _ pipeline.Display = (*PreviewServer)(nil)
