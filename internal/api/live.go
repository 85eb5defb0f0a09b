package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nicolatrozzi/spiro/internal/camera"
)

const (
	liveBoundary = "spiroframe"
	// livePoll is the polling period for backends without a live mailbox.
	livePoll = 100 * time.Millisecond
)

// liveSource is implemented by backends that push frames into a mailbox.
type liveSource interface {
	LiveView() *camera.LiveView
}

// nextFrame blocks for the next live-view frame after seq.
func (s *Server) nextFrame(ctx context.Context, seq uint64) ([]byte, uint64, error) {
	if src, ok := s.camera.(liveSource); ok {
		return src.LiveView().Next(ctx, seq)
	}
	ticker := time.NewTicker(livePoll)
	defer ticker.Stop()
	for {
		if frame, ok := s.camera.LatestJPEG(); ok {
			return frame, seq + 1, nil
		}
		select {
		case <-ctx.Done():
			return nil, seq, ctx.Err()
		case <-ticker.C:
		}
	}
}

// handleLive streams the camera's live view as multipart MJPEG. While an
// experiment holds the camera in still mode the stream waits for frames.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.camera == nil {
		writeUnavailable(w, "camera is not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeInternalError(w, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+liveBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	var seq uint64
	for {
		frame, next, err := s.nextFrame(ctx, seq)
		if err != nil {
			return
		}
		seq = next

		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", liveBoundary, len(frame)); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()

		if _, pushed := s.camera.(liveSource); !pushed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(livePoll):
			}
		}
	}
}
