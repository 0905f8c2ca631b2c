package api

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/tiff"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/decode"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/pattern"
)

// uploadTimeout is how long to wait for the camera to deliver one frame.
const uploadTimeout = 20 * time.Second

// Capture implements scan.Capturer over the poll/upload bridge: for each
// pattern frame it publishes a capture command carrying the frame index, the
// rig projects that frame and the camera posts the photograph back.
func (s *Server) Capture(ctx context.Context, set *pattern.Set, angle float64) (*decode.CaptureStack, error) {
	frames := make([]*image.Gray, 0, len(set.Images))
	for i := range set.Images {
		img, err := s.captureFrame(ctx, i, len(set.Images))
		if err != nil {
			s.setIdle()
			return nil, fmt.Errorf("frame %d/%d: %w", i+1, len(set.Images), err)
		}
		frames = append(frames, img)
	}
	s.setIdle()
	return decode.StackFromImages(set, frames, angle)
}

func (s *Server) captureFrame(ctx context.Context, frame, total int) (*image.Gray, error) {
	// Drain a stale upload from an aborted earlier run.
	select {
	case <-s.uploads:
	default:
	}

	s.mu.Lock()
	s.command = "capture"
	s.commandID = uuid.New().String()
	s.frame = frame
	s.frames = total
	s.mu.Unlock()

	timer := time.NewTimer(uploadTimeout)
	defer timer.Stop()

	select {
	case data := <-s.uploads:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode uploaded image: %w", err)
		}
		return toGray(img), nil
	case <-timer.C:
		return nil, fmt.Errorf("timed out waiting for upload")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) setIdle() {
	s.mu.Lock()
	s.command = "idle"
	s.commandID = ""
	s.mu.Unlock()
}

// pollCommand is polled by the camera. The response names the action, a
// unique command id (so a retried poll never re-triggers a shutter), and the
// pattern frame the rig must project before shooting.
func (s *Server) pollCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	if !s.connected || time.Since(s.lastSeen) > disconnectAfter {
		s.connected = true
		log.Printf("Camera connected (%s)", r.RemoteAddr)
	}
	s.lastSeen = time.Now()
	resp := map[string]any{
		"action": s.command,
		"id":     s.commandID,
		"frame":  s.frame,
		"frames": s.frames,
	}
	s.mu.Unlock()

	writeJSON(w, resp)
}

// upload receives one photographed frame from the camera.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Read failed", http.StatusBadRequest)
		return
	}

	select {
	case s.uploads <- data:
		io.WriteString(w, "Success")
	default:
		http.Error(w, "No capture in progress", http.StatusConflict)
	}
}

// toGray flattens any decoded image to 8-bit grayscale.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}
