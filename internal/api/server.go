// Package api exposes the scanner over HTTP: the capture bridge the phone
// camera polls, and the operator endpoints that start calibration and scans.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/calib"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/scan"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/store"
)

// disconnectAfter is how long without a poll before the camera is considered
// gone.
const disconnectAfter = 5 * time.Second

// Server holds the bridge state shared between the polling camera and a
// running session.
type Server struct {
	mu        sync.Mutex
	command   string
	commandID string
	frame     int // pattern frame index the camera should capture
	frames    int
	uploads   chan []byte
	lastSeen  time.Time
	connected bool

	confirm chan struct{} // operator go-ahead during calibration poses
	abort   chan struct{} // operator bail-out while a calibration waits

	done      chan struct{}
	closeOnce sync.Once

	busy    bool
	status  string
	lastErr string

	table       scan.Turntable
	db          *store.Store
	opts        scan.Options
	calOpts     calib.Options
	calibPath   string
	outDir      string
	calibration *calib.Result
}

// Config wires a server.
type Config struct {
	Turntable   scan.Turntable
	Store       *store.Store
	ScanOptions scan.Options
	CalOptions  calib.Options
	CalibPath   string // JSON calibration file, loaded if present and rewritten after calibration
	OutDir      string // directory for PLY output
}

// NewServer creates the HTTP server state. A calibration file at
// cfg.CalibPath is loaded eagerly so scans can start without recalibrating.
func NewServer(cfg Config) *Server {
	s := &Server{
		command:   "idle",
		uploads:   make(chan []byte, 1),
		confirm:   make(chan struct{}, 1),
		abort:     make(chan struct{}, 1),
		done:      make(chan struct{}),
		table:     cfg.Turntable,
		db:        cfg.Store,
		opts:      cfg.ScanOptions,
		calOpts:   cfg.CalOptions,
		calibPath: cfg.CalibPath,
		outDir:    cfg.OutDir,
		status:    "idle",
	}
	if cfg.CalibPath != "" {
		if r, err := calib.Load(cfg.CalibPath); err == nil {
			s.calibration = r
			log.Printf("Loaded calibration from %s (%d projector planes)",
				cfg.CalibPath, r.Planes.Len())
		} else {
			log.Printf("No usable calibration at %s: %v", cfg.CalibPath, err)
		}
	}
	go s.watchDisconnect()
	return s
}

// ServeMux returns the routing table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/poll_command", s.pollCommand)
	mux.HandleFunc("/upload", s.upload)
	mux.HandleFunc("/api/scan", s.startScan)
	mux.HandleFunc("/api/calibrate", s.startCalibration)
	mux.HandleFunc("/api/calibrate/confirm", s.confirmPose)
	mux.HandleFunc("/api/calibrate/abort", s.abortCalibration)
	mux.HandleFunc("/api/status", s.statusHandler)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/", s.home)
	return mux
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Structured-light scanner\n"))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := map[string]any{
		"status":     s.status,
		"busy":       s.busy,
		"connected":  s.connected,
		"calibrated": s.calibration != nil,
	}
	if s.lastErr != "" {
		resp["last_error"] = s.lastErr
	}
	s.mu.Unlock()
	writeJSON(w, resp)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, "no session store configured", http.StatusServiceUnavailable)
		return
	}
	sessions, err := s.db.Sessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sessions)
}

// Close stops the background watcher. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// watchDisconnect flips connected off when the camera stops polling.
func (s *Server) watchDisconnect() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.connected && time.Since(s.lastSeen) > disconnectAfter {
				s.connected = false
				log.Printf("Camera disconnected")
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: encode response: %v", err)
	}
}
