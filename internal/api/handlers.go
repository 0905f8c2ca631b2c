package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/calib"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/decode"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/pattern"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/scan"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/pkg/geometry"
)

// axisFrames is how many turntable positions the axis calibration samples.
const axisFrames = 8

// startScan kicks off a scan in the background. The operator polls
// /api/status for progress.
func (s *Server) startScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	numAngles := 8
	if v := r.URL.Query().Get("angles"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "angles must be a positive integer", http.StatusBadRequest)
			return
		}
		numAngles = n
	}

	if s.table == nil {
		http.Error(w, "no turntable configured", http.StatusPreconditionFailed)
		return
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		http.Error(w, "scanner is busy", http.StatusConflict)
		return
	}
	if s.calibration == nil {
		s.mu.Unlock()
		http.Error(w, "not calibrated", http.StatusPreconditionFailed)
		return
	}
	if !s.connected {
		s.mu.Unlock()
		http.Error(w, "camera is not connected", http.StatusPreconditionFailed)
		return
	}
	calibration := s.calibration
	s.busy = true
	s.status = "scanning"
	s.lastErr = ""
	s.mu.Unlock()

	go s.runScan(calibration, numAngles)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{"status": "scanning", "angles": numAngles})
}

func (s *Server) runScan(calibration *calib.Result, numAngles int) {
	defer s.finishJob()

	var sessionID int64
	if s.db != nil {
		id, err := s.db.CreateSession(time.Now(), numAngles)
		if err != nil {
			log.Printf("API: %v", err)
		} else {
			sessionID = id
		}
	}

	session, err := scan.New(calibration, s, s.table, s.opts, func(p scan.Progress) {
		s.mu.Lock()
		if p.Failure != "" {
			s.status = fmt.Sprintf("scanning: angle %d/%d failed", p.AngleIndex+1, p.NumAngles)
		} else if p.NumAngles > 0 && p.Stage != "assemble" && p.Stage != "done" {
			s.status = fmt.Sprintf("scanning: %s %d/%d", p.Stage, p.AngleIndex+1, p.NumAngles)
		} else {
			s.status = "scanning: " + p.Stage
		}
		s.mu.Unlock()
	})
	if err != nil {
		s.failJob(err)
		return
	}

	result, err := session.Run(context.Background(), numAngles)
	if err != nil {
		s.failJob(err)
		return
	}

	if s.db != nil && sessionID != 0 {
		for _, a := range result.Angles {
			failure := ""
			if a.Failure != nil {
				failure = a.Failure.Error()
			}
			if err := s.db.RecordAngle(sessionID, a.Realized, a.Points, failure); err != nil {
				log.Printf("API: %v", err)
			}
		}
	}

	plyPath := filepath.Join(s.outDir, fmt.Sprintf("scan_%s.ply", time.Now().Format("20060102_150405")))
	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		s.failJob(fmt.Errorf("create output dir: %w", err))
		return
	}
	if err := result.Cloud.WritePLYFile(plyPath); err != nil {
		s.failJob(err)
		return
	}
	log.Printf("Scan complete: %d points written to %s", result.Cloud.Size(), plyPath)

	if s.db != nil && sessionID != 0 {
		if err := s.db.FinishSession(sessionID, result.Cloud.Size(), plyPath); err != nil {
			log.Printf("API: %v", err)
		}
	}

	s.mu.Lock()
	s.status = fmt.Sprintf("done: %d points, %s", result.Cloud.Size(), plyPath)
	s.mu.Unlock()
}

// startCalibration kicks off a calibration run. The operator places the
// checkerboard at a new pose and POSTs /api/calibrate/confirm before each
// capture; after the poses the target goes flat on the turntable for the
// axis pass, which runs unattended.
func (s *Server) startCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	poses := 5
	if v := r.URL.Query().Get("poses"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < calib.MinPoses {
			http.Error(w, fmt.Sprintf("poses must be an integer >= %d", calib.MinPoses), http.StatusBadRequest)
			return
		}
		poses = n
	}

	if s.table == nil {
		http.Error(w, "no turntable configured", http.StatusPreconditionFailed)
		return
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		http.Error(w, "scanner is busy", http.StatusConflict)
		return
	}
	if !s.connected {
		s.mu.Unlock()
		http.Error(w, "camera is not connected", http.StatusPreconditionFailed)
		return
	}
	s.busy = true
	s.status = "calibrating"
	s.lastErr = ""
	s.mu.Unlock()

	go s.runCalibration(poses)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{"status": "calibrating", "poses": poses})
}

func (s *Server) runCalibration(poses int) {
	defer s.finishJob()
	ctx := context.Background()

	set, err := pattern.Generate(s.opts.ProjectorWidth, s.opts.ProjectorHeight, 0, s.opts.Patterns)
	if err != nil {
		s.failJob(err)
		return
	}

	// Drain stale confirms or aborts from an earlier run.
	select {
	case <-s.confirm:
	default:
	}
	select {
	case <-s.abort:
	default:
	}

	var stacks []*decode.CaptureStack
	for i := 0; i < poses; i++ {
		s.mu.Lock()
		s.status = fmt.Sprintf("calibrating: place target for pose %d/%d and confirm", i+1, poses)
		s.mu.Unlock()
		if err := s.waitConfirm(); err != nil {
			s.failJob(err)
			return
		}

		s.mu.Lock()
		s.status = fmt.Sprintf("calibrating: capturing pose %d/%d", i+1, poses)
		s.mu.Unlock()
		stack, err := s.Capture(ctx, set, 0)
		if err != nil {
			s.failJob(fmt.Errorf("calibration pose %d: %w", i+1, err))
			return
		}
		stacks = append(stacks, stack)
	}

	s.mu.Lock()
	s.status = "calibrating: solving camera and projector"
	s.mu.Unlock()
	result, err := calib.Calibrate(stacks, s.calOpts)
	if err != nil {
		s.failJob(err)
		return
	}

	s.mu.Lock()
	s.status = "calibrating: place target flat on the turntable and confirm"
	s.mu.Unlock()
	if err := s.waitConfirm(); err != nil {
		s.failJob(err)
		return
	}

	axis, err := s.calibrateAxis(ctx, set, &result.Camera)
	if err != nil {
		s.failJob(err)
		return
	}
	result.Axis = axis

	if s.calibPath != "" {
		if err := calib.Save(s.calibPath, result); err != nil {
			s.failJob(err)
			return
		}
	}
	if s.db != nil && s.calibPath != "" {
		if blob, err := os.ReadFile(s.calibPath); err == nil {
			if err := s.db.SaveCalibration("default", blob); err != nil {
				log.Printf("API: %v", err)
			}
		}
	}

	s.mu.Lock()
	s.calibration = result
	s.status = fmt.Sprintf("calibrated: %d projector planes", result.Planes.Len())
	s.mu.Unlock()
	log.Printf("Calibration complete: %d projector planes, axis through (%.1f, %.1f, %.1f)",
		result.Planes.Len(), axis.Point.X, axis.Point.Y, axis.Point.Z)
}

// calibrateAxis rotates the table through a full turn, capturing the target
// at each stop, and fits the rotation axis to the observed board origins.
func (s *Server) calibrateAxis(ctx context.Context, set *pattern.Set, cam *calib.CameraModel) (axis geometry.Axis, err error) {
	step := 360.0 / float64(axisFrames)
	var frames []*decode.CaptureStack
	current := 0.0
	for i := 0; i < axisFrames; i++ {
		if i > 0 {
			realized, err := s.table.Rotate(ctx, step)
			if err != nil {
				return axis, fmt.Errorf("axis calibration: rotate: %w", err)
			}
			current += realized
		}
		s.mu.Lock()
		s.status = fmt.Sprintf("calibrating: axis frame %d/%d", i+1, axisFrames)
		s.mu.Unlock()
		stack, err := s.Capture(ctx, set, current)
		if err != nil {
			return axis, fmt.Errorf("axis calibration: capture at %.1f: %w", current, err)
		}
		stack.Angle = current
		frames = append(frames, stack)
	}
	return calib.CalibrateTurntable(cam, frames, s.calOpts.Target)
}

// waitConfirm blocks until the operator confirms the next calibration
// capture or abandons the run.
func (s *Server) waitConfirm() error {
	select {
	case <-s.confirm:
		return nil
	case <-s.abort:
		return fmt.Errorf("calibration aborted by operator")
	}
}

// confirmPose is the operator go-ahead for the next calibration capture.
func (s *Server) confirmPose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	select {
	case s.confirm <- struct{}{}:
		writeJSON(w, map[string]any{"status": "confirmed"})
	default:
		http.Error(w, "no calibration waiting for confirmation", http.StatusConflict)
	}
}

// abortCalibration bails out a calibration stuck waiting for the operator.
func (s *Server) abortCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	select {
	case s.abort <- struct{}{}:
		writeJSON(w, map[string]any{"status": "aborting"})
	default:
		http.Error(w, "abort already pending", http.StatusConflict)
	}
}

func (s *Server) finishJob() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Server) failJob(err error) {
	log.Printf("API: %v", err)
	s.mu.Lock()
	s.status = "error"
	s.lastErr = err.Error()
	s.mu.Unlock()
}
