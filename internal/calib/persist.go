package calib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// maxCalibFileSize bounds calibration files read back from disk.
const maxCalibFileSize = 64 * 1024 * 1024

// Save writes the calibration result as JSON so it can be reused across
// sessions without recalibrating.
func Save(path string, r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("calib: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("calib: write %s: %w", path, err)
	}
	return nil
}

// Load reads a calibration result saved by Save.
func Load(path string) (*Result, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("calib: calibration file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("calib: stat %s: %w", cleanPath, err)
	}
	if info.Size() > maxCalibFileSize {
		return nil, fmt.Errorf("calib: file too large: %d bytes", info.Size())
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("calib: read %s: %w", cleanPath, err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("calib: parse %s: %w", cleanPath, err)
	}
	if r.Camera.Fx == 0 || r.Camera.Fy == 0 {
		return nil, fmt.Errorf("calib: %s has no camera intrinsics", cleanPath)
	}
	if r.Planes == nil || r.Planes.Len() == 0 {
		return nil, fmt.Errorf("calib: %s has no projector planes", cleanPath)
	}
	return &r, nil
}
