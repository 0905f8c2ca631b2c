// Package config loads the scanner configuration from a JSON file. Every
// field has a working default, so a missing file means a default rig and a
// partial file overrides only what it names.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/assemble"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/calib"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/decode"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/scan"
)

// maxConfigFileSize bounds config files read from disk.
const maxConfigFileSize = 1 * 1024 * 1024

// Config is the on-disk scanner configuration.
type Config struct {
	Listen     string `json:"listen"`      // HTTP listen address
	SerialPort string `json:"serial_port"` // turntable port, empty to run without a table
	BaudRate   int    `json:"baud_rate"`
	DBPath     string `json:"db_path"`
	CalibPath  string `json:"calib_path"`
	OutDir     string `json:"out_dir"`

	ProjectorWidth  int `json:"projector_width"`
	ProjectorHeight int `json:"projector_height"`

	PatternLevel     uint8   `json:"pattern_level"`     // gray level projected for lit pixels
	ShadowFloor      float64 `json:"shadow_floor"`      // white-frame intensity below which a pixel is shadowed
	MinContrast      float64 `json:"min_contrast"`      // minimum |pattern - inverse| for a usable bit
	ContrastFraction float64 `json:"contrast_fraction"` // dynamic floor as a fraction of scene contrast

	MinSeparation   float64 `json:"min_separation_mm"` // merge distance for cross-angle duplicates
	NoiseRadius     float64 `json:"noise_radius_mm"`
	ConfidenceFloor float64 `json:"confidence_floor"`

	BoardRows       int     `json:"board_rows"` // inner checkerboard corners
	BoardCols       int     `json:"board_cols"`
	BoardSquareSize float64 `json:"board_square_mm"`
}

// Default returns the configuration for a stock rig.
func Default() Config {
	target := calib.DefaultTarget()
	d := decode.DefaultOptions()
	a := assemble.DefaultOptions()
	return Config{
		Listen:     ":8080",
		BaudRate:   115200,
		DBPath:     "scanner.db",
		CalibPath:  "calibration.json",
		OutDir:     "scans",

		ProjectorWidth:  1920,
		ProjectorHeight: 1080,

		PatternLevel:     200,
		ShadowFloor:      d.ShadowFloor,
		MinContrast:      d.MinContrast,
		ContrastFraction: d.ContrastFraction,

		MinSeparation:   a.MinSeparation,
		NoiseRadius:     a.NoiseRadius,
		ConfidenceFloor: a.ConfidenceFloor,

		BoardRows:       target.Rows,
		BoardCols:       target.Cols,
		BoardSquareSize: target.SquareSize,
	}
}

// Load reads the config at path, layered over Default. A missing file is not
// an error; a malformed or invalid one is.
func Load(path string) (Config, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: stat %s: %w", cleanPath, err)
	}
	if info.Size() > maxConfigFileSize {
		return cfg, fmt.Errorf("config: file too large: %d bytes", info.Size())
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", cleanPath, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", cleanPath, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", cleanPath, err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func (c Config) validate() error {
	if c.ProjectorWidth < 2 || c.ProjectorHeight < 2 {
		return fmt.Errorf("projector resolution %dx%d is too small", c.ProjectorWidth, c.ProjectorHeight)
	}
	if c.ShadowFloor < 0 || c.ShadowFloor > 255 {
		return fmt.Errorf("shadow_floor %.1f out of range [0, 255]", c.ShadowFloor)
	}
	if c.ContrastFraction < 0 || c.ContrastFraction > 1 {
		return fmt.Errorf("contrast_fraction %.2f out of range [0, 1]", c.ContrastFraction)
	}
	if c.MinSeparation <= 0 {
		return fmt.Errorf("min_separation_mm must be positive, got %.2f", c.MinSeparation)
	}
	if c.BoardRows < 2 || c.BoardCols < 2 {
		return fmt.Errorf("checkerboard %dx%d has too few inner corners", c.BoardRows, c.BoardCols)
	}
	if c.BoardSquareSize <= 0 {
		return fmt.Errorf("board_square_mm must be positive, got %.2f", c.BoardSquareSize)
	}
	return nil
}

// ScanOptions expands the config into session options.
func (c Config) ScanOptions() scan.Options {
	opts := scan.DefaultOptions()
	opts.ProjectorWidth = c.ProjectorWidth
	opts.ProjectorHeight = c.ProjectorHeight
	opts.Patterns.Level = c.PatternLevel
	opts.Decode.ShadowFloor = c.ShadowFloor
	opts.Decode.MinContrast = c.MinContrast
	opts.Decode.ContrastFraction = c.ContrastFraction
	opts.Decode.MaxCols = c.ProjectorWidth
	opts.Decode.MaxRows = c.ProjectorHeight
	opts.Assemble.MinSeparation = c.MinSeparation
	opts.Assemble.NoiseRadius = c.NoiseRadius
	opts.Assemble.ConfidenceFloor = c.ConfidenceFloor
	return opts
}

// CalOptions expands the config into calibration options.
func (c Config) CalOptions() calib.Options {
	opts := calib.DefaultOptions()
	opts.Target = calib.Target{Rows: c.BoardRows, Cols: c.BoardCols, SquareSize: c.BoardSquareSize}
	opts.ProjectorCols = c.ProjectorWidth
	opts.Decode.ShadowFloor = c.ShadowFloor
	opts.Decode.MinContrast = c.MinContrast
	opts.Decode.ContrastFraction = c.ContrastFraction
	opts.Decode.MaxCols = c.ProjectorWidth
	opts.Decode.MaxRows = c.ProjectorHeight
	return opts
}
