package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg != def {
		t.Errorf("missing file: got %+v, want defaults %+v", cfg, def)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner.json")
	want := Default()
	want.Listen = ":9090"
	want.SerialPort = "/dev/ttyUSB0"
	want.ProjectorWidth = 1280
	want.ProjectorHeight = 720
	want.ShadowFloor = 30

	if err := want.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Errorf("round trip: got %+v, want %+v", got, want)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner.json")
	if err := os.WriteFile(path, []byte(`{"listen": ":9999"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("listen = %q, want overridden value", cfg.Listen)
	}
	if cfg.BaudRate != Default().BaudRate {
		t.Errorf("baud rate = %d, want default %d", cfg.BaudRate, Default().BaudRate)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad json":           `{listen}`,
		"tiny projector":     `{"projector_width": 1}`,
		"shadow floor range": `{"shadow_floor": 300}`,
		"contrast fraction":  `{"contrast_fraction": 2}`,
		"board too small":    `{"board_rows": 1}`,
		"square size":        `{"board_square_mm": -1}`,
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "scanner.json")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestScanOptions_CarriesTunables(t *testing.T) {
	cfg := Default()
	cfg.ProjectorWidth = 1280
	cfg.ProjectorHeight = 800
	cfg.ShadowFloor = 55
	cfg.MinSeparation = 0.8

	opts := cfg.ScanOptions()
	if opts.ProjectorWidth != 1280 || opts.ProjectorHeight != 800 {
		t.Errorf("projector size = %dx%d", opts.ProjectorWidth, opts.ProjectorHeight)
	}
	if opts.Decode.ShadowFloor != 55 {
		t.Errorf("shadow floor = %g, want 55", opts.Decode.ShadowFloor)
	}
	if opts.Decode.MaxCols != 1280 {
		t.Errorf("max cols = %d, want 1280", opts.Decode.MaxCols)
	}
	if opts.Assemble.MinSeparation != 0.8 {
		t.Errorf("min separation = %g, want 0.8", opts.Assemble.MinSeparation)
	}
}

func TestCalOptions_CarriesTarget(t *testing.T) {
	cfg := Default()
	cfg.BoardRows = 9
	cfg.BoardCols = 6
	cfg.BoardSquareSize = 25

	opts := cfg.CalOptions()
	if opts.Target.Rows != 9 || opts.Target.Cols != 6 || opts.Target.SquareSize != 25 {
		t.Errorf("target = %+v", opts.Target)
	}
	if opts.ProjectorCols != cfg.ProjectorWidth {
		t.Errorf("projector cols = %d, want %d", opts.ProjectorCols, cfg.ProjectorWidth)
	}
}
