// Command scanner3d runs the structured-light scanner server: it drives the
// turntable, bridges the phone camera over HTTP, and exposes the operator
// API for calibration and scanning.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/api"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/config"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/scan"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/store"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/turntable"
	"github.com/TtT609/Structured-Light-for-3D-Model-Replication/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "scanner.json", "path to the JSON config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	serialPort := flag.String("serial", "", "turntable serial port (overrides config)")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	flag.Parse()

	if *listPorts {
		ports, err := turntable.ListPorts()
		if err != nil {
			log.Fatalf("List ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if *writeConfig {
		if err := config.Default().Save(*configPath); err != nil {
			log.Fatalf("Write config: %v", err)
		}
		log.Printf("Wrote default config to %s", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *serialPort != "" {
		cfg.SerialPort = *serialPort
	}

	log.Printf("Starting scanner server v%s (commit %s, built %s)",
		version.Version, version.GitCommit, version.BuildTime)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Open store: %v", err)
	}
	defer db.Close()

	var table scan.Turntable
	if cfg.SerialPort != "" {
		ctrl, err := turntable.Open(cfg.SerialPort, cfg.BaudRate)
		if err != nil {
			log.Fatalf("Open turntable on %s: %v", cfg.SerialPort, err)
		}
		defer ctrl.Close()
		table = ctrl
		log.Printf("Turntable connected on %s", cfg.SerialPort)
	} else {
		log.Printf("No serial port configured; scans will fail until one is set")
	}

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		log.Fatalf("Create output dir %s: %v", cfg.OutDir, err)
	}

	server := api.NewServer(api.Config{
		Turntable:   table,
		Store:       db,
		ScanOptions: cfg.ScanOptions(),
		CalOptions:  cfg.CalOptions(),
		CalibPath:   cfg.CalibPath,
		OutDir:      cfg.OutDir,
	})
	defer server.Close()

	log.Printf("Listening on %s", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, server.ServeMux()); err != nil {
		log.Fatalf("HTTP server: %v", err)
	}
}
