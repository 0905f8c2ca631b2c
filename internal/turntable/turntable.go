// Package turntable drives the stepper turntable over a serial link. The
// controller accepts a rotation in degrees terminated by a newline and
// replies with a DONE line once the motor has settled, optionally carrying
// the realized angle.
package turntable

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Controller is a turntable attached to a serial port.
type Controller struct {
	port    serial.Port
	reader  *bufio.Reader
	timeout time.Duration
}

// ListPorts returns the serial ports visible on this machine.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Open connects to the turntable controller. The board resets when the port
// opens, so Open waits for it to come back up before returning.
func Open(portName string, baudRate int) (*Controller, error) {
	if baudRate <= 0 {
		baudRate = 115200
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("turntable: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("turntable: set read timeout: %w", err)
	}
	time.Sleep(2 * time.Second)

	return &Controller{
		port:    port,
		reader:  bufio.NewReader(port),
		timeout: 30 * time.Second,
	}, nil
}

// Close closes the serial port.
func (c *Controller) Close() error {
	return c.port.Close()
}

// Rotate commands a relative rotation and blocks until the controller
// reports completion. It returns the realized angle: the value the
// controller echoed with DONE when present, else the requested one.
func (c *Controller) Rotate(ctx context.Context, degrees float64) (float64, error) {
	cmd := strconv.FormatFloat(degrees, 'f', -1, 64) + "\n"
	if _, err := c.port.Write([]byte(cmd)); err != nil {
		return 0, fmt.Errorf("turntable: write command: %w", err)
	}

	deadline := time.Now().Add(c.timeout)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("turntable: timed out waiting for DONE after %.1f degree rotation", degrees)
		}

		line, err := c.reader.ReadString('\n')
		if err != nil && line == "" {
			// Read timeout with nothing buffered; keep polling.
			continue
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "DONE") {
			// Controllers chatter during homing; ignore anything else.
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if realized, perr := strconv.ParseFloat(fields[1], 64); perr == nil {
				return realized, nil
			}
		}
		return degrees, nil
	}
}
