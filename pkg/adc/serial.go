package adc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the standard baud rate of the streaming firmware.
	DefaultBaudRate = 115200
	// DefaultSerialRate is the conversion rate of an HX711 with RATE tied low.
	DefaultSerialRate = 10
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a Source fed by an MCU that streams raw conversions over a
// serial line, one "unix_micros,raw" record per line.
type Serial struct {
	port     string
	baudRate int
	maxRate  float64

	mu     sync.Mutex
	conn   serial.Port
	cancel context.CancelFunc
	done   chan struct{}
	gain   string // last gain command, replayed on PowerOn

	latest atomic.Int32
	stamp  atomic.Int64
	ready  atomic.Bool
}

// NewSerial creates a serial Source with the specified port, baud rate and
// the firmware's conversion rate.
func NewSerial(port string, baudRate int, maxRate float64) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if maxRate <= 0 {
		maxRate = DefaultSerialRate
	}

	return &Serial{
		port:     port,
		baudRate: baudRate,
		maxRate:  maxRate,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// PowerOn opens the serial port and starts reading conversions.
func (d *Serial) PowerOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{
		BaudRate: d.baudRate,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.start(port)

	if d.gain != "" {
		if err := d.sendGain(); err != nil {
			return err
		}
	}

	return nil
}

// SetGain asks the firmware to switch channel and gain: "A128", "B32" or
// "A64". The selection is kept and sent again on every PowerOn.
func (d *Serial) SetGain(gain string) error {
	switch gain {
	case "A128", "B32", "A64":
	default:
		return fmt.Errorf("invalid gain %q", gain)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.gain = gain
	if d.conn == nil {
		return nil
	}
	return d.sendGain()
}

// sendGain writes the gain command. Caller holds d.mu.
func (d *Serial) sendGain() error {
	if _, err := d.conn.Write([]byte(d.gain + "\n")); err != nil {
		return fmt.Errorf("failed to send gain command: %w", err)
	}
	return nil
}

// start launches the reader goroutine on r. Caller holds d.mu.
func (d *Serial) start(r io.Reader) {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.ready.Store(false)
	go d.readSamples(ctx, r, d.done)
}

// PowerOff closes the port and stops reading.
func (d *Serial) PowerOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel == nil {
		return nil
	}

	d.cancel()
	d.cancel = nil

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}

	<-d.done
	d.ready.Store(false)

	return nil
}

// Close releases the port.
func (d *Serial) Close() error {
	return d.PowerOff()
}

// Ready reports whether a conversion arrived since the last ReadRaw.
func (d *Serial) Ready() bool {
	return d.ready.Load()
}

// ReadRaw returns the most recent conversion.
func (d *Serial) ReadRaw() (RawSample, error) {
	if !d.ready.Swap(false) {
		return 0, ErrNotReady
	}
	return RawSample(d.latest.Load()), nil
}

// Timestamp returns the MCU time of the most recent conversion.
func (d *Serial) Timestamp() time.Time {
	return time.UnixMicro(d.stamp.Load())
}

// MaxSampleRate returns the firmware conversion rate.
func (d *Serial) MaxSampleRate() float64 {
	return d.maxRate
}

// readSamples reads lines from r and publishes the latest conversion.
func (d *Serial) readSamples(ctx context.Context, r io.Reader, done chan struct{}) {
	defer close(done)
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Panic in readSamples: %v", rec)
		}
	}()

	scanner := bufio.NewScanner(r)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil && err != io.EOF && ctx.Err() == nil {
					log.Printf("Error reading from serial port: %v", err)
				}
				return
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			ts, raw, err := parseLine(line)
			if err != nil {
				log.Printf("Failed to parse line '%s': %v", line, err)
				continue
			}

			d.latest.Store(int32(raw))
			d.stamp.Store(ts.UnixMicro())
			d.ready.Store(true)
		}
	}
}

// parseLine parses a line from the MCU.
// Format: unix_micros,raw
// Example: 1234567890123,-15234
func parseLine(line string) (time.Time, RawSample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return time.Time{}, 0, fmt.Errorf("invalid line format: expected 2 comma-separated values, got %d", len(parts))
	}

	timestampMicros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid timestamp: %w", err)
	}

	raw, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid reading: %w", err)
	}
	if raw < int64(MinSample) || raw > int64(MaxSample) {
		return time.Time{}, 0, fmt.Errorf("reading out of range: %d", raw)
	}

	return time.UnixMicro(timestampMicros), RawSample(raw), nil
}
