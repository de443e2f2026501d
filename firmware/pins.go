//go:build tinygo

package main

import "machine"

const (
	// HX711 pins
	PIN_SCK  = machine.D5
	PIN_DOUT = machine.D4

	// Gain selected at boot: 25 = A128, 26 = B32, 27 = A64 clock pulses
	DEFAULT_GAIN_PULSES = 25

	// Ignore this many conversions after a gain change (first one uses the old gain)
	IGNORE_SAMPLES_AFTER_CHANGE = 1

	// Serial configuration
	// Format "unix_micros,raw\n", e.g. "1234567890123456,-8388608\n" = ~26 bytes max per line
	// 80 conversions/sec * 26 bytes/line = 2,080 bytes/sec
	// 115200 8N1 provides ~5.5x headroom (11,520 bytes/sec max)
	UART_BAUD_RATE = 115200
)
