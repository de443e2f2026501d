//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"runtime/interrupt"
	"time"
)

var (
	uart = machine.UART0

	// Clock pulses per conversion, selects channel and gain of the next one
	gainPulses      = DEFAULT_GAIN_PULSES
	ignoreCountdown int

	// Serial buffer for reading lines
	serialBuffer [8]byte
	serialPos    int
)

func main() {
	PIN_SCK.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_DOUT.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	// PD_SCK low powers the HX711 up
	PIN_SCK.Low()

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	// Main loop
	for {
		processSerial()

		// DOUT low means a conversion is ready
		if !PIN_DOUT.Get() {
			raw := readHX711()
			if ignoreCountdown > 0 {
				ignoreCountdown--
			} else {
				outputSample(raw)
			}
		}

		time.Sleep(100 * time.Microsecond)
	}
}

// readHX711 clocks out one conversion, 24 bits MSB first, followed by the
// gain selection pulses. Interrupts stay off so PD_SCK is never held high
// long enough to power the chip down.
func readHX711() int32 {
	var data uint32

	state := interrupt.Disable()
	for i := 0; i < gainPulses; i++ {
		PIN_SCK.High()
		delayMicro()
		if i < 24 {
			data <<= 1
			if PIN_DOUT.Get() {
				data |= 1
			}
		}
		PIN_SCK.Low()
		delayMicro()
	}
	interrupt.Restore(state)

	// Sign extend 24-bit two's complement
	if data&0x800000 != 0 {
		return int32(data) - 0x1000000
	}
	return int32(data)
}

func outputSample(raw int32) {
	// Get timestamp in unix microseconds
	timestampMicros := time.Now().UnixNano() / 1000

	// Output format: "unix_micros,raw\n"
	// Example: "1234567890123,-15234\n"
	print(timestampMicros)
	print(",")
	print(raw)
	print("\n")
}

func processSerial() {
	// Read available bytes from serial
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		// Check for newline (end of line)
		if data == '\n' || data == '\r' {
			updateGain(string(serialBuffer[:serialPos]))
			serialPos = 0
			continue
		}

		// Ignore whitespace
		if data == ' ' || data == '\t' {
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			// Overlong line - reset buffer
			serialPos = 0
		}
	}
}

// updateGain handles "A128", "B32" and "A64" commands.
func updateGain(cmd string) {
	pulses := 0
	switch cmd {
	case "A128":
		pulses = 25
	case "B32":
		pulses = 26
	case "A64":
		pulses = 27
	default:
		return
	}

	if pulses != gainPulses {
		gainPulses = pulses
		ignoreCountdown = IGNORE_SAMPLES_AFTER_CHANGE
	}
}
