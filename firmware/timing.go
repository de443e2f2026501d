//go:build tinygo

package main

import "device/arm"

// delayMicro waits about one microsecond at 48MHz, the minimum PD_SCK phase.
func delayMicro() {
	for i := 0; i < 48; i++ {
		arm.Asm("nop")
	}
}
