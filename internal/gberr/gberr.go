// Package gberr defines the error taxonomy surfaced by cartridge loading and
// CPU execution, as sentinel values usable with errors.Is/errors.As.
package gberr

import "errors"

var (
	// IoFailure means a cartridge or save file could not be read or written.
	IoFailure = errors.New("io failure")
	// MalformedCartridge means the ROM image is too short or has an
	// unrecognized header byte.
	MalformedCartridge = errors.New("malformed cartridge")
	// UnsupportedFeature means the cartridge requires a controller or
	// peripheral this core does not emulate (MBC2/6/7, MMM01, HuC, camera).
	// MBC3 cartridges with a real-time clock still load; their RTC
	// registers read 0x00 and ignore writes.
	UnsupportedFeature = errors.New("unsupported feature")
	// IllegalInstruction means the CPU fetched one of the unused LR35902
	// opcodes and transitioned to Crashed.
	IllegalInstruction = errors.New("illegal instruction")
)
