package cart

import (
	"fmt"

	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/gberr"
)

// Cartridge defines the minimal interface the Bus needs for ROM/RAM banking.
// Implementations can be ROM-only or MBC variants. Addresses are CPU addresses.
type Cartridge interface {
	// Read returns a byte for ROM (0x0000–0x7FFF) and external RAM (0xA000–0xBFFF).
	Read(addr uint16) byte
	// Write handles MBC control writes (0x0000–0x7FFF) and external RAM writes (0xA000–0xBFFF).
	Write(addr uint16, value byte)
	// SaveState/LoadState serialize internal banking registers and external RAM for save states.
	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is an optional interface for cartridges with external RAM to be persisted.
// Implementations should return a copy of RAM bytes (may be empty if no RAM), and accept data to load.
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// NewCartridge picks an implementation based on the ROM header's cartridge
// type byte. Peripherals this core does not emulate (MBC2, MBC6, MBC7,
// HuC1/3, cameras) fail loudly with gberr.UnsupportedFeature rather than
// silently degrading to a ROM-only cartridge that would run but corrupt
// save data.
func NewCartridge(rom []byte) (Cartridge, error) {
	if len(rom) < 0x4000 {
		return nil, fmt.Errorf("%w: ROM is %d bytes, need at least 0x4000", gberr.MalformedCartridge, len(rom))
	}
	h, err := ParseHeader(rom)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gberr.MalformedCartridge, err)
	}
	switch h.CartType {
	case 0x00:
		return NewROMOnly(rom), nil
	case 0x01, 0x02, 0x03: // MBC1 variants (RAM, RAM+BAT are transparent here)
		return NewMBC1(rom, h.RAMSizeBytes), nil
	case 0x0F, 0x10, 0x11, 0x12, 0x13: // MBC3 variants (RTC register selects are absorbed, see mbc3.go)
		return NewMBC3(rom, h.RAMSizeBytes), nil
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E: // MBC5 variants
		return NewMBC5(rom, h.RAMSizeBytes), nil
	case 0x05, 0x06, 0x08, 0x09, 0x0B, 0x0C, 0x0D, 0x20, 0x22, 0xFC, 0xFD, 0xFE, 0xFF: // MBC2, ROM+RAM, MMM01, MBC6, MBC7, camera, TAMA5, HuC3, HuC1
		return nil, fmt.Errorf("%w: cartridge type 0x%02X (%s)", gberr.UnsupportedFeature, h.CartType, h.CartTypeStr)
	default:
		return nil, fmt.Errorf("%w: unknown cartridge type 0x%02X", gberr.MalformedCartridge, h.CartType)
	}
}

// IsBattery reports whether the cartridge type byte indicates battery-backed
// RAM, i.e. whether a .sav file should be written at shutdown.
func IsBattery(cartType byte) bool {
	switch cartType {
	case 0x03, 0x06, 0x09, 0x0D, 0x0F, 0x10, 0x13, 0x1B, 0x1E, 0x22, 0xFF:
		return true
	default:
		return false
	}
}
