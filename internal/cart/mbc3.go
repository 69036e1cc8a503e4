package cart

import (
	"bytes"
	"encoding/gob"

	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/logging"
)

// MBC3 implements ROM/RAM banking; the real-time clock is acknowledged but
// not implemented (see DESIGN.md).
// Banking behavior:
// - 0000-1FFF: RAM enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank low 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3), or RTC register select (08-0C)
// - 6000-7FFF: latch clock (ignored without RTC)
// - A000-BFFF: external RAM, or the selected RTC register when one is latched
// ROM: bank 0 fixed at 0000-3FFF; switchable 4000-7FFF uses bank (1..127)

type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	ramBank    byte // 0..3, meaningful only when rtcSelected is false
	rtcSelected bool
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	return m
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		if n := len(m.rom) / 0x4000; n > 0 {
			bank %= n // out-of-range banks wrap modulo the physical bank count
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			logging.Trace("bus conflict: cartridge RAM read while disabled", "addr", addr)
			return 0xFF
		}
		if m.rtcSelected {
			// RTC registers always read back 0x00; the clock is not implemented.
			return 0x00
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		switch {
		case value <= 0x03:
			m.rtcSelected = false
			m.ramBank = value
		case value >= 0x08 && value <= 0x0C:
			m.rtcSelected = true
		default:
			// Neither a valid RAM bank nor an RTC register; leave selection unchanged.
		}
	case addr < 0x8000:
		// Latch clock: ignored without RTC
		_ = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || m.rtcSelected || len(m.ram) == 0 {
			return
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *MBC3) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

type mbc3State struct {
	RAM         []byte
	RamEnabled  bool
	RomBank     byte
	RamBank     byte
	RtcSelected bool
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3State{
		RAM: m.ram, RamEnabled: m.ramEnabled, RomBank: m.romBank,
		RamBank: m.ramBank, RtcSelected: m.rtcSelected,
	})
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	if len(data) == 0 {
		return
	}
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	if len(s.RAM) == len(m.ram) {
		copy(m.ram, s.RAM)
	}
	m.ramEnabled, m.romBank, m.ramBank, m.rtcSelected = s.RamEnabled, s.RomBank, s.RamBank, s.RtcSelected
}
