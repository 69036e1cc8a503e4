package cart

import "testing"

func TestMBC3_ROMBanking(t *testing.T) {
	rom := make([]byte, 256*1024)
	for bank := 0; bank < 16; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC3(rom, 0)

	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("bank0 read got %02X want 00", got)
	}
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("default switchable bank got %02X want 01", got)
	}

	m.Write(0x2000, 0x05)
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("bank5 read got %02X want 05", got)
	}

	// Writing 0 maps to 1, unlike MBC5.
	m.Write(0x2000, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC3_RAMBanking(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 4*0x2000)
	m.Write(0x0000, 0x0A) // enable RAM
	m.Write(0x4000, 0x02) // select RAM bank 2

	m.Write(0xA000, 0x5A)
	if got := m.Read(0xA000); got != 0x5A {
		t.Fatalf("RAM bank2 RW failed: got %02X", got)
	}
}

func TestMBC3_RTCRegistersAbsorbedNotImplemented(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	m.Write(0x0000, 0x0A) // enable RAM

	// Selecting an RTC register (0x08-0x0C) does not disturb RAM bank 0.
	m.Write(0xA000, 0x11)
	m.Write(0x4000, 0x08) // select RTC seconds
	if got := m.Read(0xA000); got != 0x00 {
		t.Fatalf("RTC register read got %02X want 00 (unimplemented)", got)
	}

	// Writes while an RTC register is selected must not land in RAM.
	m.Write(0xA000, 0x42)

	m.Write(0x4000, 0x00) // back to RAM bank 0
	if got := m.Read(0xA000); got != 0x11 {
		t.Fatalf("RAM bank 0 corrupted by RTC selection: got %02X want 11", got)
	}
}

func TestMBC3_RAMDisabledReadsFF(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}
}
