// Package bus wires the CPU-visible 16-bit address space to the cartridge,
// work/high RAM, and the PPU/timer/interrupt/input/DMA peripherals, each of
// which owns its own state behind a narrow interface.
package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/apu"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/cart"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/dma"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/input"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/interrupt"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/ppu"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/timer"
)

// Bus dispatches reads and writes by region (ROM/RAM banks via the
// cartridge, VRAM/OAM/PPU IO via the PPU, and WRAM/HRAM/timer/interrupt/
// joypad/DMA locally), the same breakdown the address map's components fall
// into.
type Bus struct {
	cart cart.Cartridge

	wram [0x2000]byte // 0xC000-0xDFFF, echoed at 0xE000-0xFDFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	ppu *ppu.PPU
	irq *interrupt.Controller
	tmr *timer.Timer
	pad *input.Pad
	dma *dma.Controller
	apu *apu.APU

	sb byte // FF01
	sc byte // FF02
	sw io.Writer

	bootROM     []byte
	bootEnabled bool
}

// New constructs a Bus around a cartridge parsed from rom.
func New(rom []byte) (*Bus, error) {
	c, err := cart.NewCartridge(rom)
	if err != nil {
		return nil, err
	}
	return NewWithCartridge(c), nil
}

// NewWithCartridge wires a pre-built cartridge implementation, useful for
// tests that exercise the bus against a ROM-only stub.
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c}
	b.irq = interrupt.New()
	b.tmr = timer.New(b.irq)
	b.pad = input.New(b.irq)
	b.dma = dma.New()
	b.apu = apu.New(48000)
	b.ppu = ppu.New(func(bit int) {
		switch bit {
		case 0:
			b.irq.Request(interrupt.VBlank)
		case 1:
			b.irq.Request(interrupt.LCDStat)
		}
	})
	return b
}

// PPU exposes the PPU for renderer-side frame composition.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// Cart exposes the cartridge for battery save/load operations.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// Interrupts exposes the interrupt controller the CPU polls and dispatches.
func (b *Bus) Interrupts() *interrupt.Controller { return b.irq }

// APU exposes the sound unit so a host renderer can pull PCM samples.
func (b *Bus) APU() *apu.APU { return b.apu }

// PressButton and ReleaseButton forward to the joypad matrix.
func (b *Bus) PressButton(btn input.Button)   { b.pad.Press(btn) }
func (b *Bus) ReleaseButton(btn input.Button) { b.pad.Unpress(btn) }

// JoypadPressed reports whether any button is currently held, the wake
// condition the CPU polls while in STOP mode.
func (b *Bus) JoypadPressed() bool { return b.pad.AnyPressed() }

// ReadForDMA implements dma.Reader. DMA has its own bus master on real
// hardware, independent of PPU mode restrictions on the CPU.
func (b *Bus) ReadForDMA(addr uint16) byte {
	switch {
	case addr < 0x8000:
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.Read(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.wram[(addr-0x2000)-0xC000]
	default:
		return 0xFF
	}
}

// WriteOAMByte implements dma.Writer.
func (b *Bus) WriteOAMByte(index int, value byte) {
	b.ppu.CPUWrite(0xFE00+uint16(index), value)
}

// pageTable dispatches by the top 4 bits of the address (a 4 KiB page),
// the same breakdown the address map's components fall into. Page 0xF
// (0xF000-0xFFFF) gets a dedicated override, ioPageRead/ioPageWrite, since
// it alone packs echo RAM, OAM, the IO registers, HRAM, and IE into one
// page; every other page maps to exactly one peripheral.
var pageTable = [16]struct {
	read  func(b *Bus, addr uint16) byte
	write func(b *Bus, addr uint16, value byte)
}{
	0x0: {page0Read, cartWrite},
	0x1: {cartRead, cartWrite}, 0x2: {cartRead, cartWrite}, 0x3: {cartRead, cartWrite},
	0x4: {cartRead, cartWrite}, 0x5: {cartRead, cartWrite}, 0x6: {cartRead, cartWrite},
	0x7: {cartRead, cartWrite},
	0x8: {vramRead, vramWrite}, 0x9: {vramRead, vramWrite},
	0xA: {cartRead, cartWrite}, 0xB: {cartRead, cartWrite},
	0xC: {wramRead, wramWrite}, 0xD: {wramRead, wramWrite},
	0xE: {echoRead, echoWrite},
	0xF: {ioPageRead, ioPageWrite},
}

func page0Read(b *Bus, addr uint16) byte {
	if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
		return b.bootROM[addr]
	}
	return b.cart.Read(addr)
}

func cartRead(b *Bus, addr uint16) byte         { return b.cart.Read(addr) }
func cartWrite(b *Bus, addr uint16, value byte) { b.cart.Write(addr, value) }

func vramRead(b *Bus, addr uint16) byte         { return b.ppu.CPURead(addr) }
func vramWrite(b *Bus, addr uint16, value byte) { b.ppu.CPUWrite(addr, value) }

func wramRead(b *Bus, addr uint16) byte         { return b.wram[addr-0xC000] }
func wramWrite(b *Bus, addr uint16, value byte) { b.wram[addr-0xC000] = value }

func echoRead(b *Bus, addr uint16) byte         { return b.wram[(addr-0x2000)-0xC000] }
func echoWrite(b *Bus, addr uint16, value byte) { b.wram[(addr-0x2000)-0xC000] = value }

// ioPageRead and ioPageWrite are the dedicated override for page 0xF: the
// echo RAM tail, OAM, the unusable range, the 0xFF00-0xFF7F IO registers,
// HRAM, and IE.
func ioPageRead(b *Bus, addr uint16) byte {
	switch {
	case addr <= 0xFDFF:
		return echoRead(b, addr)
	case addr >= 0xFE00 && addr <= 0xFE9F:
		return b.ppu.CPURead(addr)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return 0xFF
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFFFF:
		return b.irq.ReadIE()
	case addr == 0xFF00:
		return b.pad.Read()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr == 0xFF04:
		return b.tmr.ReadDIV()
	case addr == 0xFF05:
		return b.tmr.ReadTIMA()
	case addr == 0xFF06:
		return b.tmr.ReadTMA()
	case addr == 0xFF07:
		return b.tmr.ReadTAC()
	case addr == 0xFF0F:
		return b.irq.ReadIF()
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return 0xFF
	case addr == 0xFF50:
		return 0xFF
	case addr >= 0xFF10 && addr <= 0xFF26, addr >= 0xFF30 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	default:
		return 0xFF
	}
}

func ioPageWrite(b *Bus, addr uint16, value byte) {
	switch {
	case addr <= 0xFDFF:
		echoWrite(b, addr, value)
	case addr >= 0xFE00 && addr <= 0xFE9F:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		// unusable range, writes discarded
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFFFF:
		b.irq.WriteIE(value)
	case addr == 0xFF00:
		b.pad.Write(value)
	case addr == 0xFF01:
		b.sb = value
	case addr == 0xFF02:
		b.sc = value & 0x81
		if b.sc&0x80 != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.irq.Request(interrupt.Serial)
			b.sc &^= 0x80
		}
	case addr == 0xFF04:
		b.tmr.WriteDIV(value)
	case addr == 0xFF05:
		b.tmr.WriteTIMA(value)
	case addr == 0xFF06:
		b.tmr.WriteTMA(value)
	case addr == 0xFF07:
		b.tmr.WriteTAC(value)
	case addr == 0xFF0F:
		b.irq.WriteIF(value)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.dma.Start(value)
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
	case addr >= 0xFF10 && addr <= 0xFF26, addr >= 0xFF30 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
	}
}

func (b *Bus) Read(addr uint16) byte {
	if b.dma.BlocksBusAccess(addr) {
		return 0xFF
	}
	return pageTable[addr>>12].read(b, addr)
}

func (b *Bus) Write(addr uint16, value byte) {
	if b.dma.BlocksBusAccess(addr) {
		return
	}
	pageTable[addr>>12].write(b, addr, value)
}

// SetSerialWriter sets a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a DMG boot ROM to be mapped at 0x0000-0x00FF until a
// write to 0xFF50 disables it.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// Tick advances the timer, PPU, and OAM DMA by cycles machine cycles. The
// CPU calls this once per instruction with the cycle count it just spent.
func (b *Bus) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	b.tmr.Tick(cycles)
	b.ppu.Tick(cycles)
	b.dma.Tick(cycles, b, b)
	b.apu.Tick(cycles)
}

type busState struct {
	WRAM        [0x2000]byte
	HRAM        [0x7F]byte
	IF, IE      byte
	IME         bool
	Timer       timer.State
	DMA         dma.State
	SB, SC      byte
	BootEnabled bool
	PPU         []byte
	Cart        []byte
	APU         []byte
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	s := busState{
		WRAM: b.wram, HRAM: b.hram,
		IF: b.irq.IF, IE: b.irq.IE, IME: b.irq.IME,
		Timer: b.tmr.Snapshot(), DMA: b.dma.Snapshot(),
		SB: b.sb, SC: b.sc, BootEnabled: b.bootEnabled,
		PPU: b.ppu.SaveState(), Cart: b.cart.SaveState(),
		APU: b.apu.SaveState(),
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	var s busState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	b.wram, b.hram = s.WRAM, s.HRAM
	b.irq.IF, b.irq.IE, b.irq.IME = s.IF, s.IE, s.IME
	b.tmr.Restore(s.Timer)
	b.dma.Restore(s.DMA)
	b.sb, b.sc, b.bootEnabled = s.SB, s.SC, s.BootEnabled
	b.ppu.LoadState(s.PPU)
	b.cart.LoadState(s.Cart)
	if len(s.APU) > 0 {
		b.apu.LoadState(s.APU)
	}
}
