// Package emu drives the CPU/bus pair one frame at a time and composes the
// finished scanlines into an RGBA framebuffer for a host renderer.
package emu

import (
	"fmt"
	"io"
	"os"

	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/bus"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/cart"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/cpu"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/input"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/logging"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/ppu"
)

// frameCycles is the T-cycle length of one 154-scanline frame (154*456).
const frameCycles = 70224

// Buttons is a snapshot of the joypad matrix for one host input poll.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

// Machine owns one running game: its bus, CPU, and the framebuffer the host
// renderer reads after each StepFrame.
type Machine struct {
	cfg  Config
	w, h int
	fb   []byte // RGBA 160x144*4

	bus *bus.Bus
	cpu *cpu.CPU

	pendingBoot []byte
	romPath     string
	romTitle    string

	lastROM  []byte
	lastBoot []byte
}

// SetBootROM stages a boot ROM image to be mapped in by the next
// LoadCartridge call that isn't given one explicitly.
func (m *Machine) SetBootROM(data []byte) { m.pendingBoot = data }

// ROMPath reports the path most recently passed to LoadROMFromFile.
func (m *Machine) ROMPath() string { return m.romPath }

func New(cfg Config) *Machine {
	return &Machine{
		cfg: cfg, w: 160, h: 144,
		fb: make([]byte, 160*144*4),
	}
}

// LoadCartridge parses rom, wires a fresh Bus/CPU pair, and resets to
// post-boot state (or to 0x0000 if a boot ROM image is supplied).
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	return m.loadCartridge(rom, boot, true)
}

func (m *Machine) loadCartridge(rom []byte, boot []byte, allowPendingBoot bool) error {
	if len(boot) < 0x100 && allowPendingBoot {
		boot = m.pendingBoot
	}
	b, err := bus.New(rom)
	if err != nil {
		return err
	}
	if len(boot) >= 0x100 {
		b.SetBootROM(boot)
	}
	m.bus = b
	m.cpu = cpu.New(b)
	if len(boot) >= 0x100 {
		m.cpu.SP = 0xFFFE
		m.cpu.PC = 0x0000
		m.cpu.IME = false
	} else {
		m.cpu.ResetNoBoot()
		m.initPostBootIO()
	}
	m.lastROM = rom
	m.lastBoot = boot
	m.romTitle = ""
	if h, err := cart.ParseHeader(rom); err == nil {
		m.romTitle = h.Title
	}
	return nil
}

// ROMTitle returns the cartridge header title of the loaded ROM, or "" if
// none is loaded or the header couldn't be parsed.
func (m *Machine) ROMTitle() string { return m.romTitle }

// ResetPostBoot reloads the current cartridge straight into post-boot CPU
// state, skipping the boot ROM even if one is staged.
func (m *Machine) ResetPostBoot() error {
	if m.lastROM == nil {
		return nil
	}
	return m.loadCartridge(m.lastROM, nil, false)
}

// ResetWithBoot reloads the current cartridge and re-runs the staged boot
// ROM from 0x0000, if one is available.
func (m *Machine) ResetWithBoot() error {
	if m.lastROM == nil {
		return nil
	}
	rom := m.lastROM
	boot := m.lastBoot
	if len(boot) < 0x100 {
		boot = m.pendingBoot
	}
	return m.LoadCartridge(rom, boot)
}

// SetUseFetcherBG is a renderer hint; the frame driver only implements the
// tile-fetcher-based background renderer, so this call is accepted for
// compatibility but has no effect.
func (m *Machine) SetUseFetcherBG(use bool) { m.cfg.UseFetcherBG = use }

// LoadROMFromFile reads path and loads it, using any previously staged
// boot ROM, and records the path for later battery-save placement.
func (m *Machine) LoadROMFromFile(path string) error {
	rom, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(rom, nil); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// LoadBattery restores external cartridge RAM from a .sav image. Reports
// false if the loaded cartridge has no battery-backed RAM.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	if h, err := cart.ParseHeader(m.lastROM); err != nil || !cart.IsBattery(h.CartType) {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns a copy of external cartridge RAM for persisting to a
// .sav file. Reports false if the loaded cartridge has no battery-backed RAM.
func (m *Machine) SaveBattery() ([]byte, bool) {
	if m.bus == nil {
		return nil, false
	}
	if h, err := cart.ParseHeader(m.lastROM); err != nil || !cart.IsBattery(h.CartType) {
		return nil, false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// initPostBootIO mirrors the values a DMG boot ROM leaves behind, the same
// defaults used by the headless cpu runner.
func (m *Machine) initPostBootIO() {
	b := m.bus
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00)
	b.Write(0xFF06, 0x00)
	b.Write(0xFF07, 0x00)
	b.Write(0xFF40, 0x91)
	b.Write(0xFF42, 0x00)
	b.Write(0xFF43, 0x00)
	b.Write(0xFF45, 0x00)
	b.Write(0xFF47, 0xFC)
	b.Write(0xFF48, 0xFF)
	b.Write(0xFF49, 0xFF)
	b.Write(0xFF4A, 0x00)
	b.Write(0xFF4B, 0x00)
	b.Write(0xFFFF, 0x00)
}

// SetSerialWriter forwards to the bus so callers can observe link-cable
// output (blargg-style test ROMs report pass/fail this way).
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// StepFrame runs the CPU for one full frame and composes the framebuffer.
func (m *Machine) StepFrame() { m.runFrame(true) }

// StepFrameNoRender runs the CPU for one full frame without composing
// pixels, useful for serial-output-driven test ROMs that never render.
func (m *Machine) StepFrameNoRender() { m.runFrame(false) }

func (m *Machine) runFrame(render bool) {
	if m.cpu == nil || m.bus == nil {
		return
	}
	prevLY := m.bus.PPU().LY()
	acc := 0
	for acc < frameCycles*2 {
		pc := m.cpu.PC
		cyc := m.cpu.Step()
		if m.cfg.Trace {
			logging.Trace("step", "pc", pc, "cycles", cyc)
		}
		acc += cyc
		ly := m.bus.PPU().LY()
		if ly < prevLY {
			break
		}
		prevLY = ly
		if acc >= frameCycles && m.bus.PPU().LCDC()&0x80 == 0 {
			break
		}
	}
	if render {
		m.renderFrame()
	}
}

// spritePixel is a selected, opaque sprite pixel awaiting palette lookup.
type spritePixel struct {
	ci   byte
	attr byte
	has  bool
}

// spriteLineWithPalette re-derives ComposeSpriteLine's priority selection
// but keeps each winning pixel's attribute byte, which the caller needs to
// pick OBP0 vs OBP1.
func spriteLineWithPalette(mem ppu.VRAMReader, sprites []ppu.Sprite, ly byte, bgci [160]byte, tall bool) [160]spritePixel {
	height := 8
	if tall {
		height = 16
	}
	var out [160]spritePixel
	var winner [160]*ppu.Sprite
	for i := range sprites {
		s := &sprites[i]
		row := int(ly) - s.Y
		if row < 0 || row >= height {
			continue
		}
		if s.Attr&0x40 != 0 {
			row = height - 1 - row
		}
		tile := s.Tile
		if tall {
			tile &^= 1
			if row >= 8 {
				tile |= 1
				row -= 8
			}
		}
		addr := uint16(0x8000) + uint16(tile)*16 + uint16(row)*2
		lo := mem.Read(addr)
		hi := mem.Read(addr + 1)
		for px := 0; px < 8; px++ {
			x := s.X + px
			if x < 0 || x >= 160 {
				continue
			}
			bit := 7 - px
			if s.Attr&0x20 != 0 {
				bit = px
			}
			ci := ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
			if ci == 0 {
				continue
			}
			if cur := winner[x]; cur != nil {
				if cur.X < s.X || (cur.X == s.X && cur.OAMIndex <= s.OAMIndex) {
					continue
				}
			}
			winner[x] = s
			out[x] = spritePixel{ci: ci, attr: s.Attr, has: true}
		}
	}
	for x := 0; x < 160; x++ {
		if out[x].has && out[x].attr&0x80 != 0 && bgci[x] != 0 {
			out[x] = spritePixel{}
		}
	}
	return out
}

var dmgShades = [4]byte{0xFF, 0xAA, 0x55, 0x00}

func paletteColor(pal, ci byte) byte {
	shade := (pal >> (ci * 2)) & 0x03
	return dmgShades[shade]
}

func (m *Machine) renderFrame() {
	p := m.bus.PPU()
	if p.LCDC()&0x80 == 0 {
		for i := range m.fb {
			m.fb[i] = 0xFF
		}
		return
	}
	for y := 0; y < m.h; y++ {
		regs := p.LineRegs(y)
		lcdc := regs.LCDC

		var bgLine [160]byte
		if lcdc&0x01 != 0 {
			mapBase := uint16(0x9800)
			if lcdc&0x08 != 0 {
				mapBase = 0x9C00
			}
			tileData8000 := lcdc&0x10 != 0
			bgLine = ppu.RenderBGScanlineUsingFetcher(p, mapBase, tileData8000, regs.SCX, regs.SCY, byte(y))
		}
		if lcdc&0x20 != 0 && regs.WX <= 166 {
			winMapBase := uint16(0x9800)
			if lcdc&0x40 != 0 {
				winMapBase = 0x9C00
			}
			tileData8000 := lcdc&0x10 != 0
			wxStart := int(regs.WX) - 7
			winLine := ppu.RenderWindowScanlineUsingFetcher(p, winMapBase, tileData8000, wxStart, regs.WinLine)
			start := wxStart
			if start < 0 {
				start = 0
			}
			for x := start; x < 160; x++ {
				bgLine[x] = winLine[x]
			}
		}

		var sprites [160]spritePixel
		if lcdc&0x02 != 0 {
			tall := lcdc&0x04 != 0
			sprites = spriteLineWithPalette(p, p.SpritesOnLine(y), byte(y), bgLine, tall)
		}

		row := y * m.w * 4
		for x := 0; x < 160; x++ {
			gray := paletteColor(regs.BGP, bgLine[x])
			if sprites[x].has {
				obp := regs.OBP0
				if sprites[x].attr&0x10 != 0 {
					obp = regs.OBP1
				}
				gray = paletteColor(obp, sprites[x].ci)
			}
			i := row + x*4
			m.fb[i+0], m.fb[i+1], m.fb[i+2], m.fb[i+3] = gray, gray, gray, 0xFF
		}
	}
}

func (m *Machine) Framebuffer() []byte { return m.fb }

func (m *Machine) SetButtons(b Buttons) {
	if m.bus == nil {
		return
	}
	set := func(btn input.Button, pressed bool) {
		if pressed {
			m.bus.PressButton(btn)
		} else {
			m.bus.ReleaseButton(btn)
		}
	}
	set(input.A, b.A)
	set(input.B, b.B)
	set(input.Start, b.Start)
	set(input.Select, b.Select)
	set(input.Up, b.Up)
	set(input.Down, b.Down)
	set(input.Left, b.Left)
	set(input.Right, b.Right)
}

// SaveState/LoadState delegate to the bus, which aggregates every
// peripheral's state into one opaque blob.
func (m *Machine) SaveState() []byte {
	if m.bus == nil {
		return nil
	}
	return m.bus.SaveState()
}

func (m *Machine) LoadState(data []byte) {
	if m.bus != nil {
		m.bus.LoadState(data)
	}
}

// SaveStateToFile writes a save state to path.
func (m *Machine) SaveStateToFile(path string) error {
	data := m.SaveState()
	if data == nil {
		return fmt.Errorf("emu: no machine loaded")
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadStateFromFile reads and applies a save state from path.
func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.LoadState(data)
	return nil
}

// APUBufferedStereo reports how many stereo sample frames are currently
// queued for playback.
func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

// APUCapBufferedStereo trims the queued stereo sample count down to max by
// discarding the oldest frames, bounding playback latency.
func (m *Machine) APUCapBufferedStereo(max int) {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	for a.StereoAvailable() > max {
		if a.PullStereo(a.StereoAvailable()-max) == nil {
			break
		}
	}
}

// APUClearAudioLatency drains all currently queued stereo sample frames.
func (m *Machine) APUClearAudioLatency() {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	for a.StereoAvailable() > 0 {
		if a.PullStereo(a.StereoAvailable()) == nil {
			break
		}
	}
}

// APUPullStereo returns up to max interleaved stereo sample frames.
func (m *Machine) APUPullStereo(max int) []int16 {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().PullStereo(max)
}
