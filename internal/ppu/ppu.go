package ppu

import (
	"bytes"
	"encoding/gob"

	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/logging"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// LineRegs is a per-scanline snapshot of the registers that affect rendering,
// captured the moment a line enters mode 3. WinLine is the window's internal
// line counter, which only advances on lines where the window was visible.
type LineRegs struct {
	LCDC, SCX, SCY, BGP, OBP0, OBP1, WX, WY byte
	WinLine                                 byte
}

// Sprite is a decoded OAM entry in screen-space coordinates (already offset
// by the hardware's -8/-16 OAM bias).
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, and basic timing.
// It exposes CPU-facing Read/Write for VRAM/OAM and PPU IO regs.
type PPU struct {
	// memory
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int // dots within current line [0..455]

	winLineCounter byte
	lineRegs       [154]LineRegs

	req InterruptRequester
}

func New(req InterruptRequester) *PPU { return &PPU{req: req} }

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
	// VRAM is inaccessible to CPU during mode 3 (return 0xFF)
	if (p.stat & 0x03) == 3 { return 0xFF }
	return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
	// OAM is inaccessible during modes 2 and 3
	m := p.stat & 0x03
	if m == 2 || m == 3 { return 0xFF }
	return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
	// On DMG, bit7 reads as 1; bit6..3 are enables; bit2 coincidence; bit1..0 mode
	return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
	if (p.stat & 0x03) == 3 {
		logging.Trace("bus conflict: VRAM write blocked", "addr", addr, "mode", 3)
		return
	}
	p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
	m := p.stat & 0x03
	if m == 2 || m == 3 {
		logging.Trace("bus conflict: OAM write blocked", "addr", addr, "mode", m)
		return
	}
	p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			// Turning LCD off resets LY/mode
			p.ly = 0
			p.dot = 0
			p.winLineCounter = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			// Turning LCD on: start at LY=0, mode 2 (OAM)
			p.ly = 0
			p.dot = 0
			p.winLineCounter = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		// Mode scheduling
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		p.setMode(mode)

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				// Enter VBlank
				if p.req != nil {
					p.req(0)
				} // VBlank IF
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				} // STAT VBlank
			} else if p.ly > 153 {
				p.ly = 0
				p.winLineCounter = 0
			}
			p.updateLYC()
			// Set mode for new line start (dot=0)
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 3:
		p.captureLineRegs()
	}
}

// captureLineRegs snapshots the registers that drive rendering for the
// current line, and advances the window's internal line counter on lines
// where the window is actually visible.
func (p *PPU) captureLineRegs() {
	if int(p.ly) >= len(p.lineRegs) {
		return
	}
	windowVisible := (p.lcdc&0x20) != 0 && p.wy <= p.ly && p.wx <= 166
	var winLine byte
	if windowVisible {
		winLine = p.winLineCounter
		p.winLineCounter++
	}
	p.lineRegs[p.ly] = LineRegs{
		LCDC: p.lcdc, SCX: p.scx, SCY: p.scy,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WX: p.wx, WY: p.wy, WinLine: winLine,
	}
}

// LineRegs returns the register snapshot captured for scanline ly.
func (p *PPU) LineRegs(ly int) LineRegs {
	if ly < 0 || ly >= len(p.lineRegs) {
		return LineRegs{}
	}
	return p.lineRegs[ly]
}

// SpritesOnLine scans OAM for up to 10 sprites intersecting scanline ly,
// in OAM table order, converting raw OAM bytes to screen-space coordinates.
func (p *PPU) SpritesOnLine(ly int) []Sprite {
	height := 8
	if p.lcdc&0x04 != 0 {
		height = 16
	}
	var out []Sprite
	for i := 0; i < 40 && len(out) < 10; i++ {
		base := i * 4
		oy := int(p.oam[base+0]) - 16
		ox := int(p.oam[base+1]) - 8
		if ly < oy || ly >= oy+height {
			continue
		}
		out = append(out, Sprite{
			X: ox, Y: oy,
			Tile: p.oam[base+2], Attr: p.oam[base+3],
			OAMIndex: i,
		})
	}
	return out
}

// ComposeSpriteLine composites decoded sprites against a BG color-index line,
// applying X-then-OAM-index priority and the BG-over-OBJ attribute bit. The
// tall flag selects 8x16 sprite mode. The returned line holds 2-bit color
// indices; 0 means no sprite pixel is visible there.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, tall bool) [160]byte {
	height := 8
	if tall {
		height = 16
	}
	type pick struct {
		sp *Sprite
		ci byte
	}
	var sel [160]pick
	for i := range sprites {
		s := &sprites[i]
		row := int(ly) - s.Y
		if row < 0 || row >= height {
			continue
		}
		if s.Attr&0x40 != 0 { // Y flip
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
		addr := 0x8000 + uint16(tile)*16 + uint16(row)*2
		lo := mem.Read(addr)
		hi := mem.Read(addr + 1)
		for px := 0; px < 8; px++ {
			scrX := s.X + px
			if scrX < 0 || scrX >= 160 {
				continue
			}
			bit := 7 - px
			if s.Attr&0x20 != 0 { // X flip
				bit = px
			}
			ci := ((hi>>byte(bit))&1)<<1 | ((lo >> byte(bit)) & 1)
			if ci == 0 {
				continue
			}
			cur := sel[scrX].sp
			if cur != nil {
				curWins := cur.X < s.X || (cur.X == s.X && cur.OAMIndex <= s.OAMIndex)
				if curWins {
					continue
				}
			}
			sel[scrX] = pick{sp: s, ci: ci}
		}
	}
	var out [160]byte
	for x := 0; x < 160; x++ {
		if sel[x].sp == nil {
			continue
		}
		if sel[x].sp.Attr&0x80 != 0 && bgci[x] != 0 {
			continue
		}
		out[x] = sel[x].ci
	}
	return out
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

// LY exposes the current scanline for callers that drive a frame loop off it.
func (p *PPU) LY() byte { return p.ly }

// Read gives the frame renderer unconditional VRAM/OAM access (no mode
// gating), satisfying VRAMReader for use with the fetcher-based scanline
// helpers and ComposeSpriteLine, which run outside of CPU bus timing.
func (p *PPU) Read(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		return p.oam[addr-0xFE00]
	default:
		return 0xFF
	}
}

type ppuState struct {
	VRAM           [0x2000]byte
	OAM            [0xA0]byte
	LCDC, STAT     byte
	SCY, SCX       byte
	LY, LYC        byte
	BGP, OBP0, OBP1 byte
	WY, WX         byte
	Dot            int
	WinLineCounter byte
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx,
		LY: p.ly, LYC: p.lyc, BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WY: p.wy, WX: p.wx, Dot: p.dot, WinLineCounter: p.winLineCounter,
	})
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	if len(data) == 0 {
		return
	}
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat, p.scy, p.scx = s.LCDC, s.STAT, s.SCY, s.SCX
	p.ly, p.lyc, p.bgp, p.obp0, p.obp1 = s.LY, s.LYC, s.BGP, s.OBP0, s.OBP1
	p.wy, p.wx, p.dot, p.winLineCounter = s.WY, s.WX, s.Dot, s.WinLineCounter
}
