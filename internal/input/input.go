// Package input models the joypad button matrix: an 8-bit "pressed" latch
// held outside the bus, combined on read with the two column-select bits
// the program wrote to 0xFF00.
package input

import "github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/interrupt"

// Button identifies one of the eight physical inputs.
type Button int

const (
	A Button = iota
	B
	Select
	Start
	Right
	Left
	Up
	Down
)

// bit within the low nibble of the direction/action rows; both rows share
// the same four bit positions, selected by the column-select bits.
var directionBit = map[Button]byte{Right: 0, Left: 1, Up: 2, Down: 3}
var actionBit = map[Button]byte{A: 0, B: 1, Select: 2, Start: 3}

type Pad struct {
	pressed byte // low nibble: action row (A,B,Select,Start); high nibble: direction row
	select_ byte // the two column-select bits as last written, bits 4-5

	irq *interrupt.Controller
}

func New(irq *interrupt.Controller) *Pad {
	// 1 = not pressed, matching the hardware's active-low convention.
	return &Pad{pressed: 0xFF, select_: 0x30, irq: irq}
}

func (p *Pad) Press(btn Button) {
	was := p.isAnySelectedPressed()
	if bit, ok := actionBit[btn]; ok {
		p.pressed &^= 1 << bit
	}
	if bit, ok := directionBit[btn]; ok {
		p.pressed &^= 1 << (4 + bit)
	}
	if !was && p.isAnySelectedPressed() {
		p.irq.Request(interrupt.Joypad)
	}
}

func (p *Pad) Unpress(btn Button) {
	if bit, ok := actionBit[btn]; ok {
		p.pressed |= 1 << bit
	}
	if bit, ok := directionBit[btn]; ok {
		p.pressed |= 1 << (4 + bit)
	}
}

func (p *Pad) Reset() {
	p.pressed = 0xFF
}

// AnyPressed reports whether any button is currently held, used by the CPU
// to decide whether STOP should wake.
func (p *Pad) AnyPressed() bool {
	return p.pressed != 0xFF
}

func (p *Pad) isAnySelectedPressed() bool {
	return p.Read()&0x0F != 0x0F
}

// Read returns the 0xFF00 value: bits 6-7 always read 1, bits 4-5 are the
// last-written column select, and the low nibble reflects whichever row(s)
// are selected (0 = pressed). Selecting neither row reads all 1s.
func (p *Pad) Read() byte {
	result := byte(0x0F)
	if p.select_&0x10 == 0 { // bit4=0 selects direction row
		result &= p.pressed >> 4
	}
	if p.select_&0x20 == 0 { // bit5=0 selects action row
		result &= p.pressed & 0x0F
	}
	return 0xC0 | p.select_ | result
}

func (p *Pad) Write(v byte) {
	p.select_ = v & 0x30
}
