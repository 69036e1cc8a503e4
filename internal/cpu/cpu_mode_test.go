package cpu

import (
	"testing"

	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/input"
)

func TestCPU_IllegalOpcodeCrashes(t *testing.T) {
	c := newCPUWithROM([]byte{0xD3}) // illegal opcode
	cycles := c.Step()
	if cycles != 4 {
		t.Fatalf("illegal opcode cycles got %d want 4", cycles)
	}
	if c.Mode() != ModeCrashed {
		t.Fatalf("expected ModeCrashed, got %v", c.Mode())
	}
	// Further steps stay crashed and keep returning 4 without advancing PC.
	pc := c.PC
	c.Step()
	if c.Mode() != ModeCrashed || c.PC != pc {
		t.Fatalf("crashed CPU should not resume: mode=%v pc=%#04x", c.Mode(), c.PC)
	}
}

func TestCPU_STOP_WakesOnlyOnJoypad(t *testing.T) {
	c := newCPUWithROM([]byte{0x10, 0x00, 0x00}) // STOP
	cycles := c.Step()
	if cycles != 4 {
		t.Fatalf("STOP cycles got %d want 4", cycles)
	}
	if c.Mode() != ModeStop {
		t.Fatalf("expected ModeStop, got %v", c.Mode())
	}
	if c.PC != 2 {
		t.Fatalf("STOP should consume its trailing byte: PC got %#04x want 0x0002", c.PC)
	}

	// Stays asleep with no button pressed.
	c.Step()
	if c.Mode() != ModeStop {
		t.Fatalf("expected to remain ModeStop with no input, got %v", c.Mode())
	}

	c.Bus().PressButton(input.A)
	c.Step()
	if c.Mode() != ModeNormal {
		t.Fatalf("expected ModeNormal after joypad press, got %v", c.Mode())
	}
}

func TestCPU_HALT_WakesOnPendingInterrupt(t *testing.T) {
	c := newCPUWithROM([]byte{0x76}) // HALT
	c.Step()
	if c.Mode() != ModeHalt {
		t.Fatalf("expected ModeHalt, got %v", c.Mode())
	}
	// Request a timer interrupt directly via the bus's IF register; IME is
	// off so HALT should wake without servicing it.
	c.Bus().Write(0xFFFF, 0x04)
	c.Bus().Write(0xFF0F, 0x04)
	c.Step()
	if c.Mode() != ModeNormal {
		t.Fatalf("expected ModeNormal after pending interrupt wake, got %v", c.Mode())
	}
}
