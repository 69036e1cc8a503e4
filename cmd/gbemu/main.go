package main

import (
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/cart"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/emu"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/logging"
	"github.com/FabianRolfMatthiasNoll/GoBoyCore/internal/ui"
	"github.com/urfave/cli/v2"
)

func runHeadless(m *emu.Machine, frames int, pngPath, expectCRC string) error {
	if frames <= 0 {
		frames = 1
	}

	start := time.Now()
	for i := 0; i < frames; i++ {
		m.StepFrame()
	}
	dur := time.Since(start)

	fb := m.Framebuffer() // RGBA 160x144*4
	crc := crc32.ChecksumIEEE(fb)
	fps := float64(frames) / dur.Seconds()

	logging.Info("headless run complete",
		"frames", frames, "elapsed", dur.Truncate(time.Millisecond), "fps", fps, "fb_crc32", fmt.Sprintf("%08x", crc))

	if pngPath != "" {
		if err := saveFramePNG(fb, 160, 144, pngPath); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		logging.Info("wrote framebuffer PNG", "path", pngPath)
	}

	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

func saveFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    make([]byte, len(pix)),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	copy(img.Pix, pix)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func run(c *cli.Context) error {
	if c.Bool("trace") {
		logging.SetLevel(logging.LevelTrace)
	} else if c.Bool("debug") {
		logging.SetLevel(slog.LevelDebug)
	}

	romPath := c.String("rom")
	bootPath := c.String("bootrom")
	saveRAM := c.Bool("save")

	var rom []byte
	if romPath != "" {
		var err error
		rom, err = os.ReadFile(romPath)
		if err != nil {
			return fmt.Errorf("read rom: %w", err)
		}
	}
	var boot []byte
	if bootPath != "" {
		var err error
		boot, err = os.ReadFile(bootPath)
		if err != nil {
			return fmt.Errorf("read boot rom: %w", err)
		}
	}

	if len(rom) >= 0x150 {
		if h, err := cart.ParseHeader(rom); err == nil {
			logging.Info("cartridge header", "title", h.Title, "type", h.CartTypeStr, "rom_banks", h.ROMBanks, "ram_bytes", h.RAMSizeBytes)
		}
	}

	emuCfg := emu.Config{
		Trace:    c.Bool("trace"),
		LimitFPS: false, // headless wants max speed
	}
	m := emu.New(emuCfg)
	if len(boot) >= 0x100 {
		m.SetBootROM(boot)
	}
	if len(rom) > 0 {
		if err := m.LoadCartridge(rom, boot); err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		if romPath != "" {
			abs, err := filepath.Abs(romPath)
			if err != nil {
				abs = romPath
			}
			if err := m.LoadROMFromFile(abs); err != nil {
				return fmt.Errorf("load rom: %w", err)
			}
		}
	}

	var savPath string
	if saveRAM && romPath != "" {
		savPath = strings.TrimSuffix(romPath, ".gb") + ".sav"
		if data, err := os.ReadFile(savPath); err == nil {
			if m.LoadBattery(data) {
				logging.Info("loaded battery save", "path", savPath, "bytes", len(data))
			}
		}
	}

	if c.Bool("headless") {
		if err := runHeadless(m, c.Int("frames"), c.String("outpng"), c.String("expect")); err != nil {
			return err
		}
		if saveRAM && savPath != "" {
			if data, ok := m.SaveBattery(); ok {
				if err := os.WriteFile(savPath, data, 0o644); err == nil {
					logging.Info("wrote battery save", "path", savPath)
				}
			}
		}
		return nil
	}

	uiCfg := ui.Config{Title: c.String("title"), Scale: c.Int("scale")}
	app := ui.NewApp(uiCfg, m)
	if err := app.Run(); err != nil {
		return err
	}
	app.SaveSettings()

	if saveRAM {
		outSav := savPath
		if outSav == "" && m.ROMPath() != "" && strings.HasSuffix(strings.ToLower(m.ROMPath()), ".gb") {
			outSav = strings.TrimSuffix(m.ROMPath(), ".gb") + ".sav"
		}
		if outSav != "" {
			if data, ok := m.SaveBattery(); ok {
				if err := os.WriteFile(outSav, data, 0o644); err == nil {
					logging.Info("wrote battery save", "path", outSav)
				}
			}
		}
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "gbemu",
		Usage: "a Game Boy (DMG) emulator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rom", Usage: "path to ROM (.gb)"},
			&cli.StringFlag{Name: "bootrom", Usage: "optional DMG boot ROM"},
			&cli.IntFlag{Name: "scale", Value: 3, Usage: "window scale"},
			&cli.StringFlag{Name: "title", Value: "gbemu", Usage: "window title"},
			&cli.BoolFlag{Name: "trace", Usage: "enable trace-level CPU logging"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging"},
			&cli.BoolFlag{Name: "save", Value: true, Usage: "persist battery RAM to ROM.sav on exit and load on start"},
			&cli.BoolFlag{Name: "headless", Usage: "run without a window"},
			&cli.IntFlag{Name: "frames", Value: 300, Usage: "frames to run in headless mode"},
			&cli.StringFlag{Name: "outpng", Usage: "write last framebuffer to PNG at path"},
			&cli.StringFlag{Name: "expect", Usage: "assert framebuffer CRC32 (hex)"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logging.Error("fatal", "err", err)
		os.Exit(1)
	}
}
