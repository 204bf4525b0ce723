// Command gbcore is a headless frame runner: it loads a ROM (and optional
// boot image), advances it a fixed number of frames, then dumps the
// resulting framebuffer as a PNG and reports a CRC32/xxhash fingerprint for
// scripted comparison against reference images (e.g. acid2 ROMs).
package main

import (
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"

	"github.com/kestrel-emu/gbcore/internal/cart"
	"github.com/kestrel-emu/gbcore/internal/core"
)

func main() {
	romPath := flag.String("rom", "", "path to ROM (.gb/.gbc, optionally .gz/.zip/.7z wrapped)")
	bootPath := flag.String("bootrom", "", "optional boot ROM to run from PC=0 instead of skipping straight to 0x0100")
	savPath := flag.String("sav", "", "optional .sav sidecar to load before running and persist after")
	frames := flag.Int("frames", 60, "number of video frames to run")
	pngOut := flag.String("png", "", "write the final framebuffer to this PNG path")
	console := flag.String("console", "auto", "console to emulate: auto, dmg, or cgb")
	printHash := flag.Bool("hash", false, "print the framebuffer's xxhash and CRC32 fingerprints")
	flag.Parse()

	if *romPath == "" {
		log.Fatal("-rom is required")
	}
	rom, err := cart.LoadROM(*romPath)
	if err != nil {
		log.Fatalf("load rom: %v", err)
	}

	var m core.Machine
	ct := parseConsole(*console)
	if *bootPath != "" {
		boot, err := os.ReadFile(*bootPath)
		if err != nil {
			log.Fatalf("read bootrom: %v", err)
		}
		if err := m.InitializeWithBootstrap(rom, boot, ct); err != nil {
			log.Fatalf("initialize: %v", err)
		}
	} else if err := m.Initialize(rom, ct); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	if *savPath != "" {
		if data, err := os.ReadFile(*savPath); err == nil {
			m.LoadSRAM(data)
		}
	}

	m.RunForFrames(*frames)

	if *savPath != "" {
		if data := m.SaveSRAM(); data != nil {
			if err := os.WriteFile(*savPath, data, 0644); err != nil {
				log.Fatalf("write sav: %v", err)
			}
		}
	}

	fb := m.Framebuffer()
	if *printHash {
		fmt.Printf("xxhash=%016x crc32=%08x\n", m.FramebufferHash(), crc32.ChecksumIEEE(fb))
	}
	if *pngOut != "" {
		if err := writePNG(*pngOut, fb); err != nil {
			log.Fatalf("write png: %v", err)
		}
	}
}

func parseConsole(s string) core.ConsoleType {
	switch s {
	case "dmg":
		return core.ConsoleDMG
	case "cgb":
		return core.ConsoleCGB
	default:
		return core.ConsoleAuto
	}
}

// writePNG encodes the RGBA8 framebuffer gbcore exposes (160x144, 4 bytes
// per pixel) as a standard PNG file.
func writePNG(path string, fb []byte) error {
	const w, h = 160, 144
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			img.Set(x, y, color.RGBA{R: fb[i], G: fb[i+1], B: fb[i+2], A: fb[i+3]})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
