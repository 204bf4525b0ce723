// Package core implements the Machine driver: the one surface a host needs
// to run a cartridge, read its framebuffer and audio samples, feed button
// input, and persist or restore state. It owns the Bus and CPU (the Bus
// holds the boot image); every other subsystem is reached only through the Bus.
package core

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash"

	"github.com/kestrel-emu/gbcore/internal/bus"
	"github.com/kestrel-emu/gbcore/internal/cart"
	"github.com/kestrel-emu/gbcore/internal/cpu"
)

// ConsoleType selects which hardware the Machine emulates. Auto picks CGB
// when the cartridge header's CGB flag allows it, DMG otherwise.
type ConsoleType int

const (
	ConsoleAuto ConsoleType = iota
	ConsoleDMG
	ConsoleCGB
)

// Button names the eight JOYP inputs a host can drive.
type Button int

const (
	ButtonRight Button = iota
	ButtonLeft
	ButtonUp
	ButtonDown
	ButtonA
	ButtonB
	ButtonSelect
	ButtonStart
)

func buttonMask(b Button) byte {
	switch b {
	case ButtonRight:
		return 1 << 0
	case ButtonLeft:
		return 1 << 1
	case ButtonUp:
		return 1 << 2
	case ButtonDown:
		return 1 << 3
	case ButtonA:
		return 1 << 4
	case ButtonB:
		return 1 << 5
	case ButtonSelect:
		return 1 << 6
	case ButtonStart:
		return 1 << 7
	default:
		return 0
	}
}

// ErrBadBootImage is returned when a boot image's size doesn't match any
// known console boot ROM layout.
var ErrBadBootImage = errors.New("core: bad boot image")

// BootImageError names the offending boot image size.
type BootImageError struct {
	Len int
}

func (e *BootImageError) Error() string {
	return fmt.Sprintf("core: bad boot image: %d bytes is not a valid DMG/CGB boot ROM size", e.Len)
}
func (e *BootImageError) Unwrap() error { return ErrBadBootImage }

// cyclesPerFrame is the base (single-speed) T-cycle budget of one video
// frame: 154 scanlines of 456 dots each.
const cyclesPerFrame = 70224

// Machine owns the Bus, the CPU, and the buttons currently held; it is the
// only type a host needs to construct and drive.
type Machine struct {
	bus     *bus.Bus
	cpu     *cpu.CPU
	header  *cart.Header
	buttons byte
}

// Initialize resets the Machine onto rom with post-boot register state, so
// the game runs immediately without stepping through a boot ROM.
func (m *Machine) Initialize(rom []byte, console ConsoleType) error {
	if err := cart.ValidateROM(rom); err != nil {
		return err
	}
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	c, err := cart.NewCartridge(rom)
	if err != nil {
		return err
	}
	cgb := effectiveCGB(console, h)
	b := bus.NewWithCartridge(c, cgb)
	cp := cpu.New(b)
	cp.ResetNoBoot()
	cp.SetPC(0x0100)
	applyPostBootIO(b, cgb)

	m.bus, m.cpu, m.header = b, cp, h
	m.bus.Gamepad().SetState(0)
	return nil
}

// InitializeWithBootstrap starts the Machine at PC=0 with bootImage mapped
// over the low addresses, so the boot ROM itself brings up register state
// exactly as hardware does.
func (m *Machine) InitializeWithBootstrap(rom, bootImage []byte, console ConsoleType) error {
	if err := cart.ValidateROM(rom); err != nil {
		return err
	}
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	cgb := effectiveCGB(console, h)
	if !validBootImageSize(bootImage, cgb) {
		return &BootImageError{Len: len(bootImage)}
	}
	c, err := cart.NewCartridge(rom)
	if err != nil {
		return err
	}
	b := bus.NewWithCartridge(c, cgb)
	b.SetBootROM(bootImage)
	cp := cpu.New(b) // PC=0x0000, SP=0xFFFE, IME=false: the boot ROM's own job

	m.bus, m.cpu, m.header = b, cp, h
	m.bus.Gamepad().SetState(0)
	return nil
}

func validBootImageSize(data []byte, cgb bool) bool {
	switch len(data) {
	case 256:
		return true
	case 2048, 2304:
		return cgb
	default:
		return false
	}
}

// effectiveCGB applies spec's CGB-compatibility-mode decision: an explicit
// console request wins, otherwise the cartridge's own CGB-support flag
// (0x80 dual-mode, 0xC0 CGB-only) decides.
func effectiveCGB(console ConsoleType, h *cart.Header) bool {
	switch console {
	case ConsoleDMG:
		return false
	case ConsoleCGB:
		return true
	default:
		return h.CGBFlag == 0x80 || h.CGBFlag == 0xC0
	}
}

// applyPostBootIO writes the register values the DMG/CGB boot ROM leaves
// behind, for the boot-skipping Initialize path.
func applyPostBootIO(b *bus.Bus, cgb bool) {
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00) // TIMA
	b.Write(0xFF06, 0x00) // TMA
	b.Write(0xFF07, 0xF8) // TAC
	b.Write(0xFF40, 0x91) // LCDC: LCD and BG on, 0x8000 tile data, sprites off
	b.Write(0xFF42, 0x00) // SCY
	b.Write(0xFF43, 0x00) // SCX
	b.Write(0xFF45, 0x00) // LYC
	b.Write(0xFF47, 0xFC) // BGP
	b.Write(0xFF48, 0xFF) // OBP0
	b.Write(0xFF49, 0xFF) // OBP1
	b.Write(0xFF4A, 0x00) // WY
	b.Write(0xFF4B, 0x00) // WX
	b.Write(0xFFFF, 0x00) // IE
	if cgb {
		b.Write(0xFF4D, 0x00) // KEY1
		b.Write(0xFF70, 0x01) // SVBK
		b.Write(0xFF4F, 0x00) // VBK
	}
}

// RunForFrames advances emulation by n complete video frames (70224 base
// cycles each, doubled while the CPU is running at CGB double speed).
func (m *Machine) RunForFrames(n int) {
	for i := 0; i < n; i++ {
		m.runOneFrame()
	}
}

func (m *Machine) runOneFrame() {
	budget := cyclesPerFrame
	if m.bus.DoubleSpeed() {
		budget *= 2
	}
	consumed := 0
	for consumed < budget {
		consumed += m.cpu.Step()
		if m.bus.DoubleSpeed() && budget == cyclesPerFrame {
			budget = cyclesPerFrame * 2
		}
	}
}

// Framebuffer returns the live 160x144 RGBA8 pixel buffer; the host must
// not mutate it and should copy before the next RunForFrames call if it
// needs a stable snapshot.
func (m *Machine) Framebuffer() []byte { return m.bus.PPU().Framebuffer() }

// FramebufferHash gives a cheap deterministic fingerprint of the current
// framebuffer, for acid2-style reference comparisons without diffing
// 92160 raw bytes.
func (m *Machine) FramebufferHash() uint64 {
	return xxhash.Sum64(m.bus.PPU().Framebuffer())
}

// AudioSamples drains up to max buffered stereo frames (interleaved
// int16 L,R) and returns them.
func (m *Machine) AudioSamples(max int) []int16 {
	return m.bus.APU().PullStereo(max)
}

// SetButton updates one of the eight JOYP inputs.
func (m *Machine) SetButton(b Button, pressed bool) {
	mask := buttonMask(b)
	if pressed {
		m.buttons |= mask
	} else {
		m.buttons &^= mask
	}
	m.bus.Gamepad().SetState(m.buttons)
}

// SaveSRAM returns the bytes a host should persist as the .sav sidecar.
func (m *Machine) SaveSRAM() []byte { return cart.SaveSRAM(m.bus.Cart()) }

// LoadSRAM restores external RAM (and MBC3 RTC state) from save-file bytes.
func (m *Machine) LoadSRAM(data []byte) { cart.LoadSRAM(m.bus.Cart(), data) }

// SetSerialWriter attaches a sink for serial-port bytes, used by headless
// test-ROM runners to detect pass/fail markers.
func (m *Machine) SetSerialWriter(w io.Writer) { m.bus.SetSerialWriter(w) }

// Header exposes the parsed cartridge header for host-side UI/logging.
func (m *Machine) Header() *cart.Header { return m.header }

type machineState struct {
	CPU []byte
	Bus []byte
}

// SaveState assembles one opaque snapshot blob from every owned
// component's own SaveState, the basic savestate spec.md allows as a
// non-goal exception given the machinery already exists for each part.
func (m *Machine) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(machineState{
		CPU: m.cpu.SaveState(),
		Bus: m.bus.SaveState(),
	})
	return buf.Bytes()
}

// LoadState restores a snapshot produced by SaveState. Malformed data is
// ignored, leaving the Machine in its prior state.
func (m *Machine) LoadState(data []byte) {
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.cpu.LoadState(s.CPU)
	m.bus.LoadState(s.Bus)
}
