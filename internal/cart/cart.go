// Package cart implements the cartridge family: header parsing, the flat-ROM
// and MBC1/MBC2/MBC3/MBC5 mapper variants, and archive-aware ROM/save loading.
package cart

import (
	"errors"
	"fmt"
)

// Cartridge is the contract the MainBus needs for ROM/RAM banking.
// Addresses are CPU addresses; Read/Write cover both the 0x0000-0x7FFF
// ROM/control window and the 0xA000-0xBFFF external RAM window.
type Cartridge interface {
	Read(addr uint16) byte
	Write(addr uint16, value byte)

	// Tick advances any cartridge-side clock (MBC3 RTC). Cycles are base
	// clock cycles, same unit the Bus ticks every other subsystem with.
	Tick(cycles int)

	// SaveState/LoadState serialize banking registers (and RTC state, for
	// MBC3) for the core's snapshot feature.
	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is implemented by cartridges whose external RAM (and, for
// MBC3, RTC registers) should be persisted to a sidecar save file.
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// ErrUnsupportedMapper is returned by NewCartridge when the header's
// cartridge-type byte names a mapper this module does not implement.
var ErrUnsupportedMapper = errors.New("cart: unsupported mapper")

// UnsupportedMapperError names the offending cartridge-type byte.
type UnsupportedMapperError struct {
	CartType byte
}

func (e *UnsupportedMapperError) Error() string {
	return fmt.Sprintf("cart: unsupported mapper type 0x%02X", e.CartType)
}

func (e *UnsupportedMapperError) Unwrap() error { return ErrUnsupportedMapper }

// NewCartridge selects and constructs a mapper implementation from the ROM
// header. It never fails on a malformed header; header parsing errors fall
// back to a flat ROM-only cartridge so damaged homebrew can still run.
func NewCartridge(rom []byte) (Cartridge, error) {
	h, err := ParseHeader(rom)
	if err != nil {
		return NewFlatROM(rom), nil
	}
	switch h.CartType {
	case 0x00, 0x08, 0x09: // ROM ONLY, ROM+RAM, ROM+RAM+BATTERY
		f := NewFlatROM(rom)
		if h.RAMSizeBytes > 0 {
			f.ram = make([]byte, h.RAMSizeBytes)
		}
		return f, nil
	case 0x01, 0x02, 0x03: // MBC1, MBC1+RAM, MBC1+RAM+BATTERY
		return NewMBC1(rom, h.RAMSizeBytes), nil
	case 0x05, 0x06: // MBC2, MBC2+BATTERY
		return NewMBC2(rom), nil
	case 0x0F, 0x10, 0x11, 0x12, 0x13: // MBC3(+TIMER)(+RAM)(+BATTERY)
		hasRTC := h.CartType == 0x0F || h.CartType == 0x10
		return NewMBC3(rom, h.RAMSizeBytes, hasRTC), nil
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E: // MBC5 variants (+RUMBLE ignored)
		return NewMBC5(rom, h.RAMSizeBytes), nil
	default:
		return nil, &UnsupportedMapperError{CartType: h.CartType}
	}
}

// HasRTC reports whether a cartridge is an MBC3 with a real-time clock,
// the case in which SaveSRAM appends the RTC trailer.
func HasRTC(c Cartridge) bool {
	m, ok := c.(*MBC3)
	return ok && m.hasRTC
}
