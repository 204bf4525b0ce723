package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC2 has no external RAM pins; instead it carries 512x4 bits of
// built-in RAM, addressed through the same 0xA000-0xBFFF window with the
// top nibble of every byte undefined (reads return it set to 1s).
// A single register, selected by address bit 8 during the 0x0000-0x3FFF
// write window, doubles as RAM-enable (bit8=0) and ROM-bank-select (bit8=1).
type MBC2 struct {
	rom []byte
	ram [512]byte // only the low nibble of each byte is meaningful

	romBank    byte // 4 bits, 0 maps to 1
	ramEnabled bool
}

func NewMBC2(rom []byte) *MBC2 {
	return &MBC2{rom: rom, romBank: 1}
}

func (m *MBC2) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x0F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		return 0xF0 | (m.ram[addr&0x01FF] & 0x0F)
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value byte) {
	switch {
	case addr < 0x4000:
		// Bit 8 of the address distinguishes the two aliased registers.
		if addr&0x0100 == 0 {
			m.ramEnabled = (value & 0x0F) == 0x0A
		} else {
			bank := value & 0x0F
			if bank == 0 {
				bank = 1
			}
			m.romBank = bank
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if m.ramEnabled {
			m.ram[addr&0x01FF] = value & 0x0F
		}
	}
}

func (m *MBC2) Tick(cycles int) {}

func (m *MBC2) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram[:])
	return out
}

func (m *MBC2) LoadRAM(data []byte) {
	if len(data) != len(m.ram) {
		return
	}
	copy(m.ram[:], data)
}

type mbc2State struct {
	RomBank    byte
	RamEnabled bool
	RAM        [512]byte
}

func (m *MBC2) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc2State{
		RomBank:    m.romBank,
		RamEnabled: m.ramEnabled,
		RAM:        m.ram,
	})
	return buf.Bytes()
}

func (m *MBC2) LoadState(data []byte) {
	var s mbc2State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.romBank = s.RomBank
	m.ramEnabled = s.RamEnabled
	m.ram = s.RAM
}
