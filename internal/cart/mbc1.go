package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC1 implements ROM banking up to 2MiB and RAM banking up to 32KiB.
//
// The 5-bit low bank register is stored exactly as written (it can hold
// 0); the 0->1, 0x20->0x21, 0x40->0x41, 0x60->0x61 remap is applied at
// bank-resolution time only, and only to the low 5 bits, matching the
// hardware quirk where register value 0 always resolves to 1.
type MBC1 struct {
	rom []byte
	ram []byte

	romBankLow5       byte // 0..0x1F, written as-is
	ramBankOrRomHigh2 byte // 0..3: RAM bank (mode 1) or ROM bank bits 5-6 (mode 0)
	ramEnabled        bool
	mode              byte // 0: ROM banking mode, 1: RAM banking mode
}

func NewMBC1(rom []byte, ramSize int) *MBC1 {
	m := &MBC1{rom: rom, romBankLow5: 1}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	return m
}

func (m *MBC1) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		bank := 0
		if m.mode == 1 {
			bank = int(m.ramBankOrRomHigh2&0x03) << 5
		}
		off := bank*0x4000 + int(addr)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr < 0x8000:
		off := m.effectiveROMBank()*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		off := m.ramBank()*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC1) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		m.romBankLow5 = value & 0x1F
	case addr < 0x6000:
		m.ramBankOrRomHigh2 = value & 0x03
	case addr < 0x8000:
		m.mode = value & 0x01
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		if off := m.ramBank()*0x2000 + int(addr-0xA000); off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *MBC1) Tick(cycles int) {}

// effectiveROMBank returns the bank mapped into 0x4000-0x7FFF: the stored
// low-5 register (remapped 0->1) OR'd with the upper 2 bits, which apply
// to the high ROM window in both modes.
func (m *MBC1) effectiveROMBank() int {
	low := m.romBankLow5
	if low == 0 {
		low = 1
	}
	return int(low) | int(m.ramBankOrRomHigh2&0x03)<<5
}

func (m *MBC1) ramBank() int {
	if m.mode == 1 {
		return int(m.ramBankOrRomHigh2 & 0x03)
	}
	return 0
}

func (m *MBC1) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC1) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

type mbc1State struct {
	RomBankLow5       byte
	RamBankOrRomHigh2 byte
	RamEnabled        bool
	Mode              byte
	RAM               []byte
}

func (m *MBC1) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc1State{
		RomBankLow5:       m.romBankLow5,
		RamBankOrRomHigh2: m.ramBankOrRomHigh2,
		RamEnabled:        m.ramEnabled,
		Mode:              m.mode,
		RAM:               m.ram,
	})
	return buf.Bytes()
}

func (m *MBC1) LoadState(data []byte) {
	var s mbc1State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.romBankLow5 = s.RomBankLow5
	m.ramBankOrRomHigh2 = s.RamBankOrRomHigh2
	m.ramEnabled = s.RamEnabled
	m.mode = s.Mode
	if len(s.RAM) == len(m.ram) {
		copy(m.ram, s.RAM)
	}
}
