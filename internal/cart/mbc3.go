package cart

import (
	"bytes"
	"encoding/gob"
)

// mbc3CyclesPerSecond is the base-clock tick rate the RTC cycle
// accumulator counts against: one real second of wall clock at the
// unscaled DMG frequency.
const mbc3CyclesPerSecond = 4194304

// rtc holds the MBC3 real-time-clock registers. Each counter masks to its
// hardware bit width on read; the shape (three small counters plus a
// 16-bit day count) mirrors the reference implementation's RTCTimePoint.
type rtc struct {
	Seconds byte // 0..59, masked to 0x3F on read
	Minutes byte // 0..59, masked to 0x3F on read
	Hours   byte // 0..23, masked to 0x1F on read
	Days    uint16
	Halt    bool
	Carry   bool // sticky day-counter overflow (bit 7 of day-high)
}

func (r *rtc) tick() {
	if r.Halt {
		return
	}
	r.Seconds++
	if r.Seconds < 60 {
		return
	}
	r.Seconds = 0
	r.Minutes++
	if r.Minutes < 60 {
		return
	}
	r.Minutes = 0
	r.Hours++
	if r.Hours < 24 {
		return
	}
	r.Hours = 0
	r.Days++
	if r.Days > 0x1FF {
		r.Days &= 0x1FF
		r.Carry = true
	}
}

func (r *rtc) dayHigh() byte {
	v := byte(r.Days>>8) & 0x01
	if r.Halt {
		v |= 1 << 6
	}
	if r.Carry {
		v |= 1 << 7
	}
	return v
}

func (r *rtc) setDayHigh(v byte) {
	r.Days = (r.Days & 0x00FF) | (uint16(v&0x01) << 8)
	r.Halt = v&(1<<6) != 0
	r.Carry = v&(1<<7) != 0
}

// MBC3 implements 7-bit ROM banking, 2-bit RAM banking, and (for the
// 0x0F/0x10 cartridge types) the real-time clock with its latch protocol:
// writing 0x00 then 0x01 to 0x6000-0x7FFF freezes a shadow copy of the
// live registers, which is what reads at 0xA000-0xBFFF actually observe
// while an RTC register is selected.
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	ramOrRTC   byte // 0x00-0x03 RAM bank, 0x08-0x0C RTC register select

	hasRTC    bool
	clock     rtc
	shadow    rtc
	latchPrev byte
	cycAccum  int
}

func NewMBC3(rom []byte, ramSize int, hasRTC bool) *MBC3 {
	m := &MBC3{rom: rom, romBank: 1, hasRTC: hasRTC}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	return m
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if m.hasRTC && m.ramOrRTC >= 0x08 && m.ramOrRTC <= 0x0C {
			return m.readRTC()
		}
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		off := int(m.ramOrRTC&0x03)*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) readRTC() byte {
	switch m.ramOrRTC {
	case 0x08:
		return m.shadow.Seconds & 0x3F
	case 0x09:
		return m.shadow.Minutes & 0x3F
	case 0x0A:
		return m.shadow.Hours & 0x1F
	case 0x0B:
		return byte(m.shadow.Days & 0xFF)
	case 0x0C:
		return m.shadow.dayHigh()
	default:
		return 0xFF
	}
}

func (m *MBC3) writeRTC(value byte) {
	switch m.ramOrRTC {
	case 0x08:
		m.clock.Seconds = value & 0x3F
	case 0x09:
		m.clock.Minutes = value & 0x3F
	case 0x0A:
		m.clock.Hours = value & 0x1F
	case 0x0B:
		m.clock.Days = (m.clock.Days & 0xFF00) | uint16(value)
	case 0x0C:
		m.clock.setDayHigh(value)
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		m.ramOrRTC = value
	case addr < 0x8000:
		if m.hasRTC && m.latchPrev == 0x00 && value == 0x01 {
			m.shadow = m.clock
		}
		m.latchPrev = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if m.hasRTC && m.ramOrRTC >= 0x08 && m.ramOrRTC <= 0x0C {
			m.writeRTC(value)
			return
		}
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		if off := int(m.ramOrRTC&0x03)*0x2000 + int(addr-0xA000); off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

// Tick advances the RTC's 1Hz cycle accumulator. No-op for cartridges
// without a clock chip.
func (m *MBC3) Tick(cycles int) {
	if !m.hasRTC {
		return
	}
	m.cycAccum += cycles
	for m.cycAccum >= mbc3CyclesPerSecond {
		m.cycAccum -= mbc3CyclesPerSecond
		m.clock.tick()
	}
}

func (m *MBC3) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

type mbc3State struct {
	RamEnabled bool
	RomBank    byte
	RamOrRTC   byte
	Clock      rtc
	Shadow     rtc
	LatchPrev  byte
	CycAccum   int
	RAM        []byte
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3State{
		RamEnabled: m.ramEnabled,
		RomBank:    m.romBank,
		RamOrRTC:   m.ramOrRTC,
		Clock:      m.clock,
		Shadow:     m.shadow,
		LatchPrev:  m.latchPrev,
		CycAccum:   m.cycAccum,
		RAM:        m.ram,
	})
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.ramEnabled = s.RamEnabled
	m.romBank = s.RomBank
	m.ramOrRTC = s.RamOrRTC
	m.clock = s.Clock
	m.shadow = s.Shadow
	m.latchPrev = s.LatchPrev
	m.cycAccum = s.CycAccum
	if len(s.RAM) == len(m.ram) {
		copy(m.ram, s.RAM)
	}
}
