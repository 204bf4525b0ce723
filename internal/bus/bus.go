// Package bus implements the MainBus: the 16-bit flat address space
// decode that routes CPU reads/writes to the cartridge, WRAM/HRAM, PPU,
// APU, Timer, DMA, and Gamepad, and owns the boot-ROM overlay and the CGB
// WRAM bank-select register (VRAM bank select lives in the PPU).
package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/kestrel-emu/gbcore/internal/apu"
	"github.com/kestrel-emu/gbcore/internal/cart"
	"github.com/kestrel-emu/gbcore/internal/dma"
	"github.com/kestrel-emu/gbcore/internal/gamepad"
	"github.com/kestrel-emu/gbcore/internal/ppu"
	"github.com/kestrel-emu/gbcore/internal/timer"
)

// Interrupt Flag bit positions, service priority order (bit 0 highest).
const (
	IntVBlank = 0
	IntSTAT   = 1
	IntTimer  = 2
	IntSerial = 3
	IntJoypad = 4
)

// Bus wires CPU-visible address space to every owned or peer component.
type Bus struct {
	cart cart.Cartridge

	// Work RAM: bank 0 fixed at 0xC000-0xCFFF, banks 1-7 (CGB) switchable
	// into 0xD000-0xDFFF via SVBK (FF70). DMG behaves as if only bank 1 exists.
	wram     [8][0x1000]byte
	wramBank byte // 1..7, SVBK bits 0-2; 0 reads back as 1

	// High RAM 0xFF80-0xFFFE (127 bytes)
	hram [0x7F]byte

	ppu *ppu.PPU
	apu *apu.APU
	tmr *timer.Timer
	pad *gamepad.Gamepad

	oamDMA *dma.OAM
	hdma   *dma.HDMA

	ie    byte // IE at 0xFFFF
	ifReg byte // IF at 0xFF0F (lower 5 bits used)

	// Serial
	sb byte      // FF01 data
	sc byte      // FF02 control (bit7 start, bit0 clock source; immediate external completion)
	sw io.Writer // sink for serial output (optional)

	// Boot ROM support
	bootROM     []byte
	bootEnabled bool
	cgb         bool // console mode selected at construction

	key0 byte // FF4C: DMG-compatibility latch, writable only while boot ROM is mapped
	key1 byte // FF4D: speed-switch request (bit0) + current speed (bit7), CPU drives the actual switch
}

// New constructs a Bus with a ROM-only cartridge for convenience.
func New(rom []byte) *Bus {
	c, err := cart.NewCartridge(rom)
	if err != nil {
		c = cart.NewFlatROM(rom)
	}
	return NewWithCartridge(c, false)
}

// NewWithCartridge wires a provided cartridge implementation. cgb selects
// whether CGB-only registers (WRAM/VRAM banking, KEY0/KEY1, palette ports)
// are live or report the DMG-compatibility-mode constant values.
func NewWithCartridge(c cart.Cartridge, cgb bool) *Bus {
	b := &Bus{cart: c, cgb: cgb, wramBank: 1}
	b.ppu = ppu.New(func(bit int) { b.ifReg |= 1 << bit }, cgb)
	b.apu = apu.New(48000)
	b.tmr = timer.New(func() { b.ifReg |= 1 << IntTimer })
	b.pad = gamepad.New(func() { b.ifReg |= 1 << IntJoypad })
	b.oamDMA = dma.NewOAM(b.dmaSourceRead, func(i int, v byte) { b.ppu.CPUWriteOAMRaw(i, v) })
	b.hdma = dma.NewHDMA(b.dmaSourceRead, b.ppu.CPUWriteVRAMRaw, func() bool { return b.ppu.Mode() == 0 })
	return b
}

// PPU returns the internal PPU for read-only rendering helpers.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// APU returns the internal APU so a host can pull samples.
func (b *Bus) APU() *apu.APU { return b.apu }

// Cart returns the underlying cartridge for optional battery operations.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// Gamepad returns the internal gamepad for button-state updates.
func (b *Bus) Gamepad() *gamepad.Gamepad { return b.pad }

// dmaSourceRead is the read path DMA engines use to pull source bytes; it
// is a plain Read without the OAM-DMA CPU-blocking check, since the DMA
// engine itself is the one doing the reading.
func (b *Bus) dmaSourceRead(addr uint16) byte {
	if addr >= 0xFE00 && addr <= 0xFE9F {
		return b.ppu.CPUReadOAMRaw(int(addr - 0xFE00))
	}
	return b.Read(addr)
}

func (b *Bus) Read(addr uint16) byte {
	if b.oamDMA.Active() && addr < 0xFF80 {
		return 0xFF
	}
	switch {
	case addr < 0x8000:
		if b.bootEnabled && b.inBootRange(addr) {
			return b.bootROM[b.bootOffset(addr)]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xCFFF:
		return b.wram[0][addr&0x0FFF]
	case addr >= 0xD000 && addr <= 0xDFFF:
		return b.wram[b.wramBank][addr&0x0FFF]
	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror <= 0xCFFF {
			return b.wram[0][mirror&0x0FFF]
		}
		return b.wram[b.wramBank][mirror&0x0FFF]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		return b.ppu.CPURead(addr)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return 0xFF
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFF00:
		return b.pad.ReadP1()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr == 0xFF04:
		return b.tmr.ReadDIV()
	case addr == 0xFF05:
		return b.tmr.ReadTIMA()
	case addr == 0xFF06:
		return b.tmr.ReadTMA()
	case addr == 0xFF07:
		return b.tmr.ReadTAC()
	case addr == 0xFF0F:
		return 0xE0 | (b.ifReg & 0x1F)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B, addr == 0xFF4F,
		addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B, addr == 0xFF6C:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return 0xFF
	case addr == 0xFF4C:
		if !b.cgb {
			return 0xFF
		}
		return b.key0
	case addr == 0xFF4D:
		if !b.cgb {
			return 0xFF
		}
		return 0x7E | (b.key1 & 0x81)
	case addr == 0xFF50:
		return 0xFF
	case addr >= 0xFF51 && addr <= 0xFF54:
		return 0xFF
	case addr == 0xFF55:
		if !b.cgb {
			return 0xFF
		}
		return b.hdma.ReadControl()
	case addr == 0xFF70:
		if !b.cgb {
			return 0xFF
		}
		return 0xF8 | (b.wramBank & 0x07)
	case addr == 0xFFFF:
		return b.ie
	}
	return 0xFF
}

func (b *Bus) Write(addr uint16, value byte) {
	// spec.md §4.7: OAM DMA only forces CPU reads below 0xFF80 to 0xFF;
	// writes still reach their destination during the transfer.
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
		return
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
		return
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
		return
	case addr >= 0xC000 && addr <= 0xCFFF:
		b.wram[0][addr&0x0FFF] = value
		return
	case addr >= 0xD000 && addr <= 0xDFFF:
		b.wram[b.wramBank][addr&0x0FFF] = value
		return
	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror <= 0xCFFF {
			b.wram[0][mirror&0x0FFF] = value
		} else {
			b.wram[b.wramBank][mirror&0x0FFF] = value
		}
		return
	case addr >= 0xFE00 && addr <= 0xFE9F:
		b.ppu.CPUWrite(addr, value)
		return
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
		return
	case addr == 0xFF00:
		b.pad.WriteP1(value)
		return
	case addr == 0xFF01:
		b.sb = value
		return
	case addr == 0xFF02:
		b.sc = value & 0x81
		if b.sc&0x80 != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ifReg |= 1 << IntSerial
			b.sc &^= 0x80
		}
		return
	case addr == 0xFF04:
		b.tmr.WriteDIV()
		return
	case addr == 0xFF05:
		b.tmr.WriteTIMA(value)
		return
	case addr == 0xFF06:
		b.tmr.WriteTMA(value)
		return
	case addr == 0xFF07:
		b.tmr.WriteTAC(value)
		return
	case addr == 0xFF0F:
		b.ifReg = value & 0x1F
		return
	case addr >= 0xFF10 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
		return
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B, addr == 0xFF4F,
		addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B, addr == 0xFF6C:
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF46:
		b.oamDMA.Start(value)
		return
	case addr == 0xFF4C:
		// KEY0 is only writable while the boot ROM is still mapped; hardware
		// locks the DMG-compatibility latch the instant the boot ROM unmaps.
		if b.cgb && b.bootEnabled {
			b.key0 = value
		}
		return
	case addr == 0xFF4D:
		if b.cgb {
			b.key1 = (b.key1 & 0x80) | (value & 0x01)
		}
		return
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
		return
	case addr == 0xFF51:
		if b.cgb {
			b.hdma.WriteSrcHi(value)
		}
		return
	case addr == 0xFF52:
		if b.cgb {
			b.hdma.WriteSrcLo(value)
		}
		return
	case addr == 0xFF53:
		if b.cgb {
			b.hdma.WriteDstHi(value)
		}
		return
	case addr == 0xFF54:
		if b.cgb {
			b.hdma.WriteDstLo(value)
		}
		return
	case addr == 0xFF55:
		if b.cgb {
			b.hdma.WriteControl(value)
		}
		return
	case addr == 0xFF70:
		if b.cgb {
			v := value & 0x07
			if v == 0 {
				v = 1
			}
			b.wramBank = v
		}
		return
	case addr == 0xFFFF:
		b.ie = value
		return
	}
}

func (b *Bus) inBootRange(addr uint16) bool {
	if addr < 0x0100 {
		return true
	}
	return b.cgb && addr >= 0x0200 && addr <= 0x08FF
}

// bootOffset maps an overlay address into the image: 2304-byte images are
// full dumps read at absolute offsets, 2048-byte images omit 0x0100-0x01FF.
func (b *Bus) bootOffset(addr uint16) int {
	if addr < 0x0100 || len(b.bootROM) >= 0x900 {
		return int(addr)
	}
	return int(addr) - 0x0200 + 0x100
}

// IE/IF expose the interrupt registers directly for the CPU's dispatch loop.
func (b *Bus) IE() byte        { return b.ie }
func (b *Bus) IF() byte        { return b.ifReg }
func (b *Bus) SetIF(v byte)    { b.ifReg = v & 0x1F }
func (b *Bus) ClearIF(bit int) { b.ifReg &^= 1 << uint(bit) }

// KEY1 exposes the speed-switch register to the CPU so it can act on STOP.
func (b *Bus) KEY1() byte { return b.key1 }
func (b *Bus) SetKEY1Speed(hi bool) {
	if hi {
		b.key1 |= 0x80
	} else {
		b.key1 &^= 0x80
	}
	b.key1 &^= 0x01
}
func (b *Bus) DoubleSpeed() bool { return b.key1&0x80 != 0 }

// SetSerialWriter sets a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a boot ROM to be mapped until disabled via FF50.
// DMG images are 256 bytes; CGB images are 2048 or 2304 bytes (the extra
// region covers 0x0200-0x08FF).
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, len(data))
		copy(b.bootROM, data)
		b.bootEnabled = true
	}
}

// Tick advances every owned/peer component by the given number of base
// (T-cycle) clock ticks.
func (b *Bus) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	b.tmr.Tick(cycles)
	b.ppu.Tick(cycles)
	b.apu.Tick(cycles)
	b.cart.Tick(cycles)
	b.oamDMA.Tick(cycles)
	b.hdma.Step()
}

// --- Save/Load state ---
type busState struct {
	WRAM     [8][0x1000]byte
	WRAMBank byte
	HRAM     [0x7F]byte
	IE, IF   byte
	SB, SC   byte
	BootEn   bool
	CGB      bool
	Key0     byte
	Key1     byte

	PPU, APU, Timer, Pad, OAMDMA, HDMA, Cart []byte
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := busState{
		WRAM: b.wram, WRAMBank: b.wramBank, HRAM: b.hram,
		IE: b.ie, IF: b.ifReg,
		SB: b.sb, SC: b.sc,
		BootEn: b.bootEnabled, CGB: b.cgb, Key0: b.key0, Key1: b.key1,
		PPU:    b.ppu.SaveState(),
		APU:    b.apu.SaveState(),
		Timer:  b.tmr.SaveState(),
		Pad:    b.pad.SaveState(),
		OAMDMA: b.oamDMA.SaveState(),
		HDMA:   b.hdma.SaveState(),
	}
	if bb, ok := b.cart.(interface{ SaveState() []byte }); ok {
		s.Cart = bb.SaveState()
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s busState
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.wram, b.wramBank, b.hram = s.WRAM, s.WRAMBank, s.HRAM
	b.ie, b.ifReg = s.IE, s.IF
	b.sb, b.sc = s.SB, s.SC
	b.bootEnabled, b.cgb, b.key0, b.key1 = s.BootEn, s.CGB, s.Key0, s.Key1
	b.ppu.LoadState(s.PPU)
	b.apu.LoadState(s.APU)
	b.tmr.LoadState(s.Timer)
	b.pad.LoadState(s.Pad)
	b.oamDMA.LoadState(s.OAMDMA)
	b.hdma.LoadState(s.HDMA)
	if bb, ok := b.cart.(interface{ LoadState([]byte) }); ok {
		bb.LoadState(s.Cart)
	}
}
