// Package dma implements the two DMA engines of the DMG/CGB memory map:
// classic OAM DMA (FF46), stepped one byte every 4 T-cycles, and the CGB
// general-purpose/HBlank VRAM DMA (FF51-FF55).
package dma

import (
	"bytes"
	"encoding/gob"
)

// OAM implements the FF46 OAM DMA transfer: 160 bytes copied from
// src*0x100 to OAM, one byte per M-cycle (4 T-cycles), during which CPU
// reads of everything but HRAM return 0xFF.
type OAM struct {
	readByte func(addr uint16) byte
	writeOAM func(index int, value byte)

	active bool
	src    uint16
	index  int
	cycAcc int
}

func NewOAM(readByte func(addr uint16) byte, writeOAM func(index int, value byte)) *OAM {
	return &OAM{readByte: readByte, writeOAM: writeOAM}
}

// Start begins a transfer from src<<8. A transfer already in progress is
// restarted from the new source, matching hardware: writing FF46 again
// mid-transfer simply re-triggers it.
func (d *OAM) Start(src byte) {
	d.active = true
	d.src = uint16(src) << 8
	d.index = 0
	d.cycAcc = 0
}

func (d *OAM) Active() bool { return d.active }

// Tick advances the transfer by the given number of T-cycles, copying one
// byte every 4 cycles until all 160 bytes have moved.
func (d *OAM) Tick(cycles int) {
	if !d.active {
		return
	}
	d.cycAcc += cycles
	for d.cycAcc >= 4 && d.active {
		d.cycAcc -= 4
		v := d.readByte(d.src + uint16(d.index))
		d.writeOAM(d.index, v)
		d.index++
		if d.index >= 0xA0 {
			d.active = false
		}
	}
}

type oamState struct {
	Active bool
	Src    uint16
	Index  int
	CycAcc int
}

func (d *OAM) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(oamState{d.active, d.src, d.index, d.cycAcc})
	return buf.Bytes()
}

func (d *OAM) LoadState(data []byte) {
	var s oamState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	d.active, d.src, d.index, d.cycAcc = s.Active, s.Src, s.Index, s.CycAcc
}

// Mode selects General-Purpose (all-at-once) vs HBlank (16 bytes per
// HBlank) CGB VRAM DMA.
type Mode int

const (
	General Mode = iota
	HBlank
)

// HDMA implements the CGB VRAM DMA controller at FF51-FF55: a source
// address (FF51/FF52), a VRAM-relative destination (FF53/FF54), and a
// length/mode/trigger register (FF55). General-purpose transfers copy the
// whole block immediately; HBlank transfers move 16 bytes per HBlank
// period and can be cancelled by clearing bit 7 of FF55 mid-transfer.
type HDMA struct {
	readByte    func(addr uint16) byte
	writeVRAM   func(addr uint16, value byte)
	inHBlank    func() bool

	srcHi, srcLo byte
	dstHi, dstLo byte

	active       bool
	mode         Mode
	lengthBlocks byte // remaining 16-byte blocks, 0..0x7F
	hblankLatch  bool // true once we've transferred this HBlank period
}

func NewHDMA(readByte func(addr uint16) byte, writeVRAM func(addr uint16, value byte), inHBlank func() bool) *HDMA {
	return &HDMA{readByte: readByte, writeVRAM: writeVRAM, inHBlank: inHBlank}
}

func (h *HDMA) Active() bool { return h.active }

func (h *HDMA) WriteSrcHi(v byte) { h.srcHi = v }
func (h *HDMA) WriteSrcLo(v byte) { h.srcLo = v & 0xF0 }
func (h *HDMA) WriteDstHi(v byte) { h.dstHi = v & 0x1F }
func (h *HDMA) WriteDstLo(v byte) { h.dstLo = v & 0xF0 }

func (h *HDMA) source() uint16 {
	return uint16(h.srcHi)<<8 | uint16(h.srcLo)
}

func (h *HDMA) dest() uint16 {
	return 0x8000 | (uint16(h.dstHi)<<8 | uint16(h.dstLo))
}

// WriteControl handles a write to FF55. Bit 7 selects mode (0=general,
// 1=HBlank) on a new transfer, or cancels an active HBlank transfer when
// written with bit7 clear. Bits 6-0 encode (length/16)-1.
func (h *HDMA) WriteControl(v byte) {
	if h.active && v&0x80 == 0 {
		h.active = false
		return
	}
	h.lengthBlocks = v&0x7F + 1
	if v&0x80 != 0 {
		h.mode = HBlank
		h.active = true
		h.hblankLatch = false
		return
	}
	h.mode = General
	h.transferBlocks(h.lengthBlocks)
	h.lengthBlocks = 0
	h.active = false
}

// ReadControl returns FF55: 0xFF (bit7 set) while no transfer is active;
// while an HBlank transfer is still pending, bit7 reads clear and bits 6-0
// count down the remaining 16-byte blocks minus one.
func (h *HDMA) ReadControl() byte {
	if !h.active {
		return 0xFF
	}
	return (h.lengthBlocks - 1) & 0x7F
}

// Step is called on every bus tick; it moves one 16-byte block of an
// in-progress HBlank transfer on each entry into HBlank, and re-arms once
// inHBlank reports that the HBlank period has ended.
func (h *HDMA) Step() {
	if !h.active || h.mode != HBlank {
		return
	}
	if h.inHBlank != nil && !h.inHBlank() {
		h.hblankLatch = false
		return
	}
	if h.hblankLatch {
		return
	}
	h.hblankLatch = true
	h.transferBlocks(1)
	h.lengthBlocks--
	if h.lengthBlocks == 0 {
		h.active = false
	}
}

func (h *HDMA) transferBlocks(blocks byte) {
	src := h.source()
	dst := h.dest()
	total := int(blocks) * 16
	for i := 0; i < total; i++ {
		v := h.readByte(src + uint16(i))
		h.writeVRAM(dst+uint16(i), v)
	}
	h.srcHi, h.srcLo = byte((src+uint16(total))>>8), byte((src+uint16(total))&0xF0)
	dstRel := (dst + uint16(total)) & 0x1FFF
	h.dstHi, h.dstLo = byte(dstRel>>8), byte(dstRel&0xF0)
}

type hdmaState struct {
	SrcHi, SrcLo byte
	DstHi, DstLo byte
	Active       bool
	Mode         Mode
	LengthBlocks byte
	HBlankLatch  bool
}

func (h *HDMA) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(hdmaState{
		SrcHi: h.srcHi, SrcLo: h.srcLo, DstHi: h.dstHi, DstLo: h.dstLo,
		Active: h.active, Mode: h.mode, LengthBlocks: h.lengthBlocks, HBlankLatch: h.hblankLatch,
	})
	return buf.Bytes()
}

func (h *HDMA) LoadState(data []byte) {
	var s hdmaState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	h.srcHi, h.srcLo, h.dstHi, h.dstLo = s.SrcHi, s.SrcLo, s.DstHi, s.DstLo
	h.active, h.mode, h.lengthBlocks, h.hblankLatch = s.Active, s.Mode, s.LengthBlocks, s.HBlankLatch
}
