// Package ppu implements the DMG/CGB pixel processing unit: the VRAM/OAM
// memory, the LCDC/STAT/scroll/palette register file, the mode machine
// that drives HBlank/VBlank/OAM/Draw timing and STAT/LY=LYC interrupts,
// and the scanline-at-a-time BG/window/sprite compositor that fills a
// 160x144 RGBA framebuffer.
package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, CGB palette RAM, and the
// scanline compositor. It exposes CPU-facing Read/Write for VRAM/OAM and
// PPU IO regs plus a composed RGBA framebuffer.
type PPU struct {
	vram [2][0x2000]byte // bank 0 (DMG+CGB) and bank 1 (CGB only), 0x8000-0x9FFF
	oam  [0xA0]byte      // 0xFE00-0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	cgb  bool
	vbk  byte      // FF4F bit0
	bcps byte      // FF68
	bcpd [64]byte  // FF69 target, 8 palettes x 4 colors x 2 bytes
	ocps byte      // FF6A
	ocpd [64]byte  // FF6B target
	opri byte      // FF6C bit0: 0=OAM-index priority (native CGB), 1=X-coordinate priority (DMG-compatible)

	dot        int // dots within current line [0..455]
	winCounter byte
	lineSnap   [144]LineRegs

	fb [160 * 144 * 4]byte // RGBA8888, row-major

	req InterruptRequester
}

// LineRegs captures register state relevant to a scanline that can't be
// read back from live registers after the fact (the window line counter).
type LineRegs struct {
	WinLine byte
}

// New constructs a PPU. cgb selects whether CGB-only registers (VRAM bank
// 1, BCPS/BCPD, OCPS/OCPD, OPRI) are live or report DMG-compatibility
// constants.
func New(req InterruptRequester, cgb bool) *PPU { return &PPU{req: req, cgb: cgb} }

// Mode returns the current STAT mode (0:HBlank 1:VBlank 2:OAMScan 3:Draw).
func (p *PPU) Mode() byte { return p.stat & 0x03 }

// LineRegs returns the captured per-scanline window-line-counter snapshot.
func (p *PPU) LineRegs(y int) LineRegs {
	if y < 0 || y >= 144 {
		return LineRegs{}
	}
	return p.lineSnap[y]
}

// Framebuffer returns the live RGBA8888 framebuffer, 160x144, row-major.
func (p *PPU) Framebuffer() []byte { return p.fb[:] }

func (p *PPU) vramBank() int {
	if p.cgb && p.vbk&1 != 0 {
		return 1
	}
	return 0
}

// Read implements VRAMReader for the monochrome scanline helpers: always
// bank 0, which is correct for DMG and for CGB tile-number bytes.
func (p *PPU) Read(addr uint16) byte {
	if addr < 0x8000 || addr >= 0xA000 {
		return 0xFF
	}
	return p.vram[0][addr-0x8000]
}

// ReadBank implements BankVRAMReader for the CGB scanline helpers.
func (p *PPU) ReadBank(bank int, addr uint16) byte {
	if addr < 0x8000 || addr >= 0xA000 {
		return 0xFF
	}
	if bank != 0 {
		bank = 1
	}
	return p.vram[bank][addr-0x8000]
}

// CPUReadOAMRaw/CPUWriteOAMRaw/CPUWriteVRAMRaw bypass the mode-gating CPU
// accesses go through; the DMA engines use these since they are not
// subject to the same bus-contention rules as direct CPU access.
func (p *PPU) CPUReadOAMRaw(index int) byte         { return p.oam[index] }
func (p *PPU) CPUWriteOAMRaw(index int, value byte) { p.oam[index] = value }
func (p *PPU) CPUWriteVRAMRaw(addr uint16, value byte) {
	if addr < 0x8000 || addr >= 0xA000 {
		return
	}
	p.vram[p.vramBank()][addr-0x8000] = value
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[p.vramBank()][addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	case addr == 0xFF4F:
		if !p.cgb {
			return 0xFF
		}
		return 0xFE | (p.vbk & 1)
	case addr == 0xFF68:
		if !p.cgb {
			return 0xFF
		}
		return p.bcps
	case addr == 0xFF69:
		if !p.cgb {
			return 0xFF
		}
		return p.bcpd[p.bcps&0x3F]
	case addr == 0xFF6A:
		if !p.cgb {
			return 0xFF
		}
		return p.ocps
	case addr == 0xFF6B:
		if !p.cgb {
			return 0xFF
		}
		return p.ocpd[p.ocps&0x3F]
	case addr == 0xFF6C:
		if !p.cgb {
			return 0xFF
		}
		return 0xFE | (p.opri & 1)
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[p.vramBank()][addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			p.ly = 0
			p.dot = 0
			p.winCounter = 0
			p.setMode(2)
			p.updateLYC()
			p.beginLine(0)
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	case addr == 0xFF4F:
		if p.cgb {
			p.vbk = value & 1
		}
	case addr == 0xFF68:
		if p.cgb {
			p.bcps = value & 0xBF
		}
	case addr == 0xFF69:
		if p.cgb {
			idx := p.bcps & 0x3F
			p.bcpd[idx] = value
			if p.bcps&0x80 != 0 {
				p.bcps = (p.bcps & 0x80) | ((idx + 1) & 0x3F)
			}
		}
	case addr == 0xFF6A:
		if p.cgb {
			p.ocps = value & 0xBF
		}
	case addr == 0xFF6B:
		if p.cgb {
			idx := p.ocps & 0x3F
			p.ocpd[idx] = value
			if p.ocps&0x80 != 0 {
				p.ocps = (p.ocps & 0x80) | ((idx + 1) & 0x3F)
			}
		}
	case addr == 0xFF6C:
		if p.cgb {
			p.opri = value & 1
		}
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		prevMode := p.stat & 0x03
		p.setMode(mode)
		if prevMode != 0 && mode == 0 && p.ly < 144 {
			p.composeLine(p.ly)
		}

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				if p.req != nil {
					p.req(0)
				} // VBlank IF
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				} // STAT VBlank
			} else if p.ly > 153 {
				p.ly = 0
				p.winCounter = 0
			}
			p.updateLYC()
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
				p.beginLine(p.ly)
			}
		}
	}
}

func (p *PPU) beginLine(ly byte) {
	if int(ly) >= 144 {
		return
	}
	if p.windowVisible(ly) {
		p.lineSnap[ly] = LineRegs{WinLine: p.winCounter}
		p.winCounter++
	} else {
		p.lineSnap[ly] = LineRegs{}
	}
}

func (p *PPU) windowVisible(ly byte) bool {
	return p.lcdc&0x20 != 0 && ly >= p.wy && p.wx <= 166
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// composeLine builds the RGBA row for ly out of the BG, window and sprite
// layers, at the moment the line transitions into HBlank.
func (p *PPU) composeLine(ly byte) {
	if ly >= 144 {
		return
	}
	bgEnabled := p.lcdc&0x01 != 0
	winEnabled := p.lcdc&0x20 != 0
	objEnabled := p.lcdc&0x02 != 0
	tall := p.lcdc&0x04 != 0

	mapBaseBG := uint16(0x9800)
	if p.lcdc&0x08 != 0 {
		mapBaseBG = 0x9C00
	}
	mapBaseWin := uint16(0x9800)
	if p.lcdc&0x40 != 0 {
		mapBaseWin = 0x9C00
	}
	tileData8000 := p.lcdc&0x10 != 0

	var bgci [160]byte
	var bgpal [160]byte
	var bgpri [160]bool

	if p.cgb {
		bgci, bgpal, bgpri = RenderBGScanlineCGB(p, mapBaseBG, mapBaseBG, tileData8000, p.scx, p.scy, ly)
	} else if bgEnabled {
		bgci = RenderBGScanlineUsingFetcher(p, mapBaseBG, tileData8000, p.scx, p.scy, ly)
	}

	if winEnabled && ly >= p.wy && p.wx <= 166 {
		wxStart := int(p.wx) - 7
		winLine := p.lineSnap[ly].WinLine
		from := wxStart
		if from < 0 {
			from = 0
		}
		if p.cgb {
			wci, wpal, wpri := RenderWindowScanlineCGB(p, mapBaseWin, mapBaseWin, tileData8000, wxStart, winLine)
			for x := from; x < 160; x++ {
				bgci[x], bgpal[x], bgpri[x] = wci[x], wpal[x], wpri[x]
			}
		} else {
			wci := RenderWindowScanlineUsingFetcher(p, mapBaseWin, tileData8000, wxStart, winLine)
			for x := from; x < 160; x++ {
				bgci[x] = wci[x]
			}
		}
	}

	var sprci [160]byte
	var sprattr [160]byte
	var sprok [160]bool
	if objEnabled {
		sprites := p.spritesForLine(ly, tall)
		cgbPriorityMode := p.cgb && p.opri&1 == 0
		for x := 0; x < 160; x++ {
			ci, attr, ok := bestSpriteAt(p, sprites, ly, x, cgbPriorityMode)
			sprci[x], sprattr[x], sprok[x] = ci, attr, ok
		}
	}

	rowBase := int(ly) * 160 * 4
	for x := 0; x < 160; x++ {
		var r, g, b byte
		useSprite := false
		if sprok[x] {
			hidden := sprattr[x]&0x80 != 0 && bgci[x] != 0
			if p.cgb && bgpri[x] && bgci[x] != 0 {
				hidden = true
			}
			if !hidden {
				useSprite = true
			}
		}
		switch {
		case useSprite && p.cgb:
			r, g, b = cgbColor(p.ocpd[:], sprattr[x]&0x07, sprci[x])
		case useSprite:
			obp := p.obp0
			if sprattr[x]&0x10 != 0 {
				obp = p.obp1
			}
			r, g, b = dmgShade((obp >> (sprci[x] * 2)) & 0x03)
		case p.cgb:
			r, g, b = cgbColor(p.bcpd[:], bgpal[x], bgci[x])
		default:
			r, g, b = dmgShade((p.bgp >> (bgci[x] * 2)) & 0x03)
		}
		idx := rowBase + x*4
		p.fb[idx+0] = r
		p.fb[idx+1] = g
		p.fb[idx+2] = b
		p.fb[idx+3] = 0xFF
	}
}

func dmgShade(shade byte) (r, g, b byte) {
	switch shade {
	case 0:
		return 0xE0, 0xF8, 0xD0
	case 1:
		return 0x88, 0xC0, 0x70
	case 2:
		return 0x34, 0x68, 0x56
	default:
		return 0x08, 0x18, 0x20
	}
}

func cgbColor(table []byte, pal, ci byte) (r, g, b byte) {
	off := int(pal)*8 + int(ci)*2
	if off+1 >= len(table) {
		return 0, 0, 0
	}
	v := uint16(table[off+1])<<8 | uint16(table[off])
	r5 := byte(v & 0x1F)
	g5 := byte((v >> 5) & 0x1F)
	b5 := byte((v >> 10) & 0x1F)
	return (r5 << 3) | (r5 >> 2), (g5 << 3) | (g5 >> 2), (b5 << 3) | (b5 >> 2)
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

type ppuState struct {
	VRAM            [2][0x2000]byte
	OAM             [0xA0]byte
	LCDC, STAT      byte
	SCY, SCX        byte
	LY, LYC         byte
	BGP, OBP0, OBP1 byte
	WY, WX          byte
	CGB             bool
	VBK             byte
	BCPS            byte
	BCPD            [64]byte
	OCPS            byte
	OCPD            [64]byte
	OPRI            byte
	Dot             int
	WinCounter      byte
	LineSnap        [144]LineRegs
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	s := ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx,
		LY: p.ly, LYC: p.lyc, BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WY: p.wy, WX: p.wx, CGB: p.cgb, VBK: p.vbk,
		BCPS: p.bcps, BCPD: p.bcpd, OCPS: p.ocps, OCPD: p.ocpd, OPRI: p.opri,
		Dot: p.dot, WinCounter: p.winCounter, LineSnap: p.lineSnap,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat, p.scy, p.scx = s.LCDC, s.STAT, s.SCY, s.SCX
	p.ly, p.lyc, p.bgp, p.obp0, p.obp1 = s.LY, s.LYC, s.BGP, s.OBP0, s.OBP1
	p.wy, p.wx, p.cgb, p.vbk = s.WY, s.WX, s.CGB, s.VBK
	p.bcps, p.bcpd, p.ocps, p.ocpd, p.opri = s.BCPS, s.BCPD, s.OCPS, s.OCPD, s.OPRI
	p.dot, p.winCounter, p.lineSnap = s.Dot, s.WinCounter, s.LineSnap
}
