package ppu

// BankVRAMReader extends VRAMReader with bank-aware access, needed to read
// CGB tile attributes (bank 1) and bank-1 tile data independently of
// whatever bank CPURead would currently expose through VBK.
type BankVRAMReader interface {
	VRAMReader
	ReadBank(bank int, addr uint16) byte
}

func cgbTileRow(mem BankVRAMReader, tileData8000 bool, tileNum, attr byte, fineY byte) (lo, hi byte) {
	bank := 0
	if attr&0x10 != 0 {
		bank = 1
	}
	row := fineY & 7
	if attr&0x40 != 0 {
		row = 7 - row
	}
	var base uint16
	if tileData8000 {
		base = 0x8000 + uint16(tileNum)*16 + uint16(row)*2
	} else {
		base = 0x9000 + uint16(int8(tileNum))*16 + uint16(row)*2
	}
	return mem.ReadBank(bank, base), mem.ReadBank(bank, base+1)
}

func cgbRowPixels(lo, hi, attr byte) (ci [8]byte) {
	xflip := attr&0x20 != 0
	for col := 0; col < 8; col++ {
		bit := 7 - col
		if xflip {
			bit = col
		}
		ci[col] = ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
	}
	return
}

// RenderBGScanlineCGB renders 160 BG pixels along with their per-pixel
// CGB palette index (0-7) and BG-to-OBJ priority flag.
func RenderBGScanlineCGB(mem BankVRAMReader, mapBase, attrBase uint16, tileData8000 bool, scx, scy, ly byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31

	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	x := 0
	skip := fineX
	for x < 160 {
		offset := mapY*32 + tileX
		tileNum := mem.ReadBank(0, mapBase+offset)
		attr := mem.ReadBank(1, attrBase+offset)
		lo, hi := cgbTileRow(mem, tileData8000, tileNum, attr, fineY)
		px := cgbRowPixels(lo, hi, attr)
		for col := 0; col < 8; col++ {
			if skip > 0 {
				skip--
				continue
			}
			if x >= 160 {
				break
			}
			ci[x] = px[col]
			pal[x] = attr & 0x07
			pri[x] = attr&0x80 != 0
			x++
		}
		tileX = (tileX + 1) & 31
	}
	return
}

// RenderWindowScanlineCGB renders the window layer starting at wxStart,
// leaving pixels before it as zero so callers can blend against BG.
func RenderWindowScanlineCGB(mem BankVRAMReader, mapBase, attrBase uint16, tileData8000 bool, wxStart int, winLine byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	if wxStart >= 160 {
		return
	}
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	tileX := uint16(0)

	x := wxStart
	for x < 160 {
		offset := mapY*32 + tileX
		tileNum := mem.ReadBank(0, mapBase+offset)
		attr := mem.ReadBank(1, attrBase+offset)
		lo, hi := cgbTileRow(mem, tileData8000, tileNum, attr, fineY)
		px := cgbRowPixels(lo, hi, attr)
		for col := 0; col < 8; col++ {
			if x >= 160 {
				break
			}
			ci[x] = px[col]
			pal[x] = attr & 0x07
			pri[x] = attr&0x80 != 0
			x++
		}
		tileX = (tileX + 1) & 31
	}
	return
}
