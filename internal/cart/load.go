package cart

import (
	"archive/zip"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bodgit/sevenzip"
)

// LoadROM reads a cartridge image from disk, transparently decompressing
// .gz/.zip/.7z-wrapped ROMs. Raw .gb/.gbc/.bin files and anything with an
// unrecognized extension are returned as-is.
func LoadROM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".gb") || strings.HasSuffix(lower, ".gbc") {
		return data, nil
	}

	var decoder io.Reader
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch filepath.Ext(lower) {
	case ".gz":
		decoder, err = gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
	case ".zip":
		zr, err := zip.NewReader(f, int64(len(data)))
		if err != nil {
			return nil, err
		}
		if len(zr.File) == 0 {
			return nil, &RomError{Reason: "zip archive is empty"}
		}
		rc, err := zr.File[0].Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		decoder = rc
	case ".7z":
		zr, err := sevenzip.NewReader(f, int64(len(data)))
		if err != nil {
			return nil, err
		}
		if len(zr.File) == 0 {
			return nil, &RomError{Reason: "7z archive is empty"}
		}
		rc, err := zr.File[0].Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		decoder = rc
	default:
		return data, nil
	}

	return io.ReadAll(decoder)
}

// rtcSaveLen is the fixed 48-byte RTC trailer spec.md §6 describes:
// seconds, minutes, hours, a 16-bit day counter, halt and carry for the
// live copy (bytes 0-6) and the shadow copy (bytes 7-13), plus a 64-bit
// Unix timestamp of the last save at bytes 40-47; the rest is zero padding.
const rtcSaveLen = 48

// SaveSRAM returns the bytes a host should persist to the .sav sidecar
// file: raw external RAM, with an MBC3-with-RTC cartridge appending its
// RTC trailer.
func SaveSRAM(c Cartridge) []byte {
	bb, ok := c.(BatteryBacked)
	if !ok {
		return nil
	}
	out := bb.SaveRAM()
	m, isMBC3 := c.(*MBC3)
	if !isMBC3 || !m.hasRTC {
		return out
	}
	trailer := make([]byte, rtcSaveLen)
	trailer[0] = m.clock.Seconds
	trailer[1] = m.clock.Minutes
	trailer[2] = m.clock.Hours
	binary.LittleEndian.PutUint16(trailer[3:5], m.clock.Days)
	trailer[5] = boolToByte(m.clock.Halt)
	trailer[6] = boolToByte(m.clock.Carry)
	trailer[7] = m.shadow.Seconds
	trailer[8] = m.shadow.Minutes
	trailer[9] = m.shadow.Hours
	binary.LittleEndian.PutUint16(trailer[10:12], m.shadow.Days)
	trailer[12] = boolToByte(m.shadow.Halt)
	trailer[13] = boolToByte(m.shadow.Carry)
	binary.LittleEndian.PutUint64(trailer[40:48], uint64(time.Now().Unix()))
	return append(out, trailer...)
}

// LoadSRAM restores external RAM (and, for MBC3+RTC, the RTC trailer) from
// save-file bytes. A missing, truncated, or wrong-sized save is ignored —
// the cartridge starts zeroed, never an error (spec.md §4.1).
func LoadSRAM(c Cartridge, data []byte) {
	bb, ok := c.(BatteryBacked)
	if !ok || len(data) == 0 {
		return
	}
	ramLen := len(bb.SaveRAM())
	m, isMBC3 := c.(*MBC3)
	if isMBC3 && m.hasRTC && len(data) == ramLen+rtcSaveLen {
		split := len(data) - rtcSaveLen
		bb.LoadRAM(data[:split])
		trailer := data[split:]
		m.clock.Seconds = trailer[0]
		m.clock.Minutes = trailer[1]
		m.clock.Hours = trailer[2]
		m.clock.Days = binary.LittleEndian.Uint16(trailer[3:5])
		m.clock.Halt = trailer[5] != 0
		m.clock.Carry = trailer[6] != 0
		m.shadow.Seconds = trailer[7]
		m.shadow.Minutes = trailer[8]
		m.shadow.Hours = trailer[9]
		m.shadow.Days = binary.LittleEndian.Uint16(trailer[10:12])
		m.shadow.Halt = trailer[12] != 0
		m.shadow.Carry = trailer[13] != 0
		return
	}
	if len(data) == ramLen {
		bb.LoadRAM(data)
	}
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
