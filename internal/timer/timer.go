// Package timer implements the DIV/TIMA/TMA/TAC timer: a free-running
// 16-bit divider, TIMA incrementing on a falling edge of a TAC-selected
// divider bit, and the 4-cycle overflow-to-reload delay during which a
// TIMA write cancels the pending reload.
package timer

import (
	"bytes"
	"encoding/gob"
)

// Timer owns the divider and TIMA/TMA/TAC registers and raises the timer
// interrupt through requestIRQ when TIMA overflows and reloads.
type Timer struct {
	divInternal uint16 // free-running 16-bit divider; DIV (FF04) reads the upper 8 bits
	tima        byte   // FF05
	tma         byte   // FF06
	tac         byte   // FF07, lower 3 bits used

	// reloadDelay counts down the 4 T-cycles between a TIMA overflow (TIMA
	// set to 0x00) and the actual reload from TMA plus interrupt request.
	// A TIMA write while this is nonzero cancels the pending reload.
	reloadDelay int

	requestIRQ func()
}

// New constructs a Timer that calls requestIRQ whenever TIMA overflows and
// reloads from TMA.
func New(requestIRQ func()) *Timer {
	return &Timer{requestIRQ: requestIRQ}
}

func (t *Timer) ReadDIV() byte  { return byte(t.divInternal >> 8) }
func (t *Timer) ReadTIMA() byte { return t.tima }
func (t *Timer) ReadTMA() byte  { return t.tma }
func (t *Timer) ReadTAC() byte  { return 0xF8 | (t.tac & 0x07) }

// WriteDIV resets the internal divider to zero. Because the reset can
// itself cause a falling edge on the TAC-selected bit, it can trigger a
// TIMA increment exactly like advancing time normally would.
func (t *Timer) WriteDIV() {
	oldInput := t.input()
	t.divInternal = 0
	if oldInput && !t.input() {
		t.incrementTIMA()
	}
}

// WriteTIMA sets TIMA directly. If a reload from a prior overflow is still
// pending, the write cancels it.
func (t *Timer) WriteTIMA(value byte) {
	t.tima = value
	t.reloadDelay = 0
}

func (t *Timer) WriteTMA(value byte) { t.tma = value }

// WriteTAC can change which divider bit feeds TIMA, which can itself
// produce a falling edge and increment TIMA immediately.
func (t *Timer) WriteTAC(value byte) {
	oldInput := t.input()
	t.tac = value & 0x07
	if oldInput && !t.input() {
		t.incrementTIMA()
	}
}

// Tick advances the timer by the given number of T-cycles, one at a time
// so falling edges and the overflow delay land on the correct cycle.
func (t *Timer) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		t.tickOne()
	}
}

func (t *Timer) tickOne() {
	oldInput := t.input()
	t.divInternal++
	falling := oldInput && !t.input()

	if t.reloadDelay > 0 {
		t.reloadDelay--
		if t.reloadDelay == 0 {
			t.tima = t.tma
			if t.requestIRQ != nil {
				t.requestIRQ()
			}
		}
	}

	// The falling-edge increment is applied after a same-cycle reload so an
	// edge landing on the reload cycle increments the freshly reloaded value.
	if falling {
		t.incrementTIMA()
	}
}

// input reports the current timer clock input after TAC gating: the
// TAC-selected divider bit, held low whenever the timer is disabled.
func (t *Timer) input() bool {
	if t.tac&0x04 == 0 {
		return false
	}
	var bit uint
	switch t.tac & 0x03 {
	case 0x00:
		bit = 9 // 4096 Hz
	case 0x01:
		bit = 3 // 262144 Hz
	case 0x02:
		bit = 5 // 65536 Hz
	case 0x03:
		bit = 7 // 16384 Hz
	}
	return (t.divInternal>>bit)&1 != 0
}

func (t *Timer) incrementTIMA() {
	if t.reloadDelay > 0 {
		return
	}
	if t.tima == 0xFF {
		t.tima = 0x00
		t.reloadDelay = 4
		return
	}
	t.tima++
}

type timerState struct {
	DivInternal uint16
	TIMA        byte
	TMA         byte
	TAC         byte
	ReloadDelay int
}

func (t *Timer) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(timerState{
		DivInternal: t.divInternal,
		TIMA:        t.tima,
		TMA:         t.tma,
		TAC:         t.tac,
		ReloadDelay: t.reloadDelay,
	})
	return buf.Bytes()
}

func (t *Timer) LoadState(data []byte) {
	var s timerState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	t.divInternal = s.DivInternal
	t.tima = s.TIMA
	t.tma = s.TMA
	t.tac = s.TAC
	t.reloadDelay = s.ReloadDelay
}
