// Package gamepad implements the JOYP (P1) register: button state, the
// P14/P15 select nibble, and the edge-triggered joypad interrupt.
package gamepad

import (
	"bytes"
	"encoding/gob"
)

// Button bitmasks for SetState. A set bit means the button is pressed.
const (
	Right = 1 << iota
	Left
	Up
	Down
	A
	B
	Select
	Start
)

// Gamepad tracks which buttons are pressed and the host-selected button
// group(s), and raises the joypad interrupt on a 1->0 transition of any
// selected line (matching the logical OR of both button groups hardware
// exposes when both P14 and P15 are driven low at once).
type Gamepad struct {
	selectBits byte // last-written bits 5-4 of JOYP
	pressed    byte // Button* bitmask, 1 = pressed
	lastLower4 byte // previously computed active-low lower nibble, for edge detection

	requestIRQ func()
}

func New(requestIRQ func()) *Gamepad {
	return &Gamepad{lastLower4: 0x0F, requestIRQ: requestIRQ}
}

// ReadP1 returns the JOYP register value as the CPU observes it: bits 7-6
// always read 1, bits 5-4 echo the last select write, bits 3-0 are
// active-low and reflect whichever button group(s) are currently selected.
func (g *Gamepad) ReadP1() byte {
	return 0xC0 | (g.selectBits & 0x30) | g.lowerNibble()
}

// WriteP1 updates the select bits (bits 5-4); the lower nibble is
// read-only from the CPU's perspective.
func (g *Gamepad) WriteP1(value byte) {
	g.selectBits = value & 0x30
	g.refreshEdge()
}

// SetState replaces which buttons are currently pressed.
func (g *Gamepad) SetState(mask byte) {
	g.pressed = mask
	g.refreshEdge()
}

func (g *Gamepad) lowerNibble() byte {
	res := byte(0x0F)
	if g.selectBits&0x10 == 0 { // P14 low selects D-Pad
		if g.pressed&Right != 0 {
			res &^= 0x01
		}
		if g.pressed&Left != 0 {
			res &^= 0x02
		}
		if g.pressed&Up != 0 {
			res &^= 0x04
		}
		if g.pressed&Down != 0 {
			res &^= 0x08
		}
	}
	if g.selectBits&0x20 == 0 { // P15 low selects buttons
		if g.pressed&A != 0 {
			res &^= 0x01
		}
		if g.pressed&B != 0 {
			res &^= 0x02
		}
		if g.pressed&Select != 0 {
			res &^= 0x04
		}
		if g.pressed&Start != 0 {
			res &^= 0x08
		}
	}
	return res
}

// refreshEdge recomputes the lower nibble and requests the joypad
// interrupt on any bit's 1->0 transition (the input line going active).
func (g *Gamepad) refreshEdge() {
	newLower := g.lowerNibble()
	falling := g.lastLower4 &^ newLower
	if falling != 0 && g.requestIRQ != nil {
		g.requestIRQ()
	}
	g.lastLower4 = newLower
}

type gamepadState struct {
	SelectBits byte
	Pressed    byte
	LastLower4 byte
}

func (g *Gamepad) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(gamepadState{
		SelectBits: g.selectBits,
		Pressed:    g.pressed,
		LastLower4: g.lastLower4,
	})
	return buf.Bytes()
}

func (g *Gamepad) LoadState(data []byte) {
	var s gamepadState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	g.selectBits = s.SelectBits
	g.pressed = s.Pressed
	g.lastLower4 = s.LastLower4
}
