package apu

import "testing"

func TestAPU_DACOffKeepsChannelDisabledOnTrigger(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0x00) // NR12: vol=0, envelope decreasing -> DAC off
	a.CPUWrite(0xFF14, 0x80) // NR14: trigger
	if a.ch1.enabled {
		t.Fatalf("channel 1 should stay disabled when its DAC is off")
	}

	a.CPUWrite(0xFF12, 0xF0) // vol=0xF, DAC on
	a.CPUWrite(0xFF14, 0x80) // trigger
	if !a.ch1.enabled {
		t.Fatalf("channel 1 should enable on trigger once its DAC is on")
	}
}

func TestAPU_DACOffDisablesRunningChannelImmediately(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0xF0) // DAC on
	a.CPUWrite(0xFF14, 0x80) // trigger, channel running
	if !a.ch1.enabled {
		t.Fatalf("expected channel 1 running after trigger")
	}
	a.CPUWrite(0xFF12, 0x00) // vol=0, envelope decreasing -> DAC off
	if a.ch1.enabled {
		t.Fatalf("writing NR12 with DAC bits clear should silence channel 1 immediately")
	}
}

func TestAPU_LengthEnableExtraClockQuirk(t *testing.T) {
	a := New(48000)
	// Land on an even frame-sequencer step so the upcoming step will NOT
	// clock length (see extraLengthClockOnEnable).
	a.fsStep = 0

	a.CPUWrite(0xFF11, 0x3F) // NR11: length = 64-63 = 1
	a.CPUWrite(0xFF12, 0xF0) // DAC on
	a.CPUWrite(0xFF14, 0x40) // NR14: enable length only (no trigger), length 1 -> 0

	if a.ch1.length != 0 {
		t.Fatalf("expected the enable-edge quirk to clock length once, got %d", a.ch1.length)
	}
	if a.ch1.enabled {
		t.Fatalf("channel should be silenced once the quirk empties its length counter")
	}
}

func TestAPU_LengthEnableQuirkSkippedWhenNextStepClocksLength(t *testing.T) {
	a := New(48000)
	a.fsStep = 1 // upcoming step (2) already clocks length

	a.CPUWrite(0xFF11, 0x3F) // length = 1
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0x40) // enable length only

	if a.ch1.length != 1 {
		t.Fatalf("quirk should not fire when the frame sequencer is about to clock length anyway, got %d", a.ch1.length)
	}
}

func TestAPU_PowerOffClearsRegisters(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0x80)
	a.CPUWrite(0xFF26, 0x00) // power off
	if a.CPURead(0xFF26)&0x80 != 0 {
		t.Fatalf("NR52 power bit should read 0 after power-off write")
	}
	if a.ch1.enabled {
		t.Fatalf("channel 1 should be silent after power-off")
	}
}
