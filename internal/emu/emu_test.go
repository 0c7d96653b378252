package emu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// blankROM builds a minimal 32KB ROM-only cartridge image: header fields are
// filled in, body is left zeroed so every fetched instruction decodes as NOP
// (0x00), which is enough to drive the PPU/timer through many frames without
// the CPU ever needing valid game logic.
func blankROM(cgb bool) []byte {
	rom := make([]byte, 32*1024)
	copy(rom[0x0134:0x0144], []byte("TESTROM"))
	if cgb {
		rom[0x0143] = 0x80
	}
	rom[0x0147] = 0x00 // ROM ONLY
	rom[0x0148] = 0x00 // 32KB
	rom[0x0149] = 0x00 // no RAM
	return rom
}

func TestLoadCartridgeAndStepFrame(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadCartridge(blankROM(false), nil))
	require.Equal(t, "TESTROM", m.ROMTitle())
	require.False(t, m.WantCGBColors())

	m.StepFrame()
	fb := m.Framebuffer()
	require.Len(t, fb, 160*144*4)
}

func TestForceDMGIgnoresCGBFlag(t *testing.T) {
	m := New(Config{ForceDMG: true})
	require.NoError(t, m.LoadCartridge(blankROM(true), nil))
	require.False(t, m.WantCGBColors(), "ForceDMG must override a CGB-flagged cartridge")
}

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadCartridge(blankROM(false), nil))
	m.StepFrame()
	m.StepFrame()

	snap, err := m.encodeState()
	require.NoError(t, err)

	m.StepFrame()
	pcAfterExtraSteps := m.cpu.PC

	require.NoError(t, m.decodeState(snap))
	require.NotEqual(t, pcAfterExtraSteps, m.cpu.PC, "restoring an earlier snapshot should move PC back")
}

func TestRewindRestoresEarlierFrame(t *testing.T) {
	m := New(Config{RewindSeconds: 1})
	require.NoError(t, m.LoadCartridge(blankROM(false), nil))
	require.False(t, m.CanRewind())

	for i := 0; i < 3; i++ {
		m.StepFrame()
	}
	require.True(t, m.CanRewind())

	beforeLen := len(m.rewind)
	require.True(t, m.Rewind())
	require.Equal(t, beforeLen-1, len(m.rewind))
}

func TestRewindDisabledByDefault(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadCartridge(blankROM(false), nil))
	for i := 0; i < 3; i++ {
		m.StepFrame()
	}
	require.False(t, m.CanRewind(), "RewindSeconds=0 must not accumulate history")
}

func TestCompatPaletteOnlyAppliesToDMGCartridgeWithBGColoringEnabled(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadCartridge(blankROM(false), nil))
	require.True(t, m.IsCGBCompat())

	m.SetUseCGBBG(true)
	require.True(t, m.WantCGBColors())
	require.NotEmpty(t, m.CompatPaletteName(m.CurrentCompatPalette()))

	m.SetUseCGBBG(false)
	require.False(t, m.WantCGBColors())
}

func TestROMChecksumChangesWithContent(t *testing.T) {
	m := New(Config{})
	rom1 := blankROM(false)
	require.NoError(t, m.LoadCartridge(rom1, nil))
	sum1 := m.ROMChecksum()
	require.NotZero(t, sum1)

	rom2 := blankROM(false)
	rom2[0x0134] = 'X'
	require.NoError(t, m.LoadCartridge(rom2, nil))
	require.NotEqual(t, sum1, m.ROMChecksum())
}
