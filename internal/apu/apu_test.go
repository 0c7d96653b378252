package apu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// NR12/NR22/NR42 layout: vol(4) | dir(1) | period(3). Any nonzero upper 5
// bits (vol or dir) enables the DAC (spec.md §4.5 invariant I3); volume 0
// with envelope direction "increase" is a legal DAC-enabling setting that a
// vol==0-implies-off approximation would misclassify.

func TestCh1DACEnabledWithZeroVolumeIncreasingEnvelope(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0x08) // vol=0, dir=increase, period=0
	require.True(t, a.ch1.dacEn, "vol=0 with increasing envelope still enables the DAC")

	a.CPUWrite(0xFF14, 0x80) // trigger
	require.True(t, a.ch1.enabled, "trigger must start the channel when the DAC is enabled")
}

func TestCh1DACDisabledWithZeroVolumeDecreasingEnvelope(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0x00) // vol=0, dir=decrease, period=0 -> DAC off
	require.False(t, a.ch1.dacEn)

	a.CPUWrite(0xFF14, 0x80) // trigger
	require.False(t, a.ch1.enabled, "trigger must not start a channel whose DAC is off")
}

func TestCh2DACDisableSilencesAlreadyRunningChannel(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF17, 0xF0) // vol=0xF, dir=decrease -> DAC on
	a.CPUWrite(0xFF19, 0x80) // trigger
	require.True(t, a.ch2.enabled)

	a.CPUWrite(0xFF17, 0x00) // vol=0, dir=decrease -> DAC off
	require.False(t, a.ch2.dacEn)
	require.False(t, a.ch2.enabled, "disabling the DAC mid-playback must stop the channel")
}

func TestCh4DACFollowsNR42UpperBits(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF21, 0x08) // vol=0, dir=increase -> DAC on
	require.True(t, a.ch4.dacEn)

	a.CPUWrite(0xFF21, 0x00) // vol=0, dir=decrease -> DAC off
	require.False(t, a.ch4.dacEn)
}

func TestCh3DACGatedByNR30Bit7(t *testing.T) {
	a := New(48000)
	require.False(t, a.ch3.dacEn)
	a.CPUWrite(0xFF1A, 0x80)
	require.True(t, a.ch3.dacEn)
	a.CPUWrite(0xFF1A, 0x00)
	require.False(t, a.ch3.dacEn)
}

func TestPowerOffResetsRegistersButPreservesSampleRate(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF12, 0x08)
	a.CPUWrite(0xFF26, 0x00) // power off
	require.False(t, a.enabled)
	require.Equal(t, 44100, a.sampleRate)
	require.False(t, a.ch1.dacEn, "power-off clears channel state")
}

func TestStereoAvailableGrowsAsTickProducesSamples(t *testing.T) {
	a := New(48000)
	require.Equal(t, 0, a.StereoAvailable())
	a.Tick(cpuHz / 60) // roughly one frame's worth of cycles
	require.Greater(t, a.StereoAvailable(), 0)
}

func TestPullStereoDrainsBuffer(t *testing.T) {
	a := New(48000)
	a.Tick(cpuHz / 60)
	n := a.StereoAvailable()
	require.Greater(t, n, 0)
	out := a.PullStereo(n)
	require.Len(t, out, n*2) // interleaved L,R
	require.Equal(t, 0, a.StereoAvailable())
}
