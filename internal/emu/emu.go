// Package emu wires the CPU, Bus, PPU, and APU together into a single
// runnable machine: cartridge loading, frame stepping, reset semantics,
// audio pulling, and save-state persistence.
package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/kjellberg/gbcore/internal/bus"
	"github.com/kjellberg/gbcore/internal/cart"
	"github.com/kjellberg/gbcore/internal/cpu"
)

// Buttons is the set of currently-pressed joypad inputs for one frame.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// maxStepsPerFrame bounds StepFrame/StepFrameNoRender so a disabled LCD (LY
// frozen) can never spin forever; this is generous enough to cover even
// double-speed CGB frames with plenty of margin.
const maxStepsPerFrame = 400_000

// Machine is a complete Game Boy / Game Boy Color machine: CPU, Bus (which
// in turn owns cartridge, PPU, and APU), and the glue for running frames,
// pulling audio, and snapshotting state.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	romPath  string
	romBytes []byte
	header   *cart.Header
	bootROM  []byte

	fb []byte // RGBA 160x144*4

	useCGBBG        bool // user opted into CGB BG coloring for a DMG cartridge
	compatPaletteID int

	// rewind holds gob-encoded snapshots taken every other frame, sized for
	// cfg.RewindSeconds worth of history at ~59.7 Hz (spec.md §6).
	rewind   [][]byte
	frameNum int
}

// New creates a Machine with no cartridge loaded.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, fb: make([]byte, 160*144*4)}
}

// SetBootROM stages a boot ROM image to be used by subsequent LoadCartridge
// or ResetWithBoot calls.
func (m *Machine) SetBootROM(data []byte) {
	m.bootROM = append([]byte(nil), data...)
}

// LoadCartridge wires a fresh Bus+CPU around rom, optionally running from the
// supplied boot ROM instead of jumping straight to post-boot state.
func (m *Machine) LoadCartridge(rom, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	b, err := bus.NewWithSampleRate(rom, m.cfg.SampleRate)
	if err != nil {
		return err
	}
	if m.cfg.ForceDMG {
		b.SetCGBMode(false)
	}
	m.bus = b
	m.header = h
	m.romBytes = append([]byte(nil), rom...)
	if len(boot) >= 0x100 {
		m.bootROM = boot
	}
	m.rewind = nil
	m.frameNum = 0

	m.bus.PPU().SetScanlineSink(m.captureScanline)
	m.applyCompatPalette()

	m.cpu = cpu.New(m.bus)
	if len(m.bootROM) >= 0x100 {
		m.bus.SetBootROM(m.bootROM)
		m.cpu.SetPC(0x0000)
	} else {
		cgbMode := h.IsColor() && !m.cfg.ForceDMG
		m.resetPostBootRegisters(cgbMode)
	}
	return nil
}

// ROMChecksum returns the CRC32 of the currently loaded ROM image, or 0 if
// none is loaded.
func (m *Machine) ROMChecksum() uint32 {
	if m.romBytes == nil {
		return 0
	}
	return crc32.ChecksumIEEE(m.romBytes)
}

// LoadROMFromFile reads path and loads it as the current cartridge, using
// any previously staged boot ROM.
func (m *Machine) LoadROMFromFile(path string) error {
	rom, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("emu: read rom: %w", err)
	}
	if err := m.LoadCartridge(rom, m.bootROM); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the path LoadROMFromFile was last called with, if any.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge's header title, or "" if none is loaded.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// LoadBattery restores battery-backed external RAM into the current
// cartridge. Returns false if no cartridge is loaded.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	m.bus.Cart().LoadRAM(data)
	return true
}

// SaveBattery returns the current cartridge's battery-backed RAM, or
// (nil, false) if there is none to save.
func (m *Machine) SaveBattery() ([]byte, bool) {
	if m.bus == nil {
		return nil, false
	}
	d := m.bus.Cart().SaveRAM()
	if d == nil {
		return nil, false
	}
	return d, true
}

// SetSerialWriter routes the serial port's output (used by test ROMs to
// report pass/fail) to w.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// SetButtons updates which joypad buttons are currently held.
func (m *Machine) SetButtons(b Buttons) {
	if m.bus != nil {
		m.bus.SetJoypadState(b.mask())
	}
}

// captureScanline is registered as the PPU's ScanlineSink and copies each
// completed scanline into the RGBA framebuffer as it's produced.
func (m *Machine) captureScanline(ly byte, pixels [160][4]byte) {
	if int(ly) >= 144 {
		return
	}
	row := int(ly) * 160 * 4
	for x := 0; x < 160; x++ {
		copy(m.fb[row+x*4:row+x*4+4], pixels[x][:])
	}
}

// Framebuffer returns the current 160x144 RGBA8888 frame.
func (m *Machine) Framebuffer() []byte { return m.fb }

// stepUntilFrame runs CPU steps (ticking the bus each time) until LY wraps
// from VBlank back down to 0, i.e. one full frame has been produced, or
// maxStepsPerFrame is hit (LCD disabled).
func (m *Machine) stepUntilFrame() {
	if m.bus == nil || m.cpu == nil {
		return
	}
	sawVBlank := false
	for i := 0; i < maxStepsPerFrame; i++ {
		if m.cfg.Trace {
			c := m.cpu
			fmt.Fprintf(os.Stderr, "PC=%04X op=%02X A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X\n",
				c.PC, m.bus.Read(c.PC), c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L, c.SP)
		}
		m.cpu.Step() // ticks the bus internally (cpu.go's Step defer)
		ly := m.bus.PPU().LY()
		if ly >= 144 {
			sawVBlank = true
		} else if sawVBlank && ly == 0 {
			break
		}
	}
	m.frameNum++
	m.captureRewindPoint()
}

// StepFrame runs the machine for one frame, updating Framebuffer().
func (m *Machine) StepFrame() { m.stepUntilFrame() }

// StepFrameNoRender runs the machine for one frame without caring about the
// framebuffer's visual content; used by headless/test-ROM runners that only
// look at serial output.
func (m *Machine) StepFrameNoRender() { m.stepUntilFrame() }

// --- Rewind ------------------------------------------------------------------

// captureRewindPoint appends a snapshot onto the rewind history every other
// frame, sized for cfg.RewindSeconds of history at ~59.7 Hz (spec.md §6);
// the oldest entry is dropped once that budget is exceeded.
func (m *Machine) captureRewindPoint() {
	if m.cfg.RewindSeconds <= 0 || m.frameNum%2 != 0 {
		return
	}
	budget := m.cfg.RewindSeconds * 30 // one snapshot per 2 frames, ~60Hz
	snap, err := m.encodeState()
	if err != nil {
		return
	}
	m.rewind = append(m.rewind, snap)
	if len(m.rewind) > budget {
		m.rewind = m.rewind[len(m.rewind)-budget:]
	}
}

// CanRewind reports whether any rewind history is available.
func (m *Machine) CanRewind() bool { return len(m.rewind) > 0 }

// Rewind restores the most recent rewind snapshot and discards it, moving
// the machine one step back in time. Returns false if no history remains.
func (m *Machine) Rewind() bool {
	if len(m.rewind) == 0 {
		return false
	}
	last := len(m.rewind) - 1
	snap := m.rewind[last]
	m.rewind = m.rewind[:last]
	return m.decodeState(snap) == nil
}

// --- Audio -----------------------------------------------------------------

// APUBufferedStereo returns the number of buffered stereo sample frames
// ready to be pulled.
func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

// APUPullStereo removes and returns up to n interleaved [L,R,L,R,...] stereo
// sample frames.
func (m *Machine) APUPullStereo(n int) []int16 {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().PullStereo(n)
}

// APUClearAudioLatency drops all currently-buffered audio, used when the
// consumer falls behind and wants to resync instead of playing a backlog.
func (m *Machine) APUClearAudioLatency() {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	a.PullStereo(a.StereoAvailable())
}

// APUCapBufferedStereo drops buffered frames beyond n, keeping the newest.
func (m *Machine) APUCapBufferedStereo(n int) {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	if excess := a.StereoAvailable() - n; excess > 0 {
		a.PullStereo(excess)
	}
}

// --- Reset / post-boot state -------------------------------------------------

// resetPostBootRegisters applies the documented post-boot-ROM register and
// IO defaults (spec.md §7). cgbRegs selects the CGB-hardware A/F convention
// (A=0x11) that games probe to detect GBC hardware, independent of whether
// the bus itself runs in CGB addressing mode (which is set once at
// cartridge-load time and never toggled by a reset — see
// [[applyCompatPalette]] for why DMG compat coloring must NOT flip it).
func (m *Machine) resetPostBootRegisters(cgbRegs bool) {
	m.cpu.ResetNoBoot()
	if cgbRegs {
		m.cpu.A, m.cpu.F = 0x11, 0x80
	}
	m.cpu.SetPC(0x0100)

	m.bus.Write(0xFF00, 0xCF)
	m.bus.Write(0xFF05, 0x00)
	m.bus.Write(0xFF06, 0x00)
	m.bus.Write(0xFF07, 0x00)
	m.bus.Write(0xFF40, 0x91)
	m.bus.Write(0xFF42, 0x00)
	m.bus.Write(0xFF43, 0x00)
	m.bus.Write(0xFF45, 0x00)
	m.bus.Write(0xFF47, 0xFC)
	m.bus.Write(0xFF48, 0xFF)
	m.bus.Write(0xFF49, 0xFF)
	m.bus.Write(0xFF4A, 0x00)
	m.bus.Write(0xFF4B, 0x00)
	m.bus.Write(0xFFFF, 0x00)
}

// ResetPostBoot restarts the currently-loaded cartridge straight into DMG
// post-boot-ROM state (skipping the boot animation), preserving cartridge
// RAM.
func (m *Machine) ResetPostBoot() {
	if m.bus == nil {
		return
	}
	m.resetPostBootRegisters(false)
}

// ResetWithBoot restarts the currently-loaded cartridge from 0x0000, running
// the staged boot ROM if one was set.
func (m *Machine) ResetWithBoot() {
	if m.bus == nil {
		return
	}
	if len(m.bootROM) >= 0x100 {
		m.bus.SetBootROM(m.bootROM)
		m.cpu.ResetNoBoot()
		m.cpu.SetPC(0x0000)
		m.cpu.SP = 0xFFFE
		m.cpu.IME = false
		return
	}
	m.resetPostBootRegisters(m.header != nil && m.header.IsColor())
}

// ResetCGBPostBoot restarts post-boot with CGB register defaults, optionally
// forcing CGB BG coloring for a DMG-only cartridge.
func (m *Machine) ResetCGBPostBoot(useCGBBG bool) {
	if m.bus == nil {
		return
	}
	m.useCGBBG = useCGBBG
	m.applyCompatPalette()
	m.resetPostBootRegisters(true)
}

// --- CGB color-compatibility mode --------------------------------------------

// WantCGBColors reports whether CGB palette rendering should be active: the
// cartridge is natively CGB, or the user opted a DMG cartridge into CGB BG
// coloring.
func (m *Machine) WantCGBColors() bool {
	if m.header != nil && m.header.IsColor() && !m.cfg.ForceDMG {
		return true
	}
	return m.useCGBBG
}

// UseCGBBG reports whether CGB BG coloring was requested for a DMG
// cartridge.
func (m *Machine) UseCGBBG() bool { return m.useCGBBG }

// SetUseCGBBG toggles CGB BG coloring for a DMG cartridge.
func (m *Machine) SetUseCGBBG(v bool) {
	m.useCGBBG = v
	m.applyCompatPalette()
}

// SetUseFetcherBG records the UseFetcherBG setting. Rendering does not depend
// on it: the PPU's DMG BG/window path always uses the fetcher-based helpers.
func (m *Machine) SetUseFetcherBG(v bool) { m.cfg.UseFetcherBG = v }

// IsCGBCompat reports whether the loaded cartridge is DMG-only (so compat
// palette selection applies) rather than natively CGB.
func (m *Machine) IsCGBCompat() bool {
	return m.header != nil && !m.header.IsColor()
}

// CompatPaletteName returns the display name of compat palette id, or "" if
// out of range.
func (m *Machine) CompatPaletteName(id int) string {
	if id < 0 || id >= len(cgbCompatSetNames) {
		return ""
	}
	return cgbCompatSetNames[id]
}

// CurrentCompatPalette returns the active compat palette id.
func (m *Machine) CurrentCompatPalette() int { return m.compatPaletteID }

// SetCompatPalette selects a compat palette by id (clamped into range).
func (m *Machine) SetCompatPalette(id int) {
	if len(cgbCompatSets) == 0 {
		return
	}
	if id < 0 {
		id = 0
	}
	if id >= len(cgbCompatSets) {
		id = len(cgbCompatSets) - 1
	}
	m.compatPaletteID = id
	m.applyCompatPalette()
}

// CycleCompatPalette advances the compat palette id by delta, wrapping.
func (m *Machine) CycleCompatPalette(delta int) {
	if len(cgbCompatSets) == 0 {
		return
	}
	n := len(cgbCompatSets)
	id := ((m.compatPaletteID+delta)%n + n) % n
	m.compatPaletteID = id
	m.applyCompatPalette()
}

// applyCompatPalette pushes the selected compat palette (or the auto pick
// from the header, if any) down into the PPU, only when it's actually
// meaningful: a DMG-only cartridge with CGB BG coloring enabled.
func (m *Machine) applyCompatPalette() {
	if m.bus == nil {
		return
	}
	if !m.IsCGBCompat() || !m.useCGBBG {
		m.bus.PPU().SetCompatPalette(nil)
		return
	}
	id := m.compatPaletteID
	if auto, ok := autoCompatPaletteFromHeader(m.header); ok {
		id = auto
	}
	if id < 0 || id >= len(cgbCompatSets) {
		m.bus.PPU().SetCompatPalette(nil)
		return
	}
	m.compatPaletteID = id
	pal := cgbCompatSets[id]
	m.bus.PPU().SetCompatPalette(&pal)
}

// cgbCompatSetNames and cgbCompatSets are the curated DMG-compatibility
// color palettes selectable via SetCompatPalette/CycleCompatPalette, or
// auto-picked per-title by autoCompatPaletteFromHeader (compat_tables.go).
// Each entry holds 4 shades (lightest to darkest), applied uniformly to BG
// and OBJ layers via PPU.SetCompatPalette.
var cgbCompatSetNames = []string{"Green", "Sepia", "Blue", "Red", "Pastel", "Grayscale"}

var cgbCompatSets = [][4][4]byte{
	{{0xE0, 0xF8, 0xD0, 0xFF}, {0x88, 0xC0, 0x70, 0xFF}, {0x34, 0x68, 0x56, 0xFF}, {0x08, 0x18, 0x20, 0xFF}}, // Green
	{{0xFF, 0xF6, 0xD3, 0xFF}, {0xE8, 0xB7, 0x8D, 0xFF}, {0xA8, 0x6F, 0x4D, 0xFF}, {0x4F, 0x2C, 0x1B, 0xFF}}, // Sepia
	{{0xDF, 0xF0, 0xFF, 0xFF}, {0x8C, 0xB8, 0xE8, 0xFF}, {0x40, 0x60, 0xA8, 0xFF}, {0x10, 0x18, 0x40, 0xFF}}, // Blue
	{{0xFF, 0xE8, 0xE0, 0xFF}, {0xE8, 0x90, 0x78, 0xFF}, {0xA8, 0x40, 0x30, 0xFF}, {0x40, 0x10, 0x10, 0xFF}}, // Red
	{{0xFF, 0xF0, 0xFF, 0xFF}, {0xE0, 0xB0, 0xE0, 0xFF}, {0xA0, 0x70, 0xC0, 0xFF}, {0x40, 0x20, 0x60, 0xFF}}, // Pastel
	{{0xFF, 0xFF, 0xFF, 0xFF}, {0xAA, 0xAA, 0xAA, 0xFF}, {0x55, 0x55, 0x55, 0xFF}, {0x00, 0x00, 0x00, 0xFF}}, // Grayscale
}

// --- Save states --------------------------------------------------------------

type machineState struct {
	BusState []byte
	A, F     byte
	B, C     byte
	D, E     byte
	H, L     byte
	SP, PC   uint16
	IME      bool
}

// encodeState gob-encodes the full CPU+Bus (cascading into PPU/APU/cart)
// snapshot, shared by SaveStateToFile and the rewind ring.
func (m *Machine) encodeState() ([]byte, error) {
	if m.bus == nil || m.cpu == nil {
		return nil, fmt.Errorf("emu: no cartridge loaded")
	}
	s := machineState{
		BusState: m.bus.SaveState(),
		A:        m.cpu.A, F: m.cpu.F,
		B: m.cpu.B, C: m.cpu.C,
		D: m.cpu.D, E: m.cpu.E,
		H: m.cpu.H, L: m.cpu.L,
		SP: m.cpu.SP, PC: m.cpu.PC,
		IME: m.cpu.IME,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("emu: encode state: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeState restores a snapshot produced by encodeState.
func (m *Machine) decodeState(data []byte) error {
	if m.bus == nil || m.cpu == nil {
		return fmt.Errorf("emu: no cartridge loaded")
	}
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("emu: decode state: %w", err)
	}
	m.bus.LoadState(s.BusState)
	m.cpu.A, m.cpu.F = s.A, s.F
	m.cpu.B, m.cpu.C = s.B, s.C
	m.cpu.D, m.cpu.E = s.D, s.E
	m.cpu.H, m.cpu.L = s.H, s.L
	m.cpu.SP, m.cpu.PC = s.SP, s.PC
	m.cpu.IME = s.IME
	return nil
}

// SaveStateToFile snapshots CPU+Bus state (which cascades into PPU/APU/cart)
// and writes it to path.
func (m *Machine) SaveStateToFile(path string) error {
	data, err := m.encodeState()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadStateFromFile restores a snapshot written by SaveStateToFile.
func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("emu: read state: %w", err)
	}
	return m.decodeState(data)
}
