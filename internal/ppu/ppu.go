package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// ScanlineSink receives one fully-rendered scanline of packed RGBA pixels.
// The framework (internal/emu), not the PPU, owns the assembled framebuffer;
// the PPU only computes pixels and hands each line off as it completes.
type ScanlineSink func(ly byte, pixels [160][4]byte)

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, CGB palette RAM, and
// scanline-granularity rasterization. It exposes CPU-facing Read/Write for
// VRAM/OAM and PPU IO registers.
type PPU struct {
	cgb bool

	// memory: bank 0 always valid; bank 1 only meaningful in CGB mode, where
	// it carries BG tile attributes instead of a second tile-data copy.
	vram     [2][0x2000]byte // 0x8000–0x9FFF per bank
	vramBank byte            // FF4F bit0
	oam      [0xA0]byte      // 0xFE00–0xFE9F

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

	// CGB BG/OBJ palette RAM (8 palettes x 4 colors x 2 bytes, BGR555).
	bgPal        [64]byte
	bgPalIdx     byte
	bgPalAutoInc bool
	objPal       [64]byte
	objPalIdx    byte
	objPalAutoInc bool

	dot int // dots within current line [0..455]

	// winLine tracks the window's own internal line counter, which only
	// advances on scanlines where the window was actually drawn. -1 means
	// "not yet drawn this frame".
	winLine int

	req  InterruptRequester
	sink ScanlineSink

	// compatPalette overrides the default 4-shade DMG green palette when a
	// DMG cartridge is run in CGB-compatibility color mode (spec.md §4.6).
	compatPalette *[4][4]byte
}

// SetCompatPalette overrides the 4 DMG shade colors (nil restores the
// default green palette). Only meaningful for non-CGB cartridges.
func (p *PPU) SetCompatPalette(pal *[4][4]byte) { p.compatPalette = pal }

func New(req InterruptRequester) *PPU { return &PPU{req: req, winLine: -1} }

// SetCGBMode toggles CGB register/palette behavior (spec.md §4.6): VRAM bank
// select, BG/OBJ palette RAM, and per-tile CGB attributes all become active.
func (p *PPU) SetCGBMode(cgb bool) { p.cgb = cgb }

// SetScanlineSink registers the callback invoked once per completed scanline.
func (p *PPU) SetScanlineSink(fn ScanlineSink) { p.sink = fn }

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		// VRAM is inaccessible to CPU during mode 3 (return 0xFF)
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[p.vramBank][addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		// OAM is inaccessible during modes 2 and 3
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		// On DMG, bit7 reads as 1; bit6..3 are enables; bit2 coincidence; bit1..0 mode
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
		return 0xFE | p.vramBank
	case addr == 0xFF68:
		v := p.bgPalIdx
		if p.bgPalAutoInc {
			v |= 0x80
		}
		return v | 0x40
	case addr == 0xFF69:
		return p.bgPal[p.bgPalIdx]
	case addr == 0xFF6A:
		v := p.objPalIdx
		if p.objPalAutoInc {
			v |= 0x80
		}
		return v | 0x40
	case addr == 0xFF6B:
		return p.objPal[p.objPalIdx]
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
		p.vram[p.vramBank][addr-0x8000] = value
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
			// Turning LCD off resets LY/mode
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			// Turning LCD on: start at LY=0, mode 2 (OAM)
			p.ly = 0
			p.dot = 0
			p.winLine = -1
			p.setMode(2)
			p.updateLYC()
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
			p.vramBank = value & 0x01
		}
	case addr == 0xFF68:
		p.bgPalIdx = value & 0x3F
		p.bgPalAutoInc = value&0x80 != 0
	case addr == 0xFF69:
		p.bgPal[p.bgPalIdx] = value
		if p.bgPalAutoInc {
			p.bgPalIdx = (p.bgPalIdx + 1) & 0x3F
		}
	case addr == 0xFF6A:
		p.objPalIdx = value & 0x3F
		p.objPalAutoInc = value&0x80 != 0
	case addr == 0xFF6B:
		p.objPal[p.objPalIdx] = value
		if p.objPalAutoInc {
			p.objPalIdx = (p.objPalIdx + 1) & 0x3F
		}
	}
}

// WriteVRAMDirect bypasses the mode-3 CPU lockout; used by HDMA/GDMA transfers,
// which move bytes into VRAM regardless of what the PPU is currently drawing.
func (p *PPU) WriteVRAMDirect(addr uint16, value byte) {
	if addr < 0x8000 || addr > 0x9FFF {
		return
	}
	p.vram[p.vramBank][addr-0x8000] = value
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
		// Mode scheduling
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
		p.setMode(mode)

		if p.dot >= 456 {
			if p.ly < 144 && p.sink != nil {
				p.sink(p.ly, p.RenderScanline(p.ly))
			}
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				// Enter VBlank
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
				p.winLine = -1
			}
			p.updateLYC()
			// Set mode for new line start (dot=0)
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
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

// Mode returns the current STAT mode (0-3), for bus-level HDMA scheduling.
func (p *PPU) Mode() byte { return p.stat & 0x03 }

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

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
func (p *PPU) LY() byte   { return p.ly }

type ppuState struct {
	CGB                                       bool
	VRAM                                      [2][0x2000]byte
	VRAMBank                                  byte
	OAM                                       [0xA0]byte
	LCDC, STAT, SCY, SCX, LY, LYC             byte
	BGP, OBP0, OBP1, WY, WX                   byte
	BgPal, ObjPal                             [64]byte
	BgPalIdx, ObjPalIdx                       byte
	BgPalAutoInc, ObjPalAutoInc               bool
	Dot                                       int
	WinLine                                   int
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(ppuState{
		CGB: p.cgb, VRAM: p.vram, VRAMBank: p.vramBank, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		BgPal: p.bgPal, ObjPal: p.objPal, BgPalIdx: p.bgPalIdx, ObjPalIdx: p.objPalIdx,
		BgPalAutoInc: p.bgPalAutoInc, ObjPalAutoInc: p.objPalAutoInc, Dot: p.dot, WinLine: p.winLine,
	})
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.cgb, p.vram, p.vramBank, p.oam = s.CGB, s.VRAM, s.VRAMBank, s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.bgPal, p.objPal, p.bgPalIdx, p.objPalIdx = s.BgPal, s.ObjPal, s.BgPalIdx, s.ObjPalIdx
	p.bgPalAutoInc, p.objPalAutoInc, p.dot = s.BgPalAutoInc, s.ObjPalAutoInc, s.Dot
	p.winLine = s.WinLine
}
