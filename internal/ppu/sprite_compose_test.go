package ppu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// writeTile writes an 8x8 1bpp-per-plane tile (lo/hi planes) at the given
// VRAM bank/address so every row reads the same two bytes.
func writeTile(p *PPU, bank int, addr uint16, lo, hi byte) {
	for row := 0; row < 8; row++ {
		p.vram[bank][addr-0x8000+uint16(row)*2] = lo
		p.vram[bank][addr-0x8000+uint16(row)*2+1] = hi
	}
}

func newDMGPPUWithBGAndOBJEnabled(t *testing.T) *PPU {
	t.Helper()
	p := New(func(int) {})
	p.lcdc = 0x13 // LCD/BG/OBJ implied elsewhere; BG enable|OBJ enable|tile data @ 0x8000
	p.bgp = 0xE4
	p.obp0 = 0xE4
	p.obp1 = 0x39
	// BG tilemap (0x9800) defaults to tile 0 for every entry; make tile 0
	// produce color index 3 everywhere so it's visually distinct.
	writeTile(p, 0, 0x8000, 0xFF, 0xFF)
	return p
}

func TestSpritePriorityBehindBG(t *testing.T) {
	p := newDMGPPUWithBGAndOBJEnabled(t)
	// sprite tile 1 at 0x8010 opaque (ci=1) at every column
	writeTile(p, 0, 0x8010, 0xFF, 0x00)

	const spriteX = 20
	p.oam[0], p.oam[1], p.oam[2], p.oam[3] = 16, spriteX, 1, 0x00 // in front of BG
	out := p.RenderScanline(0)
	sx := spriteX - 8
	require.Equal(t, dmgShades[1], out[sx], "sprite in front of BG should be visible")

	p.oam[3] = 0x80 // behind BG
	out = p.RenderScanline(0)
	require.Equal(t, dmgShades[3], out[sx], "sprite behind a non-zero BG pixel must be hidden")
}

func TestSpriteTransparentPixelShowsBG(t *testing.T) {
	p := newDMGPPUWithBGAndOBJEnabled(t)
	// sprite tile 2: transparent everywhere (ci=0)
	writeTile(p, 0, 0x8020, 0x00, 0x00)
	const spriteX = 30
	p.oam[0], p.oam[1], p.oam[2], p.oam[3] = 16, spriteX, 2, 0x00
	out := p.RenderScanline(0)
	require.Equal(t, dmgShades[3], out[spriteX-8], "fully transparent sprite must let BG show through")
}

func TestSpritePriorityTieBreakByOAMIndex(t *testing.T) {
	p := newDMGPPUWithBGAndOBJEnabled(t)
	writeTile(p, 0, 0x8010, 0xFF, 0x00) // ci=1, OBP0 -> shade1
	writeTile(p, 0, 0x8020, 0xFF, 0xFF) // ci=3, OBP1 (attr bit4) -> distinct shade

	const sharedX = 50
	// Sprite at OAM index 5: higher index, lower priority.
	base5 := 5 * 4
	p.oam[base5+0], p.oam[base5+1], p.oam[base5+2], p.oam[base5+3] = 16, sharedX, 1, 0x00
	// Sprite at OAM index 2: lower index, higher priority, uses OBP1.
	base2 := 2 * 4
	p.oam[base2+0], p.oam[base2+1], p.oam[base2+2], p.oam[base2+3] = 16, sharedX, 2, 0x10

	out := p.RenderScanline(0)
	obp1Shade := dmgPaletteShade(p.obp1, 3)
	require.Equal(t, dmgShades[obp1Shade], out[sharedX-8], "equal-X sprites must be won by the lower OAM index")
}
