package ppu

// Scanline rasterization. The DMG background/window path reuses the
// fetcher-based helpers in fetcher.go/scanline.go; CGB needs its own BG/window
// walk because each tile carries its own flip/bank/palette attribute byte
// (stored in VRAM bank 1 at the same map address as the tile number), which
// the plain fetcher has no way to express.

// dmgShades maps a 2-bit palette-applied shade (0=lightest,3=darkest) to RGBA.
var dmgShades = [4][4]byte{
	{0xE0, 0xF8, 0xD0, 0xFF},
	{0x88, 0xC0, 0x70, 0xFF},
	{0x34, 0x68, 0x56, 0xFF},
	{0x08, 0x18, 0x20, 0xFF},
}

// dmgPaletteShade extracts the 2-bit shade for color index ci (0-3) from a
// BGP/OBP palette byte, where each 2-bit group selects one of 4 shades.
func dmgPaletteShade(pal, ci byte) byte {
	return (pal >> (ci * 2)) & 0x03
}

// cgb555ToRGBA converts a little-endian BGR555 palette entry (two bytes) to RGBA8888.
func cgb555ToRGBA(lo, hi byte) [4]byte {
	v := uint16(lo) | uint16(hi)<<8
	r5 := byte(v & 0x1F)
	g5 := byte((v >> 5) & 0x1F)
	b5 := byte((v >> 10) & 0x1F)
	expand := func(c byte) byte { return (c << 3) | (c >> 2) }
	return [4]byte{expand(r5), expand(g5), expand(b5), 0xFF}
}

// vramBank0 adapts PPU.vram[0] to the VRAMReader interface the fetcher needs.
// Internal rendering bypasses the CPU-facing mode-3 lockout in CPURead.
type vramBank0 struct{ p *PPU }

func (v vramBank0) Read(addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return v.p.vram[0][addr-0x8000]
}

type oamEntry struct {
	y, x, tile, attr byte
	index            int
}

// RenderScanline computes the 160 RGBA pixels for scanline ly, blending
// background, window, and sprite layers per the priority rules of DMG vs CGB
// mode.
func (p *PPU) RenderScanline(ly byte) [160][4]byte {
	var out [160][4]byte

	bgIdx, bgAttr := p.renderBGAndWindow(ly)

	for x := 0; x < 160; x++ {
		out[x] = p.bgPixelColor(bgIdx[x], bgAttr[x])
	}

	if p.lcdc&0x02 != 0 {
		p.renderSprites(ly, bgIdx, bgAttr, &out)
	}

	return out
}

// renderBGAndWindow returns, for each of the 160 columns, the raw BG/window
// color index (0-3) and (CGB only) the tile attribute byte that applied.
func (p *PPU) renderBGAndWindow(ly byte) (idx [160]byte, attr [160]byte) {
	bgMapBase := uint16(0x9800)
	if p.lcdc&0x08 != 0 {
		bgMapBase = 0x9C00
	}
	winMapBase := uint16(0x9800)
	if p.lcdc&0x40 != 0 {
		winMapBase = 0x9C00
	}
	tileData8000 := p.lcdc&0x10 != 0

	bgVisible := p.cgb || p.lcdc&0x01 != 0
	if bgVisible {
		if p.cgb {
			p.renderCGBBGLine(bgMapBase, tileData8000, p.scx, p.scy, ly, &idx, &attr)
		} else {
			px := RenderBGScanlineUsingFetcher(vramBank0{p}, bgMapBase, tileData8000, p.scx, p.scy, ly)
			idx = px
		}
	}

	windowOn := p.lcdc&0x20 != 0 && (p.cgb || p.lcdc&0x01 != 0)
	if windowOn && ly >= p.wy {
		wxStart := int(p.wx) - 7
		if wxStart < 160 {
			p.winLine++
			if p.cgb {
				p.renderCGBWindowLine(winMapBase, tileData8000, wxStart, byte(p.winLine), &idx, &attr)
			} else {
				win := RenderWindowScanlineUsingFetcher(vramBank0{p}, winMapBase, tileData8000, wxStart, byte(p.winLine))
				start := wxStart
				if start < 0 {
					start = 0
				}
				for x := start; x < 160; x++ {
					idx[x] = win[x]
				}
			}
		}
	}

	return idx, attr
}

// renderCGBBGLine walks the background tilemap directly so it can read each
// tile's attribute byte from VRAM bank 1 (palette, bank, flip bits) alongside
// its tile number from bank 0.
func (p *PPU) renderCGBBGLine(mapBase uint16, tileData8000 bool, scx, scy, ly byte, idx, attr *[160]byte) {
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31
	startX := uint16(scx)

	for x := 0; x < 160; x++ {
		bgX := (startX + uint16(x)) & 0xFF
		tileX := (bgX >> 3) & 31
		fineX := byte(bgX & 7)
		mapAddr := mapBase + mapY*32 + tileX

		tileNum := p.vram[0][mapAddr-0x8000]
		at := p.vram[1][mapAddr-0x8000]
		bank := (at >> 3) & 0x01
		yFlip := at&0x40 != 0
		xFlip := at&0x20 != 0

		row := fineY
		if yFlip {
			row = 7 - row
		}
		col := fineX
		if xFlip {
			col = 7 - col
		}

		var base uint16
		if tileData8000 {
			base = 0x8000 + uint16(tileNum)*16 + uint16(row)*2
		} else {
			base = 0x9000 + uint16(int8(tileNum))*16 + uint16(row)*2
		}
		lo := p.vram[bank][base-0x8000]
		hi := p.vram[bank][base+1-0x8000]
		bit := 7 - col
		ci := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)

		idx[x] = ci
		attr[x] = at
	}
}

func (p *PPU) renderCGBWindowLine(mapBase uint16, tileData8000 bool, wxStart int, winLine byte, idx, attr *[160]byte) {
	mapY := uint16(winLine>>3) & 31
	fineY := winLine & 7
	start := wxStart
	if start < 0 {
		start = 0
	}
	for x := start; x < 160; x++ {
		col := uint16(x - wxStart)
		tileX := (col >> 3) & 31
		fineX := byte(col & 7)
		mapAddr := mapBase + mapY*32 + tileX

		tileNum := p.vram[0][mapAddr-0x8000]
		at := p.vram[1][mapAddr-0x8000]
		bank := (at >> 3) & 0x01
		yFlip := at&0x40 != 0
		xFlip := at&0x20 != 0

		row := fineY
		if yFlip {
			row = 7 - row
		}
		c := fineX
		if xFlip {
			c = 7 - c
		}

		var base uint16
		if tileData8000 {
			base = 0x8000 + uint16(tileNum)*16 + uint16(row)*2
		} else {
			base = 0x9000 + uint16(int8(tileNum))*16 + uint16(row)*2
		}
		lo := p.vram[bank][base-0x8000]
		hi := p.vram[bank][base+1-0x8000]
		bit := 7 - c
		ci := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)

		idx[x] = ci
		attr[x] = at
	}
}

// bgPixelColor converts a raw BG/window color index plus (CGB) tile attribute
// into its final RGBA color.
func (p *PPU) bgPixelColor(ci, attr byte) [4]byte {
	if p.cgb {
		palIdx := attr & 0x07
		off := palIdx*8 + ci*2
		return cgb555ToRGBA(p.bgPal[off], p.bgPal[off+1])
	}
	shade := dmgPaletteShade(p.bgp, ci)
	return p.shadeColor(shade)
}

// shadeColor resolves a 2-bit DMG shade to RGBA, honoring a compat-mode
// palette override if one has been set via SetCompatPalette.
func (p *PPU) shadeColor(shade byte) [4]byte {
	if p.compatPalette != nil {
		return p.compatPalette[shade]
	}
	return dmgShades[shade]
}

// renderSprites composes the OBJ layer over out, honoring the 10-sprite-per-
// line cap, DMG (X-then-OAM-index) vs CGB (OAM-index-only) priority, and
// BG-over-OBJ priority bits.
func (p *PPU) renderSprites(ly byte, bgIdx, bgAttr [160]byte, out *[160][4]byte) {
	tall := p.lcdc&0x04 != 0
	height := 8
	if tall {
		height = 16
	}

	var visible []oamEntry
	for i := 0; i < 40 && len(visible) < 10; i++ {
		base := i * 4
		y := p.oam[base]
		x := p.oam[base+1]
		tile := p.oam[base+2]
		fl := p.oam[base+3]
		top := int(y) - 16
		if int(ly) < top || int(ly) >= top+height {
			continue
		}
		visible = append(visible, oamEntry{y: y, x: x, tile: tile, attr: fl, index: i})
	}

	if p.cgb {
		for i, j := 0, len(visible)-1; i < j; i, j = i+1, j-1 {
			visible[i], visible[j] = visible[j], visible[i]
		}
	} else {
		for i := 0; i < len(visible); i++ {
			for j := i + 1; j < len(visible); j++ {
				a, b := visible[i], visible[j]
				if b.x > a.x || (b.x == a.x && b.index > a.index) {
					visible[i], visible[j] = visible[j], visible[i]
				}
			}
		}
	}

	masterPriority := !p.cgb || p.lcdc&0x01 != 0

	for _, s := range visible {
		if s.x == 0 || s.x >= 168 {
			continue
		}
		top := int(s.y) - 16
		row := int(ly) - top
		if s.attr&0x40 != 0 {
			row = height - 1 - row
		}
		tile := s.tile
		if tall {
			tile &^= 0x01
			if row >= 8 {
				tile |= 0x01
				row -= 8
			}
		}

		bank := byte(0)
		var pal [4]byte
		dmgPal := p.obp0
		if !p.cgb {
			if s.attr&0x10 != 0 {
				dmgPal = p.obp1
			}
		} else {
			bank = (s.attr >> 3) & 0x01
		}

		base := 0x8000 + uint16(tile)*16 + uint16(row)*2
		lo := p.vram[bank][base-0x8000]
		hi := p.vram[bank][base+1-0x8000]

		for col := 0; col < 8; col++ {
			sx := int(s.x) - 8 + col
			if sx < 0 || sx >= 160 {
				continue
			}
			bit := col
			if s.attr&0x20 == 0 {
				bit = 7 - col
			}
			ci := ((hi>>byte(bit))&1)<<1 | ((lo >> byte(bit)) & 1)
			if ci == 0 {
				continue // transparent
			}

			bgOverObj := s.attr&0x80 != 0
			if p.cgb && masterPriority && bgAttr[sx]&0x80 != 0 && bgIdx[sx] != 0 {
				continue // BG tile attribute forces BG-over-OBJ
			}
			if bgOverObj && masterPriority && bgIdx[sx] != 0 {
				continue
			}

			if p.cgb {
				off := (s.attr&0x07)*8 + ci*2
				pal = cgb555ToRGBA(p.objPal[off], p.objPal[off+1])
			} else {
				pal = p.shadeColor(dmgPaletteShade(dmgPal, ci))
			}
			out[sx] = pal
		}
	}
}
