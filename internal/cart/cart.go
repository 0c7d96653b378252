package cart

import "fmt"

// Cartridge defines the minimal interface the Bus needs for ROM/RAM banking.
// Implementations can be ROM-only or MBC variants. Addresses are CPU addresses.
type Cartridge interface {
	// Read returns a byte for ROM (0x0000–0x7FFF) and external RAM (0xA000–0xBFFF).
	Read(addr uint16) byte
	// Write handles MBC control writes (0x0000–0x7FFF) and external RAM writes (0xA000–0xBFFF).
	Write(addr uint16, value byte)
	// SaveState/LoadState serialize internal banking registers and external RAM for save states.
	SaveState() []byte
	LoadState(data []byte)
	// SaveRAM/LoadRAM expose external (battery-backed) RAM as an opaque blob.
	// Cartridges without external RAM return nil from SaveRAM and ignore LoadRAM.
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// NewCartridge picks an implementation based on the ROM header. It is the
// sole construction-time validation point for cartridges (spec.md §7):
// unsupported MBC types and RAM-size codes are fatal and reported as an
// error rather than silently substituted.
func NewCartridge(rom []byte) (Cartridge, error) {
	h, err := ParseHeader(rom)
	if err != nil {
		return nil, fmt.Errorf("cart: parse header: %w", err)
	}
	if !ramSizeSupported(h.RAMSizeCode) {
		return nil, fmt.Errorf("cart: unsupported RAM size code %#02x", h.RAMSizeCode)
	}
	switch h.CartType {
	case 0x00: // ROM only
		return NewROMOnly(rom, h.RAMSizeBytes), nil
	case 0x01, 0x02, 0x03: // MBC1 variants (RAM, RAM+battery are transparent here)
		return NewMBC1(rom, h.RAMSizeBytes), nil
	case 0x0F, 0x10, 0x11, 0x12, 0x13: // MBC3 variants (RTC advances with wall-clock time)
		return NewMBC3(rom, h.RAMSizeBytes), nil
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E: // MBC5 variants
		return NewMBC5(rom, h.RAMSizeBytes), nil
	default:
		return nil, fmt.Errorf("cart: unsupported MBC type %#02x (%s)", h.CartType, cartTypeString(h.CartType))
	}
}
