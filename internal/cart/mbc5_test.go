package cart

import "testing"

func TestMBC5_Bank0Reachable(t *testing.T) {
	rom := make([]byte, 1024*1024)
	for bank := 0; bank < 8; bank++ {
		rom[bank*0x4000] = byte(0xA0 + bank)
	}
	m := NewMBC5(rom, 0)

	// Switchable window defaults to bank 1.
	if got := m.Read(0x4000); got != 0xA1 {
		t.Fatalf("default bank read got %02X want A1", got)
	}

	// Selecting bank 0 must NOT remap to bank 1 (unlike MBC1/MBC3).
	m.Write(0x2000, 0x00)
	if got := m.Read(0x4000); got != 0xA0 {
		t.Fatalf("bank0 read got %02X want A0 (bank 0 must be reachable)", got)
	}
}

func TestMBC5_RAMBanking(t *testing.T) {
	rom := make([]byte, 64*1024)
	m := NewMBC5(rom, 128*1024)
	m.Write(0x0000, 0x0A) // enable RAM
	m.Write(0x4000, 0x03) // RAM bank 3
	m.Write(0xA000, 0x42)
	if got := m.Read(0xA000); got != 0x42 {
		t.Fatalf("RAM bank3 RW failed: got %02X", got)
	}
}
