package cart

import (
	"bytes"
	"encoding/gob"
	"time"
)

// nowUnix is the wall-clock source for RTC advancement; overridden in tests.
var nowUnix = func() int64 { return time.Now().Unix() }

// MBC3 implements ROM banking (7 bits, banks 1..127), RAM banking (0..3),
// and the real-time-clock register file exposed through the same
// bank-select window (spec.md §4.4). The clock advances against wall time
// rather than emulated cycles, matching how save files from real hardware
// keep ticking while the game isn't running.
//
//   - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
//   - 2000-3FFF: ROM bank low 7 bits (0 maps to 1)
//   - 4000-5FFF: RAM bank (0-3) selects RAM; 08-0C selects an RTC register
//   - 6000-7FFF: latch clock data on a 0x00 -> 0x01 write sequence
//   - A000-BFFF: external RAM, or the latched RTC register, per the select
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	bankSelect byte // raw 4000-5FFF value: 0..3 selects RAM, 08..0C selects RTC

	// Live clock counters.
	rtcSec, rtcMin, rtcHour byte
	rtcDay                  uint16 // 9 bits
	rtcHalt, rtcCarry       bool
	lastRTCWallSec          int64

	// Snapshot taken on the 0x00->0x01 latch edge; what 0x08-0x0C read from.
	latchSec, latchMin, latchHour byte
	latchDay                      uint16
	latchHalt, latchCarry         bool
	latchPrev                     byte
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	m.lastRTCWallSec = nowUnix()
	return m
}

// rtcMapped reports whether the current bank select addresses an RTC
// register rather than an external-RAM bank.
func (m *MBC3) rtcMapped() bool {
	return m.bankSelect >= 0x08 && m.bankSelect <= 0x0C
}

// updateRTC advances the live counters by the wall-clock time elapsed since
// the last call. Halted clocks just resynchronize lastRTCWallSec.
func (m *MBC3) updateRTC() {
	now := nowUnix()
	if m.rtcHalt {
		m.lastRTCWallSec = now
		return
	}
	elapsed := now - m.lastRTCWallSec
	if elapsed <= 0 {
		return
	}
	m.lastRTCWallSec = now

	total := int64(m.rtcSec) + elapsed
	m.rtcSec = byte(total % 60)
	carryMin := total / 60
	if carryMin == 0 {
		return
	}
	totalMin := int64(m.rtcMin) + carryMin
	m.rtcMin = byte(totalMin % 60)
	carryHour := totalMin / 60
	if carryHour == 0 {
		return
	}
	totalHour := int64(m.rtcHour) + carryHour
	m.rtcHour = byte(totalHour % 24)
	carryDay := totalHour / 24
	if carryDay == 0 {
		return
	}
	totalDay := int64(m.rtcDay) + carryDay
	if totalDay > 0x1FF {
		m.rtcCarry = true
		totalDay %= 0x200
	}
	m.rtcDay = uint16(totalDay)
}

func (m *MBC3) rtcRegisterRead(idx byte) byte {
	switch idx {
	case 0x08:
		return m.latchSec
	case 0x09:
		return m.latchMin
	case 0x0A:
		return m.latchHour
	case 0x0B:
		return byte(m.latchDay & 0xFF)
	case 0x0C:
		v := byte(m.latchDay>>8) & 0x01
		if m.latchHalt {
			v |= 0x40
		}
		if m.latchCarry {
			v |= 0x80
		}
		return v
	default:
		return 0xFF
	}
}

func (m *MBC3) rtcRegisterWrite(idx, value byte) {
	switch idx {
	case 0x08:
		m.rtcSec = value % 60
	case 0x09:
		m.rtcMin = value % 60
	case 0x0A:
		m.rtcHour = value % 24
	case 0x0B:
		m.rtcDay = (m.rtcDay &^ 0xFF) | uint16(value)
	case 0x0C:
		m.rtcDay = (m.rtcDay &^ 0x100) | (uint16(value&0x01) << 8)
		m.rtcHalt = value&0x40 != 0
		m.rtcCarry = value&0x80 != 0
	}
}

func (m *MBC3) Read(addr uint16) byte {
	m.updateRTC()
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.rtcMapped() {
			return m.rtcRegisterRead(m.bankSelect)
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		rb := int(m.bankSelect & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		m.bankSelect = value
	case addr < 0x8000:
		if m.latchPrev == 0x00 && value == 0x01 {
			m.updateRTC()
			m.latchSec, m.latchMin, m.latchHour = m.rtcSec, m.rtcMin, m.rtcHour
			m.latchDay, m.latchHalt, m.latchCarry = m.rtcDay, m.rtcHalt, m.rtcCarry
		}
		m.latchPrev = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.rtcMapped() {
			m.rtcRegisterWrite(m.bankSelect, value)
			return
		}
		if len(m.ram) == 0 {
			return
		}
		rb := int(m.bankSelect & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

type mbc3State struct {
	RAM                            []byte
	RamEnabled                     bool
	RomBank                        byte
	BankSelect                     byte
	RtcSec, RtcMin, RtcHour        byte
	RtcDay                         uint16
	RtcHalt, RtcCarry              bool
	LastRTCWallSec                 int64
	LatchSec, LatchMin, LatchHour  byte
	LatchDay                       uint16
	LatchHalt, LatchCarry          bool
	LatchPrev                      byte
}

func (m *MBC3) snapshot() mbc3State {
	return mbc3State{
		RAM: m.ram, RamEnabled: m.ramEnabled, RomBank: m.romBank, BankSelect: m.bankSelect,
		RtcSec: m.rtcSec, RtcMin: m.rtcMin, RtcHour: m.rtcHour, RtcDay: m.rtcDay,
		RtcHalt: m.rtcHalt, RtcCarry: m.rtcCarry, LastRTCWallSec: m.lastRTCWallSec,
		LatchSec: m.latchSec, LatchMin: m.latchMin, LatchHour: m.latchHour, LatchDay: m.latchDay,
		LatchHalt: m.latchHalt, LatchCarry: m.latchCarry, LatchPrev: m.latchPrev,
	}
}

func (m *MBC3) restore(s mbc3State) {
	m.ram, m.ramEnabled, m.romBank, m.bankSelect = s.RAM, s.RamEnabled, s.RomBank, s.BankSelect
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = s.RtcSec, s.RtcMin, s.RtcHour, s.RtcDay
	m.rtcHalt, m.rtcCarry, m.lastRTCWallSec = s.RtcHalt, s.RtcCarry, s.LastRTCWallSec
	m.latchSec, m.latchMin, m.latchHour, m.latchDay = s.LatchSec, s.LatchMin, s.LatchHour, s.LatchDay
	m.latchHalt, m.latchCarry, m.latchPrev = s.LatchHalt, s.LatchCarry, s.LatchPrev
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(m.snapshot())
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.restore(s)
}

// SaveRAM/LoadRAM persist external RAM together with the RTC counters, since
// on real battery-backed MBC3 carts both survive across power cycles.
func (m *MBC3) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(m.snapshot())
	return buf.Bytes()
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(data) == 0 {
		return
	}
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	if len(s.RAM) != len(m.ram) {
		return
	}
	m.restore(s)
}
