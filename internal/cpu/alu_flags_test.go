package cpu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newCPUWithA(a byte) *CPU {
	c := newCPUWithROM(nil)
	c.A = a
	return c
}

func TestALU_ADD_A_B_Flags(t *testing.T) {
	cases := []struct {
		name     string
		a, b     byte
		wantA    byte
		wantZ    bool
		wantH    bool
		wantC    bool
	}{
		{"no carry, no half-carry", 0x02, 0x03, 0x05, false, false, false},
		{"half-carry only", 0x0F, 0x01, 0x10, false, true, false},
		{"full carry", 0xFF, 0x02, 0x01, false, true, true},
		{"zero result", 0x00, 0x00, 0x00, true, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCPUWithA(tc.a)
			c.B = tc.b
			res, z, n, h, cy := c.add8(c.A, c.B)
			require.Equal(t, tc.wantA, res, "result")
			require.Equal(t, tc.wantZ, z, "Z flag")
			require.False(t, n, "N flag must be clear for ADD")
			require.Equal(t, tc.wantH, h, "H flag")
			require.Equal(t, tc.wantC, cy, "C flag")
		})
	}
}

func TestALU_SUB_Flags(t *testing.T) {
	cases := []struct {
		name  string
		a, b  byte
		wantA byte
		wantZ bool
		wantH bool
		wantC bool
	}{
		{"equal operands zero result", 0x10, 0x10, 0x00, true, false, false},
		{"borrow", 0x00, 0x01, 0xFF, false, true, true},
		{"half-borrow only", 0x10, 0x01, 0x0F, false, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCPUWithA(tc.a)
			res, z, n, h, cy := c.sub8(tc.a, tc.b)
			require.Equal(t, tc.wantA, res)
			require.Equal(t, tc.wantZ, z)
			require.True(t, n, "N flag must be set for SUB")
			require.Equal(t, tc.wantH, h)
			require.Equal(t, tc.wantC, cy)
			_ = c
		})
	}
}

func TestALU_AND_OR_XOR_AlwaysClearCarryAndN(t *testing.T) {
	c := newCPUWithA(0xF0)
	_, _, n, h, cy := c.and8(0xF0, 0x0F)
	require.False(t, n)
	require.True(t, h, "AND always sets H")
	require.False(t, cy)

	_, _, n, h, cy = c.or8(0x00, 0x00)
	require.False(t, n)
	require.False(t, h)
	require.False(t, cy)

	_, _, n, h, cy = c.xor8(0xFF, 0xFF)
	require.False(t, n)
	require.False(t, h)
	require.False(t, cy)
}

func TestStep_ADD_A_B_SetsFRegisterBits(t *testing.T) {
	c := newCPUWithROM([]byte{0x80}) // ADD A,B
	c.A = 0x0F
	c.B = 0x01
	c.Step()
	require.Equal(t, byte(0x10), c.A)
	require.Equal(t, byte(0), c.F&flagZ)
	require.Equal(t, byte(0), c.F&flagN)
	require.Equal(t, flagH, c.F&flagH)
	require.Equal(t, byte(0), c.F&flagC)
}
