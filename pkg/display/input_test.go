package display

import "testing"

func TestKeysymToRobotgoNameASCII(t *testing.T) {
	name, ok := keysymToRobotgoName('a')
	if !ok || name != "a" {
		t.Fatalf("got (%q, %v), want (%q, true)", name, ok, "a")
	}
}

func TestKeysymToRobotgoNameControlKeys(t *testing.T) {
	cases := map[uint32]string{
		0xff08: "backspace",
		0xff09: "tab",
		0xff0d: "enter",
		0xff1b: "esc",
		0xff51: "left",
		0xff52: "up",
		0xff53: "right",
		0xff54: "down",
		0xffff: "delete",
	}
	for keysym, want := range cases {
		got, ok := keysymToRobotgoName(keysym)
		if !ok || got != want {
			t.Fatalf("keysym 0x%x: got (%q, %v), want (%q, true)", keysym, got, ok, want)
		}
	}
}

func TestKeysymToRobotgoNameUnmapped(t *testing.T) {
	if _, ok := keysymToRobotgoName(0xffbe); ok { // F1, deliberately unmapped
		t.Fatal("expected F1 to be unmapped")
	}
}

func TestNthBitOf(t *testing.T) {
	mask := uint8(0b00000101) // bits 0 and 2 set
	if nthBitOf(mask, 0) != 1 {
		t.Fatal("bit 0 should be set")
	}
	if nthBitOf(mask, 1) != 0 {
		t.Fatal("bit 1 should be clear")
	}
	if nthBitOf(mask, 2) != 1 {
		t.Fatal("bit 2 should be set")
	}
}
