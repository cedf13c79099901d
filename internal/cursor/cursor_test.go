package cursor

import "testing"

func TestArgbToRGBA(t *testing.T) {
	// 0xAARRGGBB: alpha=0x11, red=0x22, green=0x33, blue=0x44.
	pixels := []uint32{0x11223344}
	got := argbToRGBA(pixels)
	want := []byte{0x22, 0x33, 0x44, 0x11}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestArgbToRGBAMultiplePixels(t *testing.T) {
	pixels := []uint32{0xFF000000, 0x00FF0000}
	got := argbToRGBA(pixels)
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}
	// First pixel: opaque black.
	if got[0] != 0 || got[1] != 0 || got[2] != 0 || got[3] != 0xFF {
		t.Fatalf("pixel0 = %v, want opaque black", got[:4])
	}
	// Second pixel: fully transparent red.
	if got[4] != 0xFF || got[5] != 0 || got[6] != 0 || got[7] != 0 {
		t.Fatalf("pixel1 = %v, want transparent red", got[4:8])
	}
}

func TestNewNilUpdaterRunIsNoop(t *testing.T) {
	var u *Updater
	// Must not panic: Run on a nil *Updater is a documented no-op so a
	// failed New still lets the caller launch the updater unconditionally.
	u.Run()
	u.Close()
}
