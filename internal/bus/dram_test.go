package bus

import "testing"

func TestDramLoadStore(t *testing.T) {
	d := NewDram()

	if err := d.Store(DRAMBase, 64, 0x0102030405060708); err != nil {
		t.Fatal(err)
	}

	got, err := d.Load(DRAMBase, 64)
	if err != nil {
		t.Fatal(err)
	}

	if want := uint64(0x0102030405060708); got != want {
		t.Errorf("Load() = %#x, want %#x", got, want)
	}

	// Little-endian: the low byte lands at the lowest address.
	if got, err := d.Load(DRAMBase, 8); err != nil || got != 0x08 {
		t.Errorf("Load(byte 0) = %#x, %v, want 0x08", got, err)
	}
}

func TestDramSizes(t *testing.T) {
	d := NewDram()

	for _, size := range []uint8{8, 16, 32, 64} {
		if err := d.Store(DRAMBase+8, size, 0xffffffffffffffff); err != nil {
			t.Errorf("Store size %d: %v", size, err)
		}

		if _, err := d.Load(DRAMBase+8, size); err != nil {
			t.Errorf("Load size %d: %v", size, err)
		}
	}
}
