package bus

import "testing"

func TestPlicClaim(t *testing.T) {
	p := NewPlic()

	p.Claim(UartIRQ)

	got, err := p.Load(plicSClaim, 32)
	if err != nil {
		t.Fatal(err)
	}

	if got != UartIRQ {
		t.Errorf("sclaim = %d, want %d", got, UartIRQ)
	}
}

func TestPlicEnableRegister(t *testing.T) {
	p := NewPlic()

	if err := p.Store(plicSEnable, 32, 1<<UartIRQ); err != nil {
		t.Fatal(err)
	}

	got, err := p.Load(plicSEnable, 32)
	if err != nil {
		t.Fatal(err)
	}

	if got != 1<<UartIRQ {
		t.Errorf("senable = %#x, want %#x", got, 1<<UartIRQ)
	}
}
