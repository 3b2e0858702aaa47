package mm

import (
	"testing"

	"github.com/lukeenterprise/ktf/kernel"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame %d Address() to return %x; got %x", frameIndex, exp, got)
		}
	}

	if InvalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestAddressConversions(t *testing.T) {
	specs := []struct {
		input    uintptr
		expIndex uintptr
		expDown  uintptr
		expUp    uintptr
		aligned  bool
	}{
		{0, 0, 0, 0, true},
		{1, 0, 0, 4096, false},
		{4095, 0, 0, 4096, false},
		{4096, 1, 4096, 4096, true},
		{4123, 1, 4096, 8192, false},
		{0x12050, 0x12, 0x12000, 0x13000, false},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != Frame(spec.expIndex) {
			t.Errorf("[spec %d] expected frame %d; got %d", specIndex, spec.expIndex, got)
		}

		if got := PageFromAddress(spec.input); got != Page(spec.expIndex) {
			t.Errorf("[spec %d] expected page %d; got %d", specIndex, spec.expIndex, got)
		}

		if got := PageAlignDown(spec.input); got != spec.expDown {
			t.Errorf("[spec %d] expected PageAlignDown to return 0x%x; got 0x%x", specIndex, spec.expDown, got)
		}

		if got := PageAlignUp(spec.input); got != spec.expUp {
			t.Errorf("[spec %d] expected PageAlignUp to return 0x%x; got 0x%x", specIndex, spec.expUp, got)
		}

		if got := IsPageAligned(spec.input); got != spec.aligned {
			t.Errorf("[spec %d] expected IsPageAligned to return %t; got %t", specIndex, spec.aligned, got)
		}
	}
}

func TestFrameAllocator(t *testing.T) {
	defer SetFrameAllocator(nil)

	SetFrameAllocator(nil)
	if _, err := AllocFrame(); err != errNoFrameAllocator {
		t.Fatalf("expected errNoFrameAllocator; got %v", err)
	}

	var allocCalled bool
	SetFrameAllocator(func() (Frame, *kernel.Error) {
		allocCalled = true
		return FrameFromAddress(0xbadf00), nil
	})

	frame, err := AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if !allocCalled {
		t.Fatal("expected the registered allocator to be invoked by AllocFrame")
	}

	if exp := Frame(0xbad); frame != exp {
		t.Fatalf("expected frame %d; got %d", exp, frame)
	}
}
