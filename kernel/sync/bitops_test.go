package sync

import (
	"runtime"
	"sync"
	"testing"
	"unsafe"
)

// bitmap is backed by uint64 words so the aligned word used by the
// primitives never points outside the allocation.
type bitmap [4]uint64

func (b *bitmap) ptr() unsafe.Pointer { return unsafe.Pointer(&b[0]) }

func (b *bitmap) byteAt(index int) byte {
	return (*[32]byte)(unsafe.Pointer(&b[0]))[index]
}

func TestBitOpsReturnPriorValue(t *testing.T) {
	var bm bitmap

	if TestAndSetBit(3, bm.ptr()) {
		t.Fatal("expected TestAndSetBit(3) on a zero byte to return false")
	}

	if got := bm.byteAt(0); got != 1<<3 {
		t.Fatalf("expected byte 0 to be 0x08 after setting bit 3; got 0x%x", got)
	}

	if !TestBit(3, bm.ptr()) {
		t.Fatal("expected TestBit(3) to return true after TestAndSetBit")
	}

	if !TestAndSetBit(3, bm.ptr()) {
		t.Fatal("expected a second TestAndSetBit(3) to return true")
	}

	if !TestAndClearBit(3, bm.ptr()) {
		t.Fatal("expected TestAndClearBit(3) to return true for a set bit")
	}

	if TestBit(3, bm.ptr()) {
		t.Fatal("expected TestBit(3) to return false after TestAndClearBit")
	}

	if TestAndClearBit(3, bm.ptr()) {
		t.Fatal("expected TestAndClearBit(3) to return false for a clear bit")
	}
}

func TestTestAndComplementBit(t *testing.T) {
	for _, initial := range []bool{false, true} {
		var bm bitmap
		if initial {
			TestAndSetBit(13, bm.ptr())
		}

		if got := TestAndComplementBit(13, bm.ptr()); got != initial {
			t.Errorf("[initial %t] expected first complement to return %t; got %t", initial, initial, got)
		}

		if got := TestAndComplementBit(13, bm.ptr()); got == initial {
			t.Errorf("[initial %t] expected second complement to return %t; got %t", initial, !initial, got)
		}

		if got := TestBit(13, bm.ptr()); got != initial {
			t.Errorf("[initial %t] expected two complements to restore the bit; got %t", initial, got)
		}
	}
}

func TestBitAddressing(t *testing.T) {
	specs := []struct {
		base    int
		bit     uint
		expByte int
		expMask byte
	}{
		{0, 0, 0, 0x01},
		{0, 7, 0, 0x80},
		{0, 8, 1, 0x01},
		{0, 29, 3, 0x20},
		{0, 36, 4, 0x10},
		// unaligned base addresses; the containing word stays inside bm
		{1, 0, 1, 0x01},
		{3, 9, 4, 0x02},
		{5, 63, 12, 0x80},
	}

	for specIndex, spec := range specs {
		var bm bitmap
		base := unsafe.Add(bm.ptr(), spec.base)

		if TestAndSetBit(spec.bit, base) {
			t.Errorf("[spec %d] expected bit %d to be initially clear", specIndex, spec.bit)
		}

		for i := 0; i < len(bm)*8; i++ {
			exp := byte(0)
			if i == spec.expByte {
				exp = spec.expMask
			}

			if got := bm.byteAt(i); got != exp {
				t.Errorf("[spec %d] expected byte %d to be 0x%x; got 0x%x", specIndex, i, exp, got)
			}
		}
	}
}

func TestBitOpsLeaveNeighboursIntact(t *testing.T) {
	var bm bitmap
	bm[0] = 0xffffffffffffffff

	// Clearing one bit must not disturb the other bytes sharing its word.
	TestAndClearBit(17, bm.ptr())
	if exp := uint64(0xfffffffffffdffff); bm[0] != exp {
		t.Fatalf("expected word to be 0x%x; got 0x%x", exp, bm[0])
	}
}

func TestBitOpsConcurrentComplement(t *testing.T) {
	var (
		bm         bitmap
		wg         sync.WaitGroup
		numWorkers = 8
		flips      = 1001
	)

	// Every worker flips its own bit an odd number of times. Bits that
	// share a word race on the same CAS target; a lost update would leave
	// one of them clear.
	wg.Add(numWorkers)
	for worker := 0; worker < numWorkers; worker++ {
		go func(bit uint) {
			defer wg.Done()
			for i := 0; i < flips; i++ {
				TestAndComplementBit(bit, bm.ptr())
				if i%64 == 0 {
					runtime.Gosched()
				}
			}
		}(uint(worker * 3))
	}
	wg.Wait()

	for worker := 0; worker < numWorkers; worker++ {
		if !TestBit(uint(worker*3), bm.ptr()) {
			t.Errorf("expected bit %d to be set after an odd number of flips", worker*3)
		}
	}
}
