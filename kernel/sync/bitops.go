package sync

import (
	"sync/atomic"
	"unsafe"
)

// The bit operations below address memory as a bit string that starts at
// addr: bit n is bit n%8 of the byte at addr+n/8, so n may be larger than
// 7. Each read-modify-write is carried out by a locked compare-and-swap on
// the naturally aligned 32-bit word that contains the target byte. An aligned
// word never straddles a page, so the operation touches only memory that the
// target byte's page already maps. The word is shared with up to three
// neighbouring bytes but their contents are written back unchanged.
//
// All three read-modify-write operations are sequentially consistent: no
// load or store is reordered across them by the compiler or the processor.

// bitWord returns the aligned word holding the requested bit and the mask that
// selects the bit inside that word. The computation assumes a little-endian
// byte order, which holds for every supported target.
//
// The word may start up to three bytes before addr and so outside the
// caller's object. The kernel maps whole pages so the access is always valid,
// but hosted callers running with checkptr (-race) must pass addresses inside
// an allocation whose base is 4-byte aligned.
func bitWord(bit uint, addr unsafe.Pointer) (*uint32, uint32) {
	byteOffset := uintptr(bit >> 3)
	misalignment := (uintptr(addr) + byteOffset) & 3
	word := (*uint32)(unsafe.Add(addr, int(byteOffset)-int(misalignment)))
	return word, uint32(1) << (misalignment<<3 + uintptr(bit&7))
}

// TestBit reports whether the requested bit is set. The read itself is atomic
// but TestBit does not order any other memory access.
func TestBit(bit uint, addr unsafe.Pointer) bool {
	word, mask := bitWord(bit, addr)
	return atomic.LoadUint32(word)&mask != 0
}

// TestAndSetBit atomically sets the requested bit and returns its previous value.
func TestAndSetBit(bit uint, addr unsafe.Pointer) bool {
	return updateBit(bit, addr, func(old, mask uint32) uint32 { return old | mask })
}

// TestAndClearBit atomically clears the requested bit and returns its previous
// value.
func TestAndClearBit(bit uint, addr unsafe.Pointer) bool {
	return updateBit(bit, addr, func(old, mask uint32) uint32 { return old &^ mask })
}

// TestAndComplementBit atomically flips the requested bit and returns its
// previous value.
func TestAndComplementBit(bit uint, addr unsafe.Pointer) bool {
	return updateBit(bit, addr, func(old, mask uint32) uint32 { return old ^ mask })
}

// updateBit retries the CAS until no other writer touched the word between
// the load and the swap. The swap is issued even when the bit already has
// its target value so every call acts as a full barrier.
func updateBit(bit uint, addr unsafe.Pointer, apply func(old, mask uint32) uint32) bool {
	word, mask := bitWord(bit, addr)
	for {
		old := atomic.LoadUint32(word)
		if atomic.CompareAndSwapUint32(word, old, apply(old, mask)) {
			return old&mask != 0
		}
	}
}
