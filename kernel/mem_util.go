package kernel

import "unsafe"

// Memset sets size bytes at the given address to value. After writing the
// first byte the filled prefix is doubled with copy, so a page is cleared
// with log2(PageSize) copy calls.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	target[0] = value
	for filled := uintptr(1); filled < size; filled *= 2 {
		copy(target[filled:], target[:filled])
	}
}
