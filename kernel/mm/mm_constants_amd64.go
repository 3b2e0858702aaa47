package mm

const (
	// PointerShift is log2 of the pointer size in bytes.
	PointerShift = uintptr(3)

	// PageShift is log2(PageSize). Shifting an address right by PageShift
	// yields its page or frame number.
	PageShift = uintptr(12)

	// PageSize is the size of the smallest page the MMU can map.
	PageSize = uintptr(1 << PageShift)

	// MaxPhysAddrBits is the architectural limit for physical addresses
	// that a page table entry can encode.
	MaxPhysAddrBits = 52
)
