package pmm

import (
	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/kfmt"
	"github.com/lukeenterprise/ktf/kernel/mm"
	"github.com/lukeenterprise/ktf/multiboot"
)

var (
	// bootMemAllocator serves every frame allocation made during bring-up.
	bootMemAllocator BootMemAllocator

	// kernelStart and kernelEnd hold the physical extent of the loaded
	// image.
	kernelStart, kernelEnd uintptr
)

// Init reserves the physical extent of the kernel image and the multiboot
// payload and registers the boot memory allocator with mm.
func Init(imageStart, imageEnd uintptr) *kernel.Error {
	bootMemAllocator = BootMemAllocator{}
	kernelStart, kernelEnd = imageStart, imageEnd

	if err := bootMemAllocator.Reserve(imageStart, imageEnd); err != nil {
		return err
	}

	infoAddr := multiboot.InfoAddr()
	if err := bootMemAllocator.Reserve(infoAddr, infoAddr+multiboot.InfoSize()); err != nil {
		return err
	}

	mm.SetFrameAllocator(earlyAllocFrame)
	return nil
}

func earlyAllocFrame() (mm.Frame, *kernel.Error) {
	return bootMemAllocator.AllocFrame()
}

// AllocatedFrames returns the number of frames handed out since Init.
func AllocatedFrames() uint64 {
	return bootMemAllocator.AllocCount()
}

// PrintMemoryMap prints the memory map reported by the bootloader together
// with the location of the kernel image.
func PrintMemoryMap() {
	var totalFree uint64

	kfmt.Printf("[boot_mem_alloc] system memory map:\n")
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n",
			region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Kind().String())

		if region.Kind() == multiboot.MemAvailable {
			totalFree += region.Length
		}
		return true
	})
	kfmt.Printf("[boot_mem_alloc] available memory: %dKb\n", totalFree>>10)
	kfmt.Printf("[boot_mem_alloc] kernel loaded at 0x%x - 0x%x\n", kernelStart, kernelEnd)
	kfmt.Printf("[boot_mem_alloc] size: %d bytes, reserved pages: %d\n",
		uint64(kernelEnd-kernelStart),
		uint64(mm.PageAlignUp(kernelEnd)-mm.PageAlignDown(kernelStart))>>mm.PageShift,
	)
}
