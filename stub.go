package main

import (
	"github.com/lukeenterprise/ktf/kernel/boot"
	"github.com/lukeenterprise/ktf/kernel/kmain"
)

// multibootInfoPtr is written by the rt0 code before main runs.
var multibootInfoPtr uintptr

// main is invoked by the rt0 assembly code once long mode is enabled and a
// minimal g0 has been set up on the boot stack. It hands the multiboot
// payload to the bring-up sequencer which never returns.
//
// Referencing kmain.Kmain here also keeps the compiler from discarding the
// kernel code, as it is not aware of the rt0 code.
func main() {
	boot.Start(multibootInfoPtr, kmain.Kmain)
}
