// Package kmain contains the long-lived kernel entrypoint.
package kmain

import (
	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/boot"
	"github.com/lukeenterprise/ktf/kernel/kfmt"
	"github.com/lukeenterprise/ktf/kernel/kstack"
)

var (
	// panicFn is used by tests to override calls to kfmt.Panic.
	panicFn = kfmt.Panic

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain receives control once bring-up has completed. It runs on the regular
// region of the kernel stack with the kernel address space active and the
// trap handlers installed.
//
// Kmain is not expected to return.
//
//go:noinline
func Kmain(h *boot.Handoff) {
	kfmt.Printf("[kmain] kernel address space root: 0x%x\n", h.KernelRoot.Address())
	kfmt.Printf("[kmain] init address space root: 0x%x\n", h.InitRoot.Address())
	kfmt.Printf("[kmain] stack: [0x%x - 0x%x), exception top: 0x%x, emergency top: 0x%x\n",
		h.Stack.Bottom(kstack.Regular), h.Stack.Top(kstack.Regular),
		h.Stack.Top(kstack.Exception), h.Stack.Top(kstack.Emergency),
	)
	if len(h.CmdLine) != 0 {
		kfmt.Printf("[kmain] command line: %s\n", h.CmdLine)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead-code and eliminating it.
	panicFn(errKmainReturned)
}
