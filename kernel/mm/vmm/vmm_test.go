package vmm

import (
	"testing"

	"github.com/lukeenterprise/ktf/kernel/mm"
)

func TestCommit(t *testing.T) {
	defer func(origSwitch func(uintptr), origActive func() uintptr) {
		switchPDTFn, activePDTFn = origSwitch, origActive
	}(switchPDTFn, activePDTFn)

	var cr3 uintptr
	switchPDTFn = func(addr uintptr) { cr3 = addr }
	activePDTFn = func() uintptr { return cr3 }

	t.Run("invalid root", func(t *testing.T) {
		switchPDTFn = func(_ uintptr) {
			t.Fatal("unexpected call to SwitchPDT")
		}

		if err := Commit(invalidRoot); err != errInvalidRoot {
			t.Fatalf("expected errInvalidRoot; got %v", err)
		}

		if Active(invalidRoot) {
			t.Fatal("expected invalid root not to be reported as active")
		}
	})

	t.Run("valid root", func(t *testing.T) {
		switchPDTFn = func(addr uintptr) { cr3 = addr }

		root := PageTableRoot{frame: mm.Frame(0x123)}
		if Active(root) {
			t.Fatal("expected root not to be active before Commit")
		}

		if err := Commit(root); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cr3 != 0x123000 {
			t.Fatalf("expected page-table-root register to hold 0x123000; got 0x%x", cr3)
		}

		if !Active(root) {
			t.Fatal("expected root to be active after Commit")
		}
	})
}

func TestPageTableEntry(t *testing.T) {
	var pte pageTableEntry

	pte.SetFrame(mm.Frame(0xabcde))
	pte.SetFlags(FlagPresent | FlagRW | FlagNoExecute)

	if got := pte.Frame(); got != mm.Frame(0xabcde) {
		t.Errorf("expected frame 0xabcde; got 0x%x", got)
	}

	if exp := FlagPresent | FlagRW | FlagNoExecute; pte.Flags() != exp {
		t.Errorf("expected flags %x; got %x", exp, pte.Flags())
	}

	pte.SetFrame(mm.Frame(0x1))
	if got := pte.Frame(); got != mm.Frame(0x1) {
		t.Errorf("expected SetFrame to replace the frame; got 0x%x", got)
	}

	if !pte.HasFlags(FlagPresent|FlagNoExecute) || pte.HasFlags(FlagGlobal) || !pte.HasAnyFlag(FlagGlobal|FlagRW) {
		t.Errorf("unexpected flag checks for entry %x", pte)
	}
}
