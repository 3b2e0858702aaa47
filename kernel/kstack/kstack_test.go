package kstack

import (
	"testing"
	"unsafe"

	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/cpu"
	"github.com/lukeenterprise/ktf/kernel/mm"
)

func TestLayoutRegions(t *testing.T) {
	specs := []struct {
		pages, exception, emergency uintptr
	}{
		{Pages, ExceptionPages, EmergencyPages},
		{2, 0, 1},
		{2, 1, 0},
		{1, 0, 0},
		{16, 4, 2},
	}

	const base = uintptr(0x7000)

	for specIndex, spec := range specs {
		l, err := NewLayout(base, spec.pages, spec.exception, spec.emergency)
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		top := base + spec.pages*mm.PageSize
		expTops := map[Region]uintptr{
			Regular:   top - (spec.exception+spec.emergency)*mm.PageSize,
			Exception: top - spec.emergency*mm.PageSize,
			Emergency: top,
		}
		expPages := map[Region]uintptr{
			Regular:   spec.pages - spec.exception - spec.emergency,
			Exception: spec.exception,
			Emergency: spec.emergency,
		}

		for _, r := range []Region{Regular, Exception, Emergency} {
			if got := l.Top(r); got != expTops[r] {
				t.Errorf("[spec %d] expected %s top to be 0x%x; got 0x%x", specIndex, r, expTops[r], got)
			}
			if got := l.Pages(r); got != expPages[r] {
				t.Errorf("[spec %d] expected %s region to span %d pages; got %d", specIndex, r, expPages[r], got)
			}
			if got := l.Bottom(r); got != expTops[r]-expPages[r]*mm.PageSize {
				t.Errorf("[spec %d] unexpected %s bottom 0x%x", specIndex, r, got)
			}
		}

		// The regions are disjoint and together cover the allocation.
		for addr := base; addr < top; addr += mm.PageSize / 4 {
			var owners int
			for _, r := range []Region{Regular, Exception, Emergency} {
				if l.Contains(r, addr) {
					owners++
				}
			}
			if owners != 1 {
				t.Errorf("[spec %d] expected 0x%x to belong to exactly one region; got %d", specIndex, addr, owners)
			}
		}

		for _, addr := range []uintptr{base - 1, top} {
			for _, r := range []Region{Regular, Exception, Emergency} {
				if l.Contains(r, addr) {
					t.Errorf("[spec %d] expected 0x%x outside the allocation not to belong to the %s region", specIndex, addr, r)
				}
			}
		}
	}
}

func TestNewLayoutErrors(t *testing.T) {
	specs := []struct {
		base, pages, exception, emergency uintptr
		expErr                            *kernel.Error
	}{
		{0, 5, 1, 1, errMisalignedBase},
		{0x1010, 5, 1, 1, errMisalignedBase},
		{0x1000, 2, 1, 1, errNoRegularPages},
		{0x1000, 0, 0, 0, errNoRegularPages},
		{0x1000, 5, ^uintptr(0), 2, errNoRegularPages},
		{^uintptr(0) &^ (mm.PageSize - 1), 2, 0, 0, errLayoutOverflow},
	}

	for specIndex, spec := range specs {
		l, err := NewLayout(spec.base, spec.pages, spec.exception, spec.emergency)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
		if l.Valid() {
			t.Errorf("[spec %d] expected an invalid layout on error", specIndex)
		}
	}
}

func TestKernelLayout(t *testing.T) {
	l := Kernel()

	if !mm.IsPageAligned(l.Base()) {
		t.Fatalf("expected kernel stack base to be page aligned; got 0x%x", l.Base())
	}

	arenaStart := uintptr(unsafe.Pointer(&arena[0]))
	arenaEnd := arenaStart + uintptr(len(arena))
	if l.Base() < arenaStart || l.Top(Emergency) > arenaEnd {
		t.Fatalf("expected stack [0x%x, 0x%x) to fit in the arena [0x%x, 0x%x)", l.Base(), l.Top(Emergency), arenaStart, arenaEnd)
	}

	if exp := uintptr(Pages - ExceptionPages - EmergencyPages); l.Pages(Regular) != exp {
		t.Fatalf("expected regular region to span %d pages; got %d", exp, l.Pages(Regular))
	}

	if exp, err := NewLayout(l.Base(), Pages, ExceptionPages, EmergencyPages); err != nil || exp != l {
		t.Fatalf("expected Kernel() to match NewLayout; got %v, %v", exp, err)
	}
}

func TestSwitch(t *testing.T) {
	defer func() {
		switchStackFn = cpu.SwitchStack
	}()

	t.Run("invalid layout", func(t *testing.T) {
		switchStackFn = func(_, _ uintptr, _ func()) {
			t.Fatal("unexpected call to SwitchStack")
		}

		if err := Switch(Layout{}, func() {}); err != errInvalidLayout {
			t.Fatalf("expected errInvalidLayout; got %v", err)
		}
	})

	t.Run("regular region", func(t *testing.T) {
		var (
			l            = Kernel()
			gotLo, gotHi uintptr
			entryCalled  bool
		)

		switchStackFn = func(lo, hi uintptr, fn func()) {
			gotLo, gotHi = lo, hi
			fn()
		}

		if err := Switch(l, func() { entryCalled = true }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if gotLo != l.Bottom(Regular) || gotHi != l.Top(Regular) {
			t.Fatalf("expected stack bounds [0x%x, 0x%x); got [0x%x, 0x%x)", l.Bottom(Regular), l.Top(Regular), gotLo, gotHi)
		}

		if !entryCalled {
			t.Fatal("expected entry to be called on the new stack")
		}
	})
}

func TestRegionString(t *testing.T) {
	for specIndex, spec := range []struct {
		r   Region
		exp string
	}{
		{Regular, "regular"},
		{Exception, "exception"},
		{Emergency, "emergency"},
		{Region(42), "unknown"},
	} {
		if got := spec.r.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}
