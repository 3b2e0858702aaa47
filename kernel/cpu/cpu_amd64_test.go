package cpu

import "testing"

func TestHasNoExecute(t *testing.T) {
	defer func() {
		cpuidFn = ID
	}()

	specs := []struct {
		maxExtLeaf uint32
		extEDX     uint32
		exp        bool
	}{
		// extended leaves not supported
		{0x80000000, edxNoExecuteBit, false},
		// NX reported
		{0x80000008, edxNoExecuteBit, true},
		// NX missing
		{0x80000008, 0, false},
	}

	for specIndex, spec := range specs {
		cpuidFn = func(leaf uint32) (uint32, uint32, uint32, uint32) {
			switch leaf {
			case 0x80000000:
				return spec.maxExtLeaf, 0, 0, 0
			case extendedFeatureLeaf:
				return 0, 0, 0, spec.extEDX
			}

			t.Fatalf("[spec %d] unexpected CPUID leaf 0x%x", specIndex, leaf)
			return 0, 0, 0, 0
		}

		if got := HasNoExecute(); got != spec.exp {
			t.Errorf("[spec %d] expected HasNoExecute to return %t; got %t", specIndex, spec.exp, got)
		}
	}
}
