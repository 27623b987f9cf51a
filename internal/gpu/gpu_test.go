package gpu

import "testing"

func TestHWAccelArgs(t *testing.T) {
	cases := []struct {
		info     Info
		expected []string
	}{
		{Info{Vendor: VendorNvidia, Available: true}, []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}},
		{Info{Vendor: VendorIntel, Available: true}, []string{"-hwaccel", "qsv", "-hwaccel_output_format", "qsv"}},
		{Info{Vendor: VendorApple, Available: true}, []string{"-hwaccel", "videotoolbox"}},
		{Info{Vendor: VendorNvidia, Available: false}, nil},
		{None(), nil},
	}
	for _, tc := range cases {
		got := tc.info.HWAccelArgs()
		if len(got) != len(tc.expected) {
			t.Fatalf("%s: expected %v, got %v", tc.info.Vendor, tc.expected, got)
		}
		for i := range got {
			if got[i] != tc.expected[i] {
				t.Fatalf("%s: expected %v, got %v", tc.info.Vendor, tc.expected, got)
			}
		}
	}
}

func TestNoneIsUnavailable(t *testing.T) {
	info := None()
	if info.Available {
		t.Fatal("None() must not report availability")
	}
	if info.Vendor != VendorNone {
		t.Fatalf("unexpected vendor %s", info.Vendor)
	}
}
