package target

import (
	"strings"
	"testing"
)

const testMaps = `55d0c0a00000-55d0c0a02000 r--p 00000000 08:02 1321238                    /usr/bin/game
55d0c0a02000-55d0c0a08000 r-xp 00002000 08:02 1321238                    /usr/bin/game
55d0c0a08000-55d0c0a0a000 rw-p 00008000 08:02 1321238                    /usr/bin/game
55d0c0a0a000-55d0c0a0c000 rw-p 00000000 00:00 0
55d0c1e6f000-55d0c1e90000 rw-p 00000000 00:00 0                          [heap]
7f1e2c000000-7f1e2c021000 rw-p 00000000 00:00 0
7f1e2d1c2000-7f1e2d1e8000 r-xp 00000000 08:02 1320118                    /usr/lib/libc so.6
7f1e2d3b0000-7f1e2d3b2000 rw-p 001ee000 08:02 1320118                    /usr/lib/libc so.6
7ffd4a8e0000-7ffd4a901000 rw-p 00000000 00:00 0                          [stack]
ffffffffff600000-ffffffffff601000 --xp 00000000 00:00 0                  [vsyscall]
`

func TestParseMaps(t *testing.T) {
	regions, err := ParseMaps(strings.NewReader(testMaps), "/usr/bin/game")
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 10 {
		t.Fatalf("got %d regions", len(regions))
	}
	want := []struct {
		typ      RegionType
		filename string
	}{
		{RegionExe, "/usr/bin/game"},
		{RegionExe, "/usr/bin/game"},
		{RegionExe, "/usr/bin/game"},
		{RegionBSS, ""},
		{RegionHeap, "[heap]"},
		{RegionMisc, ""},
		{RegionCode, "/usr/lib/libc so.6"},
		{RegionMisc, "/usr/lib/libc so.6"},
		{RegionStack, "[stack]"},
		{RegionMisc, "[vsyscall]"},
	}
	for i, w := range want {
		if regions[i].Type != w.typ || regions[i].Filename != w.filename {
			t.Errorf("region %d: got %v %q, want %v %q", i, regions[i].Type, regions[i].Filename, w.typ, w.filename)
		}
	}
	if r := regions[4]; r.Start != 0x55d0c1e6f000 || r.Size != 0x21000 || r.Perms.String() != "rw-p" {
		t.Errorf("heap region parsed as %v", r)
	}
}

func TestFilterRegions(t *testing.T) {
	regions, err := ParseMaps(strings.NewReader(testMaps), "/usr/bin/game")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		level ScanLevel
		want  []uint64
	}{
		{RegionAll, []uint64{0x55d0c0a08000, 0x55d0c0a0a000, 0x55d0c1e6f000, 0x7f1e2c000000, 0x7f1e2d3b0000, 0x7ffd4a8e0000}},
		{RegionHeapStackExecutable, []uint64{0x55d0c0a08000, 0x55d0c1e6f000, 0x7ffd4a8e0000}},
		{RegionHeapStackExecutableBSS, []uint64{0x55d0c0a08000, 0x55d0c0a0a000, 0x55d0c1e6f000, 0x7ffd4a8e0000}},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			got := FilterRegions(regions, tt.level)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d regions %v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i].Start != tt.want[i] {
					t.Errorf("region %d starts at %#x, want %#x", i, got[i].Start, tt.want[i])
				}
			}
		})
	}
}

func TestParseMapsMalformed(t *testing.T) {
	for _, in := range []string{"zzzz-1000 rw-p 0 0:0 0\n", "1000 rw-p 0 0:0 0\n", "2000-1000 rw-p 0 0:0 0\n"} {
		if _, err := ParseMaps(strings.NewReader(in), ""); err == nil {
			t.Errorf("ParseMaps(%q) did not fail", in)
		}
	}
}

func TestParseScanLevel(t *testing.T) {
	for _, l := range []ScanLevel{RegionAll, RegionHeapStackExecutable, RegionHeapStackExecutableBSS} {
		got, err := ParseScanLevel(l.String())
		if err != nil || got != l {
			t.Errorf("ParseScanLevel(%q) = %v, %v", l.String(), got, err)
		}
	}
	if _, err := ParseScanLevel("everything"); err == nil {
		t.Errorf("ParseScanLevel accepted an unknown level")
	}
}
