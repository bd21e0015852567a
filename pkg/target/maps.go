package target

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseMaps reads a /proc/<pid>/maps listing. exe is the path of the
// target's executable, used to classify its mappings; it may be empty.
// Every mapping is returned, readable or not, in file order.
func ParseMaps(r io.Reader, exe string) ([]Region, error) {
	var regions []Region
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		reg, err := parseMapsLine(line)
		if err != nil {
			return nil, fmt.Errorf("maps line %d: %v", lineno, err)
		}
		regions = append(regions, reg)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	classify(regions, exe)
	return regions, nil
}

// parseMapsLine parses lines of the form
//
//	00400000-0040b000 r-xp 00000000 08:02 1321238   /usr/bin/cat
func parseMapsLine(line string) (Region, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Region{}, fmt.Errorf("malformed line %q", line)
	}
	span := strings.SplitN(fields[0], "-", 2)
	if len(span) != 2 {
		return Region{}, fmt.Errorf("malformed address range %q", fields[0])
	}
	start, err := strconv.ParseUint(span[0], 16, 64)
	if err != nil {
		return Region{}, err
	}
	end, err := strconv.ParseUint(span[1], 16, 64)
	if err != nil {
		return Region{}, err
	}
	if end < start {
		return Region{}, fmt.Errorf("inverted address range %q", fields[0])
	}
	perms := fields[1]
	if len(perms) < 4 {
		return Region{}, fmt.Errorf("malformed permissions %q", perms)
	}
	reg := Region{
		Start: start,
		Size:  end - start,
		Perms: Perms{
			Read:   perms[0] == 'r',
			Write:  perms[1] == 'w',
			Exec:   perms[2] == 'x',
			Shared: perms[3] == 's',
		},
	}
	// the path is everything after the fifth field and may contain spaces
	rest := line
	for i := 0; i < 5 && rest != ""; i++ {
		rest = strings.TrimLeft(rest, " \t")
		if j := strings.IndexAny(rest, " \t"); j >= 0 {
			rest = rest[j:]
		} else {
			rest = ""
		}
	}
	reg.Filename = strings.TrimSpace(rest)
	return reg, nil
}

func classify(regions []Region, exe string) {
	for i := range regions {
		r := &regions[i]
		switch {
		case r.Filename == "[heap]":
			r.Type = RegionHeap
		case r.Filename == "[stack]" || strings.HasPrefix(r.Filename, "[stack:"):
			r.Type = RegionStack
		case exe != "" && r.Filename == exe:
			r.Type = RegionExe
		case r.Filename == "" && i > 0 && regions[i-1].Type == RegionExe && regions[i-1].End() == r.Start:
			r.Type = RegionBSS
		case r.Perms.Exec && r.Filename != "" && !strings.HasPrefix(r.Filename, "["):
			r.Type = RegionCode
		}
	}
}

// FilterRegions returns the scannable regions selected by level: mappings
// that are both readable and writable and not empty.
func FilterRegions(regions []Region, level ScanLevel) []Region {
	var r []Region
	for _, reg := range regions {
		if !reg.Perms.Read || !reg.Perms.Write || reg.Size == 0 {
			continue
		}
		switch level {
		case RegionAll:
		case RegionHeapStackExecutable:
			if reg.Type != RegionHeap && reg.Type != RegionStack && reg.Type != RegionExe {
				continue
			}
		case RegionHeapStackExecutableBSS:
			if reg.Type != RegionHeap && reg.Type != RegionStack && reg.Type != RegionExe && reg.Type != RegionBSS {
				continue
			}
		}
		r = append(r, reg)
	}
	return r
}
