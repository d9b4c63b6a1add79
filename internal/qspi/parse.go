package qspi

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Console markers.
const (
	MarkerDetected  = "Detected"
	MarkerRead      = "Read: OK"
	MarkerWritten   = "Written: OK"
	MarkerErased    = "Erased: OK"
	MarkerExtracted = "OK"
)

var (
	pageSizeRe  = regexp.MustCompile(`page size (.+?) Bytes`)
	eraseSizeRe = regexp.MustCompile(`erase size (.+?) KiB`)
	totalSizeRe = regexp.MustCompile(`total (.+?) MiB`)
	checksumRe  = regexp.MustCompile(`==> ([0-9a-fA-F]+)`)
)

// ParseGeometry extracts the sizes from a probe response that reported a
// device. Each of the three fields is optional; a field that is present but
// not a decimal number is an error.
func ParseGeometry(out string) (Geometry, error) {
	g := Geometry{Detected: true}

	fields := []struct {
		re   *regexp.Regexp
		name string
		unit uint64
		dst  *uint64
	}{
		{pageSizeRe, "page size", 1, &g.PageSize},
		{eraseSizeRe, "erase size", 1024, &g.EraseSize},
		{totalSizeRe, "total size", 1024 * 1024, &g.TotalSize},
	}
	for _, f := range fields {
		m := f.re.FindStringSubmatch(out)
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(m[1]), 10, 64)
		if err != nil {
			return Geometry{}, &ResponseError{
				Command: CmdProbe,
				Want:    f.name + " not recognized",
				Output:  out,
				Err:     err,
			}
		}
		*f.dst = n * f.unit
	}
	return g, nil
}

// ParseChecksum extracts the value after "==>" from crc32 output. The value
// is returned as printed; callers compare it as text.
func ParseChecksum(out string) (string, error) {
	m := checksumRe.FindStringSubmatch(out)
	if m == nil {
		return "", errors.New("no checksum in output")
	}
	return strings.ToLower(m[1]), nil
}

// ramBaseOffset is the distance of the first usable buffer from DRAM start.
const ramBaseOffset = 2 * 1024 * 1024

// ParseRAMBase finds the first DRAM bank start in bdinfo output and returns
// it plus ramBaseOffset.
func ParseRAMBase(out string) (uint64, error) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "-> start") && !strings.Contains(line, "memstart") {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
		base, err := strconv.ParseUint(value, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing RAM start %q: %w", value, err)
		}
		return base + ramBaseOffset, nil
	}
	return 0, errors.New("no DRAM bank start in bdinfo output")
}
