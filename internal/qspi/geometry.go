package qspi

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Geometry is the layout reported by the flash probe.
type Geometry struct {
	PageSize  uint64
	EraseSize uint64
	TotalSize uint64
	Detected  bool
}

func (g Geometry) String() string {
	if !g.Detected {
		return "not detected"
	}
	return fmt.Sprintf("page %d B, erase %d KiB, total %d MiB",
		g.PageSize, g.EraseSize/1024, g.TotalSize/(1024*1024))
}

// Validate checks the sizes every test depends on.
func (g Geometry) Validate() error {
	var missing []string
	if g.PageSize == 0 {
		missing = append(missing, "page size")
	}
	if g.EraseSize == 0 {
		missing = append(missing, "erase size")
	}
	if g.TotalSize == 0 {
		missing = append(missing, "total size")
	}
	switch {
	case !g.Detected:
		return errors.New("flash not detected")
	case len(missing) > 0:
		return &ResponseError{
			Command: CmdProbe,
			Want:    "complete geometry",
			Err:     fmt.Errorf("missing %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// Probe runs the flash probe. A board without a detected flash yields a
// *SkipError and no further commands are sent.
func (f *Flash) Probe(ctx context.Context) (Geometry, error) {
	out, err := f.run(ctx, CmdProbe, "")
	if err != nil {
		return Geometry{}, err
	}
	if !strings.Contains(out, MarkerDetected) {
		return Geometry{}, Skipf("no QSPI device available")
	}

	g, err := ParseGeometry(out)
	if err != nil {
		return Geometry{}, err
	}
	f.log.Info("qspi: flash detected",
		"page_size", g.PageSize,
		"erase_size", g.EraseSize,
		"total_size", g.TotalSize)
	return g, nil
}

// FindRAMBase asks bdinfo for the start of DRAM.
func (f *Flash) FindRAMBase(ctx context.Context) (uint64, error) {
	const cmd = "bdinfo"
	out, err := f.run(ctx, cmd, "")
	if err != nil {
		return 0, err
	}
	base, err := ParseRAMBase(out)
	if err != nil {
		return 0, &ResponseError{Command: cmd, Want: "DRAM bank start", Output: out, Err: err}
	}
	f.log.Debug("qspi: ram base", "addr", fmt.Sprintf("%#x", base))
	return base, nil
}
