package qspi

import (
	"context"
	"fmt"
)

// ShadowDelta separates the two RAM copies of a verification pair.
const ShadowDelta = 10

// Pair is the pair of RAM addresses that hold the two copies compared by a
// verification cycle.
type Pair struct {
	Primary uint64
	Shadow  uint64
}

// NewPair places the primary copy one device size above ramBase so it never
// overlaps a flash image loaded at the RAM base.
func NewPair(ramBase uint64, g Geometry) Pair {
	primary := ramBase + g.TotalSize
	return Pair{Primary: primary, Shadow: primary + ShadowDelta}
}

// Checksum returns the crc32 of size bytes of RAM at addr.
func (f *Flash) Checksum(ctx context.Context, addr, size uint64) (string, error) {
	cmd := checksumCmd(addr, size)
	out, err := f.run(ctx, cmd, "")
	if err != nil {
		return "", err
	}
	sum, err := ParseChecksum(out)
	if err != nil {
		return "", &ResponseError{Command: cmd, Want: "==> <crc32>", Output: out, Err: err}
	}
	return sum, nil
}

// ReadTwice reads size bytes from flash offset 0 into both addresses of the
// pair and requires equal checksums. The first read defines the expected
// content.
func (f *Flash) ReadTwice(ctx context.Context, pair Pair, size uint64) error {
	if _, err := f.run(ctx, readCmd(pair.Primary, 0, size), MarkerRead); err != nil {
		return err
	}
	want, err := f.Checksum(ctx, pair.Primary, size)
	if err != nil {
		return err
	}

	if _, err := f.run(ctx, readCmd(pair.Shadow, 0, size), MarkerRead); err != nil {
		return err
	}
	got, err := f.Checksum(ctx, pair.Shadow, size)
	if err != nil {
		return err
	}

	if got != want {
		return &IntegrityError{
			Size:    size,
			Primary: pair.Primary,
			Shadow:  pair.Shadow,
			Want:    want,
			Got:     got,
		}
	}
	f.log.Debug("qspi: read verified", "size", size, "crc32", want)
	return nil
}

// WriteRead writes the RAM at the primary address to span, reads it back to
// the shadow address and requires the checksum of the source.
func (f *Flash) WriteRead(ctx context.Context, pair Pair, span Span) error {
	want, err := f.Checksum(ctx, pair.Primary, span.Size)
	if err != nil {
		return err
	}

	if _, err := f.run(ctx, writeCmd(pair.Primary, span.Offset, span.Size), MarkerWritten); err != nil {
		return err
	}
	if _, err := f.run(ctx, readCmd(pair.Shadow, span.Offset, span.Size), MarkerRead); err != nil {
		return err
	}

	got, err := f.Checksum(ctx, pair.Shadow, span.Size)
	if err != nil {
		return err
	}
	if got != want {
		return &IntegrityError{
			Offset:  span.Offset,
			Size:    span.Size,
			Primary: pair.Primary,
			Shadow:  pair.Shadow,
			Want:    want,
			Got:     got,
		}
	}
	f.log.Debug("qspi: write verified", "offset", span.Offset, "size", span.Size, "crc32", want)
	return nil
}

// VerifyReads runs ReadTwice for every size of the plan.
func (f *Flash) VerifyReads(ctx context.Context, pair Pair, plan Plan) error {
	for _, size := range plan.Sizes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.ReadTwice(ctx, pair, size); err != nil {
			return fmt.Errorf("read %#x bytes: %w", size, err)
		}
	}
	return nil
}

// VerifyWrites runs WriteRead for every span of the plan, so the written
// region grows from offset 0 to the end of the device.
func (f *Flash) VerifyWrites(ctx context.Context, pair Pair, plan Plan) error {
	for _, span := range plan.Spans() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.WriteRead(ctx, pair, span); err != nil {
			return fmt.Errorf("write %#x bytes at %#x: %w", span.Size, span.Offset, err)
		}
	}
	return nil
}
