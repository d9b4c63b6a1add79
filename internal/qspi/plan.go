package qspi

import (
	"fmt"
	"math/rand/v2"
)

// MinTransfer is the smallest transfer a plan generates.
const MinTransfer = 4

// Kind selects the range of the second, randomized plan size.
type Kind int

const (
	// ReadPlan draws the second size from [MinTransfer, total].
	ReadPlan Kind = iota
	// WritePlan draws it from [page, total] so the three writes grow.
	WritePlan
)

func (k Kind) String() string {
	switch k {
	case ReadPlan:
		return "read"
	case WritePlan:
		return "write"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Plan is the ordered list of transfer sizes for one test: one within a
// page, one random up to the whole device and the whole device.
type Plan struct {
	Kind  Kind
	Sizes []uint64
}

// Span is a contiguous flash range.
type Span struct {
	Offset uint64
	Size   uint64
}

// NewRand returns a generator for plan sizes. The same seed yields the same
// plans.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RandomSeed picks a seed for runs that did not ask for one.
func RandomSeed() uint64 {
	return rand.Uint64()
}

// NewPlan draws the three transfer sizes for g.
func NewPlan(g Geometry, kind Kind, rng *rand.Rand) (Plan, error) {
	if err := g.Validate(); err != nil {
		return Plan{}, err
	}
	if g.PageSize < MinTransfer {
		return Plan{}, fmt.Errorf("page size %d is below the minimum transfer of %d bytes", g.PageSize, MinTransfer)
	}
	if g.TotalSize < g.PageSize {
		return Plan{}, fmt.Errorf("total size %d is smaller than page size %d", g.TotalSize, g.PageSize)
	}

	lo := uint64(MinTransfer)
	if kind == WritePlan {
		lo = g.PageSize
	}
	return Plan{
		Kind: kind,
		Sizes: []uint64{
			between(rng, MinTransfer, g.PageSize),
			between(rng, lo, g.TotalSize),
			g.TotalSize,
		},
	}, nil
}

// between returns a uniform value in [lo, hi].
func between(rng *rand.Rand, lo, hi uint64) uint64 {
	return lo + rng.Uint64N(hi-lo+1)
}

// Spans turns the sizes into consecutive ranges starting at offset 0: each
// range covers the growth from the previous size to the next. Sizes that do
// not grow produce no range.
func (p Plan) Spans() []Span {
	var (
		spans []Span
		prev  uint64
	)
	for _, size := range p.Sizes {
		if size <= prev {
			continue
		}
		spans = append(spans, Span{Offset: prev, Size: size - prev})
		prev = size
	}
	return spans
}
