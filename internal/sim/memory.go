package sim

import "hash/crc32"

const (
	pageShift = 12
	pageSize  = 1 << pageShift
)

// memory is a sparse byte-addressable store. Pages are allocated on first
// write; unwritten bytes read as fill(addr).
type memory struct {
	pages map[uint64][]byte
	fill  func(addr uint64) byte
}

func newMemory(fill func(addr uint64) byte) *memory {
	return &memory{pages: make(map[uint64][]byte), fill: fill}
}

func (m *memory) page(n uint64, alloc bool) []byte {
	p, ok := m.pages[n]
	if ok || !alloc {
		return p
	}
	p = make([]byte, pageSize)
	base := n << pageShift
	for i := range p {
		p[i] = m.fill(base + uint64(i))
	}
	m.pages[n] = p
	return p
}

// each calls fn for every page-bounded piece of [addr, addr+size).
func each(addr, size uint64, fn func(page, off uint64, n int, pos uint64)) {
	pos := uint64(0)
	for pos < size {
		a := addr + pos
		off := a & (pageSize - 1)
		n := min(uint64(pageSize)-off, size-pos)
		fn(a>>pageShift, off, int(n), pos)
		pos += n
	}
}

func (m *memory) read(addr uint64, dst []byte) {
	each(addr, uint64(len(dst)), func(page, off uint64, n int, pos uint64) {
		p := m.page(page, false)
		if p == nil {
			for i := 0; i < n; i++ {
				dst[pos+uint64(i)] = m.fill(addr + pos + uint64(i))
			}
			return
		}
		copy(dst[pos:pos+uint64(n)], p[off:off+uint64(n)])
	})
}

func (m *memory) write(addr uint64, src []byte) {
	each(addr, uint64(len(src)), func(page, off uint64, n int, pos uint64) {
		copy(m.page(page, true)[off:off+uint64(n)], src[pos:pos+uint64(n)])
	})
}

// program clears bits like NOR flash: new = old & src.
func (m *memory) program(addr uint64, src []byte) {
	each(addr, uint64(len(src)), func(page, off uint64, n int, pos uint64) {
		p := m.page(page, true)
		for i := 0; i < n; i++ {
			p[off+uint64(i)] &= src[pos+uint64(i)]
		}
	})
}

// reset drops pages in [addr, addr+size) back to fill.
func (m *memory) reset(addr, size uint64) {
	each(addr, size, func(page, off uint64, n int, pos uint64) {
		if off == 0 && n == pageSize {
			delete(m.pages, page)
			return
		}
		p := m.page(page, false)
		if p == nil {
			return
		}
		base := page << pageShift
		for i := off; i < off+uint64(n); i++ {
			p[i] = m.fill(base + i)
		}
	})
}

func (m *memory) checksum(addr, size uint64) uint32 {
	var (
		sum uint32
		buf [pageSize]byte
	)
	each(addr, size, func(page, off uint64, n int, pos uint64) {
		chunk := buf[:n]
		m.read(addr+pos, chunk)
		sum = crc32.Update(sum, crc32.IEEETable, chunk)
	})
	return sum
}
