package qspi

import (
	"testing"
)

var n25q128 = Geometry{PageSize: 256, EraseSize: 64 * 1024, TotalSize: 16 * 1024 * 1024, Detected: true}

func TestNewPlan_Bounds(t *testing.T) {
	for _, kind := range []Kind{ReadPlan, WritePlan} {
		t.Run(kind.String(), func(t *testing.T) {
			for seed := uint64(1); seed <= 200; seed++ {
				p, err := NewPlan(n25q128, kind, NewRand(seed))
				if err != nil {
					t.Fatalf("NewPlan: %v", err)
				}
				if len(p.Sizes) != 3 {
					t.Fatalf("len(Sizes) = %d, want 3", len(p.Sizes))
				}

				small, mid, full := p.Sizes[0], p.Sizes[1], p.Sizes[2]
				if small < MinTransfer || small > n25q128.PageSize {
					t.Errorf("seed %d: first size %d outside [%d, %d]", seed, small, MinTransfer, n25q128.PageSize)
				}
				lo := uint64(MinTransfer)
				if kind == WritePlan {
					lo = n25q128.PageSize
				}
				if mid < lo || mid > n25q128.TotalSize {
					t.Errorf("seed %d: second size %d outside [%d, %d]", seed, mid, lo, n25q128.TotalSize)
				}
				if full != n25q128.TotalSize {
					t.Errorf("seed %d: last size %d, want total %d", seed, full, n25q128.TotalSize)
				}
			}
		})
	}
}

func TestNewPlan_Seeded(t *testing.T) {
	a, _ := NewPlan(n25q128, WritePlan, NewRand(7))
	b, _ := NewPlan(n25q128, WritePlan, NewRand(7))
	for i := range a.Sizes {
		if a.Sizes[i] != b.Sizes[i] {
			t.Fatalf("same seed gave %v and %v", a.Sizes, b.Sizes)
		}
	}
}

func TestNewPlan_Errors(t *testing.T) {
	tests := []struct {
		name string
		g    Geometry
	}{
		{"undetected", Geometry{}},
		{"missing total", Geometry{PageSize: 256, EraseSize: 65536, Detected: true}},
		{"missing page", Geometry{EraseSize: 65536, TotalSize: 1 << 20, Detected: true}},
		{"tiny page", Geometry{PageSize: 2, EraseSize: 65536, TotalSize: 1 << 20, Detected: true}},
		{"total below page", Geometry{PageSize: 256, EraseSize: 64, TotalSize: 128, Detected: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPlan(tt.g, ReadPlan, NewRand(1)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewPlan_PageEqualsMinimum(t *testing.T) {
	g := Geometry{PageSize: MinTransfer, EraseSize: 4096, TotalSize: 4096, Detected: true}
	p, err := NewPlan(g, ReadPlan, NewRand(3))
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if p.Sizes[0] != MinTransfer {
		t.Errorf("first size = %d, want %d", p.Sizes[0], MinTransfer)
	}
}

func TestPlan_Spans(t *testing.T) {
	tests := []struct {
		name  string
		sizes []uint64
		want  []Span
	}{
		{
			name:  "increasing",
			sizes: []uint64{100, 5000, 65536},
			want:  []Span{{0, 100}, {100, 4900}, {5000, 60536}},
		},
		{
			name:  "repeated size",
			sizes: []uint64{256, 256, 1024},
			want:  []Span{{0, 256}, {256, 768}},
		},
		{
			name:  "shrinking size",
			sizes: []uint64{512, 300, 1024},
			want:  []Span{{0, 512}, {512, 512}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan{Kind: WritePlan, Sizes: tt.sizes}.Spans()
			if len(got) != len(tt.want) {
				t.Fatalf("Spans = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("span %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPlan_SpansCoverFlash(t *testing.T) {
	for seed := uint64(1); seed <= 50; seed++ {
		p, err := NewPlan(n25q128, WritePlan, NewRand(seed))
		if err != nil {
			t.Fatalf("NewPlan: %v", err)
		}
		var next uint64
		for _, s := range p.Spans() {
			if s.Offset != next {
				t.Fatalf("seed %d: span at %#x, want %#x", seed, s.Offset, next)
			}
			if s.Size == 0 {
				t.Fatalf("seed %d: zero-length span", seed)
			}
			next += s.Size
		}
		if next != n25q128.TotalSize {
			t.Errorf("seed %d: spans end at %#x, want %#x", seed, next, n25q128.TotalSize)
		}
	}
}
