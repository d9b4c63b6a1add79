package qspi

import (
	"context"
	"fmt"

	"github.com/tinyrange/qspicheck/internal/console"
)

// Windows splits [0, total) into erase-block sized spans. The last span is
// clipped to the end of the device.
func Windows(g Geometry) []Span {
	if g.EraseSize == 0 {
		return nil
	}
	spans := make([]Span, 0, (g.TotalSize+g.EraseSize-1)/g.EraseSize)
	for off := uint64(0); off < g.TotalSize; off += g.EraseSize {
		spans = append(spans, Span{Offset: off, Size: min(g.EraseSize, g.TotalSize-off)})
	}
	return spans
}

// EraseBlocks erases the device one erase block per command. Block-wise
// erase crosses every die and chip-select boundary of stacked or parallel
// configurations, which a single chip erase does not.
func (f *Flash) EraseBlocks(ctx context.Context, g Geometry) error {
	if err := g.Validate(); err != nil {
		return err
	}

	var done uint64
	for _, w := range Windows(g) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := f.run(ctx, eraseCmd(w.Offset, w.Size), MarkerErased); err != nil {
			return fmt.Errorf("erase block at %#x: %w", w.Offset, err)
		}
		done += w.Size
		if f.progress != nil {
			f.progress(done, g.TotalSize)
		}
	}
	f.log.Info("qspi: block erase complete", "blocks", (g.TotalSize+g.EraseSize-1)/g.EraseSize)
	return nil
}

// EraseAll erases the whole device with one command. The console timeout is
// raised for that command only.
func (f *Flash) EraseAll(ctx context.Context, g Geometry) error {
	if err := g.Validate(); err != nil {
		return err
	}

	cmd := fmt.Sprintf("sf erase 0 %#x", g.TotalSize)
	err := console.WithTimeout(f.ch, f.eraseAllTimeout, func() error {
		_, err := f.run(ctx, cmd, MarkerErased)
		return err
	})
	if err != nil {
		return err
	}
	if f.progress != nil {
		f.progress(g.TotalSize, g.TotalSize)
	}
	return nil
}
