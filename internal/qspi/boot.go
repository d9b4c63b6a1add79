package qspi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	// StagingAddr is where sub-images are extracted before writing.
	StagingAddr = 0x50000
	// DefaultSecondBootOffset is the flash offset of the second boot stage
	// when the build does not set CONFIG_SYS_SPI_U_BOOT_OFFS.
	DefaultSecondBootOffset = 0x1000
)

// BootImage is one sub-image of the fetched boot file and its flash offset.
type BootImage struct {
	Name   string
	Offset uint64
}

// BootImages returns the two boot stages: boot@1 at the start of flash and
// boot@2 at secondOffset.
func BootImages(secondOffset uint64) []BootImage {
	return []BootImage{
		{Name: "boot@1", Offset: 0},
		{Name: "boot@2", Offset: secondOffset},
	}
}

// ParseOffset parses a hex offset such as "0x1000" or "1000". An empty
// string yields DefaultSecondBootOffset.
func ParseOffset(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSecondBootOffset, nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return v, nil
}

// ProvisionBoot extracts each image from the file at imageAddr into
// staging, erases its destination and writes it. Sizes come from the
// firmware's $filesize, set by the extraction.
func (f *Flash) ProvisionBoot(ctx context.Context, imageAddr, staging uint64, images []BootImage) error {
	for _, img := range images {
		if _, err := f.run(ctx, fmt.Sprintf("imxtract %x %s %x", imageAddr, img.Name, staging), MarkerExtracted); err != nil {
			return fmt.Errorf("extract %s: %w", img.Name, err)
		}
		if _, err := f.run(ctx, fmt.Sprintf("sf erase %x +$filesize", img.Offset), MarkerErased); err != nil {
			return fmt.Errorf("erase for %s: %w", img.Name, err)
		}
		if _, err := f.run(ctx, fmt.Sprintf("sf write %x %x $filesize", staging, img.Offset), MarkerWritten); err != nil {
			return fmt.Errorf("write %s: %w", img.Name, err)
		}
		f.log.Info("qspi: boot image written", "image", img.Name, "offset", fmt.Sprintf("%#x", img.Offset))
	}
	return nil
}
