// Package sim is an in-process stand-in for a U-Boot board with a serial
// flash. It understands the subset of commands the harness sends and keeps
// flash and RAM contents so checksums behave like on hardware.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tinyrange/qspicheck/internal/console"
)

// File is a file the simulated TFTP server can serve. Parts are the named
// sub-images imxtract can pull out of it.
type File struct {
	Data  []byte
	Parts map[string][]byte
}

// Config describes the simulated board.
type Config struct {
	FlashName string
	PageSize  uint64
	EraseKiB  uint64
	TotalMiB  uint64
	// NoFlash makes sf probe fail.
	NoFlash bool

	DRAMStart uint64
	DRAMSize  uint64
	Version   string

	// DHCP enables the dhcp command.
	DHCP     bool
	ServerIP string
	Files    map[string]File

	// Latency is the simulated run time of commands by prefix. A command
	// slower than the current timeout fails with console.ErrTimeout.
	Latency map[string]time.Duration
	// Overrides replaces the output of commands by prefix.
	Overrides map[string]string
	// ReadFault may corrupt data read from flash before it lands in RAM.
	ReadFault func(dst, offset uint64, data []byte)
}

// DefaultConfig is a 16 MiB N25Q128 with 256 byte pages and 64 KiB sectors.
func DefaultConfig() Config {
	return Config{
		FlashName: "n25q128a13",
		PageSize:  256,
		EraseKiB:  64,
		TotalMiB:  16,
		DRAMStart: 0,
		DRAMSize:  1 << 30,
		Version:   "U-Boot 2016.07 (Oct 18 2016 - 10:00:00 +0200)",
		DHCP:      true,
		ServerIP:  "192.168.0.1",
	}
}

// Record is one command the board executed.
type Record struct {
	Line    string
	Timeout time.Duration
}

// Board implements console.Channel.
type Board struct {
	mu      sync.Mutex
	cfg     Config
	log     *slog.Logger
	flash   *memory
	ram     *memory
	env     map[string]string
	probed  bool
	loaded  map[uint64]File
	timeout time.Duration
	history []Record
}

var _ console.Channel = (*Board)(nil)

// New creates a board with erased flash.
func New(cfg Config) *Board {
	return &Board{
		cfg:     cfg,
		log:     slog.Default(),
		flash:   newMemory(func(uint64) byte { return 0xff }),
		ram:     newMemory(ramPattern),
		env:     map[string]string{},
		loaded:  map[uint64]File{},
		timeout: console.DefaultTimeout,
	}
}

// ramPattern gives uninitialised RAM varied, repeatable content.
func ramPattern(addr uint64) byte {
	x := addr * 0x9e3779b97f4a7c15
	return byte(x >> 56)
}

func (b *Board) flashSize() uint64 { return b.cfg.TotalMiB * 1024 * 1024 }
func (b *Board) eraseSize() uint64 { return b.cfg.EraseKiB * 1024 }

// Timeout implements console.Channel.
func (b *Board) Timeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeout
}

// SetTimeout implements console.Channel.
func (b *Board) SetTimeout(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = d
}

// History returns the commands executed so far.
func (b *Board) History() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Record(nil), b.history...)
}

// Env returns an environment variable.
func (b *Board) Env(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.env[name]
}

// WriteRAM stores data in simulated RAM.
func (b *Board) WriteRAM(addr uint64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ram.write(addr, data)
}

// ReadFlash returns n bytes of flash at offset.
func (b *Board) ReadFlash(offset, n uint64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := make([]byte, n)
	b.flash.read(offset, buf)
	return buf
}

// Run implements console.Channel.
func (b *Board) Run(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, Record{Line: cmd, Timeout: b.timeout})
	if d, ok := matchPrefix(b.cfg.Latency, cmd); ok && d > b.timeout {
		return "", fmt.Errorf("console: %q: %w", cmd, console.ErrTimeout)
	}
	return b.exec(cmd), nil
}

// matchPrefix returns the value of the longest key that prefixes cmd.
func matchPrefix[V any](m map[string]V, cmd string) (V, bool) {
	var (
		best  string
		value V
		found bool
	)
	for k, v := range m {
		if strings.HasPrefix(cmd, k) && len(k) >= len(best) {
			best, value, found = k, v, true
		}
	}
	return value, found
}

func (b *Board) exec(line string) string {
	if out, ok := matchPrefix(b.cfg.Overrides, line); ok {
		return out
	}

	expanded := os.Expand(line, func(name string) string { return b.env[name] })
	args := strings.Fields(expanded)
	if len(args) == 0 {
		return ""
	}

	b.log.Debug("sim: exec", "cmd", expanded)
	switch args[0] {
	case "sf":
		return b.sf(args[1:])
	case "crc32":
		return b.crc32(args[1:])
	case "bdinfo":
		return b.bdinfo()
	case "version":
		return b.cfg.Version
	case "setenv":
		return b.setenv(args[1:])
	case "printenv":
		return b.printenv(args[1:])
	case "dhcp":
		return b.dhcp()
	case "tftpboot", "tftp":
		return b.tftpboot(args[1:])
	case "imxtract":
		return b.imxtract(args[1:])
	}
	return fmt.Sprintf("Unknown command '%s' - try 'help'", args[0])
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

func parseHexArgs(args []string) ([]uint64, error) {
	vals := make([]uint64, len(args))
	for i, a := range args {
		v, err := parseHex(a)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

const usageSF = "sf - SPI flash sub-system\n\nUsage:\nsf probe [[bus:]cs] [hz] [mode]\t- init flash device on given SPI bus\n"

func (b *Board) sf(args []string) string {
	if len(args) == 0 {
		return usageSF
	}
	if args[0] == "probe" {
		if b.cfg.NoFlash {
			b.probed = false
			return "Failed to initialize SPI flash at 0:0 (error -2)"
		}
		b.probed = true
		return fmt.Sprintf("SF: Detected %s with page size %d Bytes, erase size %d KiB, total %d MiB",
			b.cfg.FlashName, b.cfg.PageSize, b.cfg.EraseKiB, b.cfg.TotalMiB)
	}
	if !b.probed {
		return "No SPI flash selected. Please run `sf probe'"
	}

	switch args[0] {
	case "read", "write":
		if len(args) != 4 {
			return usageSF
		}
		v, err := parseHexArgs(args[1:])
		if err != nil {
			return usageSF
		}
		addr, off, n := v[0], v[1], v[2]
		if off+n > b.flashSize() {
			return fmt.Sprintf("ERROR: attempting %s past flash size (%#x)", args[0], b.flashSize())
		}
		buf := make([]byte, n)
		out := fmt.Sprintf("device 0 offset %#x, size %#x\n", off, n)
		if args[0] == "read" {
			b.flash.read(off, buf)
			if b.cfg.ReadFault != nil {
				b.cfg.ReadFault(addr, off, buf)
			}
			b.ram.write(addr, buf)
			return out + fmt.Sprintf("SF: %d bytes @ %#x Read: OK", n, off)
		}
		b.ram.read(addr, buf)
		b.flash.program(off, buf)
		return out + fmt.Sprintf("SF: %d bytes @ %#x Written: OK", n, off)

	case "erase":
		if len(args) != 3 {
			return usageSF
		}
		off, err := parseHex(args[1])
		if err != nil {
			return usageSF
		}
		lenArg := args[2]
		roundUp := strings.HasPrefix(lenArg, "+")
		n, err := parseHex(strings.TrimPrefix(lenArg, "+"))
		if err != nil {
			return usageSF
		}
		es := b.eraseSize()
		if roundUp {
			n = (n + es - 1) / es * es
		}
		if off%es != 0 || n%es != 0 {
			return "SF: Erase offset/length not multiple of erase size"
		}
		if off+n > b.flashSize() {
			return fmt.Sprintf("ERROR: attempting erase past flash size (%#x)", b.flashSize())
		}
		b.flash.reset(off, n)
		return fmt.Sprintf("SF: %d bytes @ %#x Erased: OK", n, off)
	}
	return usageSF
}

func (b *Board) crc32(args []string) string {
	if len(args) < 2 {
		return "crc32 - checksum calculation\n\nUsage:\ncrc32 address count [addr]"
	}
	v, err := parseHexArgs(args[:2])
	if err != nil {
		return "crc32 - checksum calculation"
	}
	addr, n := v[0], v[1]
	end := addr
	if n > 0 {
		end = addr + n - 1
	}
	return fmt.Sprintf("crc32 for %08x ... %08x ==> %08x", addr, end, b.ram.checksum(addr, n))
}

func (b *Board) bdinfo() string {
	return fmt.Sprintf("arch_number = 0x00000000\nboot_params = 0x00000000\n"+
		"DRAM bank   = 0x00000000\n-> start    = 0x%08x\n-> size     = 0x%08x\n"+
		"baudrate    = 115200 bps", b.cfg.DRAMStart, b.cfg.DRAMSize)
}

func (b *Board) setenv(args []string) string {
	if len(args) == 0 {
		return "setenv - set environment variables"
	}
	if len(args) == 1 {
		delete(b.env, args[0])
		return ""
	}
	b.env[args[0]] = strings.Join(args[1:], " ")
	return ""
}

func (b *Board) printenv(args []string) string {
	if len(args) == 0 {
		names := make([]string, 0, len(b.env))
		for k := range b.env {
			names = append(names, k)
		}
		sort.Strings(names)
		var sb strings.Builder
		for _, k := range names {
			fmt.Fprintf(&sb, "%s=%s\n", k, b.env[k])
		}
		return strings.TrimRight(sb.String(), "\n")
	}
	v, ok := b.env[args[0]]
	if !ok {
		return fmt.Sprintf("## Error: \"%s\" not defined", args[0])
	}
	return args[0] + "=" + v
}

func (b *Board) dhcp() string {
	if !b.cfg.DHCP {
		return "BOOTP broadcast 1\nBOOTP broadcast 2\nBOOTP broadcast 3\n\nRetry time exceeded; starting again"
	}
	b.env["ipaddr"] = "192.168.0.20"
	b.env["netmask"] = "255.255.255.0"
	if b.env["serverip"] == "" {
		b.env["serverip"] = b.cfg.ServerIP
	}
	return "BOOTP broadcast 1\nDHCP client bound to address 192.168.0.20 (3 ms)"
}

func (b *Board) tftpboot(args []string) string {
	if len(args) != 2 {
		return "tftpboot - boot image via network using TFTP protocol"
	}
	addr, err := parseHex(args[0])
	if err != nil {
		return "tftpboot - boot image via network using TFTP protocol"
	}
	name := args[1]
	if b.env["ipaddr"] == "" {
		return "*** ERROR: `ipaddr' not set"
	}
	if b.env["serverip"] == "" {
		return "*** ERROR: `serverip' not set"
	}

	f, ok := b.cfg.Files[name]
	out := fmt.Sprintf("Using ethernet@e000b000 device\nTFTP from server %s; our IP address is %s\nFilename '%s'.\nLoad address: %#x\n",
		b.env["serverip"], b.env["ipaddr"], name, addr)
	if !ok {
		return out + "Loading: *\nTFTP error: 'File not found' (1)\nNot retrying..."
	}

	data := f.Data
	if data == nil {
		data = concatParts(f.Parts)
	}
	b.ram.write(addr, data)
	b.loaded[addr] = f
	b.env["filesize"] = fmt.Sprintf("%x", len(data))
	b.env["fileaddr"] = fmt.Sprintf("%x", addr)
	return out + fmt.Sprintf("Loading: #\n\t done\nBytes transferred = %d (%x hex)", len(data), len(data))
}

func concatParts(parts map[string][]byte) []byte {
	names := make([]string, 0, len(parts))
	for k := range parts {
		names = append(names, k)
	}
	sort.Strings(names)
	var data []byte
	for _, k := range names {
		data = append(data, parts[k]...)
	}
	return data
}

func (b *Board) imxtract(args []string) string {
	if len(args) != 3 {
		return "imxtract - extract a part of a multi-image"
	}
	v, err := parseHexArgs([]string{args[0], args[2]})
	if err != nil {
		return "imxtract - extract a part of a multi-image"
	}
	addr, dest := v[0], v[1]
	f, ok := b.loaded[addr]
	if !ok {
		return "Bad Magic Number"
	}
	part, ok := f.Parts[args[1]]
	if !ok {
		return fmt.Sprintf("Can't find '%s' FIT subimage", args[1])
	}
	b.ram.write(dest, part)
	b.env["filesize"] = fmt.Sprintf("%x", len(part))
	return fmt.Sprintf("## Copying '%s' subimage from FIT image at %08x ...\n   Loading part %s ... OK", args[1], addr, args[1])
}
