// Package config loads the board description the harness runs against.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Board is the complete description of one board under test.
type Board struct {
	Name    string  `yaml:"name"`
	Console Console `yaml:"console"`
	// BuildConfig holds the firmware's Kconfig values keyed by lower-case
	// name with the config_ prefix, e.g. config_cmd_sf: "y".
	BuildConfig     map[string]string `yaml:"buildconfig"`
	BuildConfigFile string            `yaml:"buildconfig_file"`
	Env             Env               `yaml:"env"`
	// Seed fixes the random transfer sizes. Zero picks a new seed per run.
	Seed            uint64   `yaml:"seed"`
	EraseAllTimeout Duration `yaml:"erase_all_timeout"`
	Requires        Requires `yaml:"requires"`
	LogLevel        string   `yaml:"log_level"`
}

// Console configures the transport to the board's console.
type Console struct {
	Address string   `yaml:"address"`
	Proxy   string   `yaml:"proxy"`
	Serial  string   `yaml:"serial"`
	Baud    int      `yaml:"baud"`
	Command []string `yaml:"command"`
	Prompt  string   `yaml:"prompt"`
	Timeout Duration `yaml:"timeout"`
}

// Env holds board facts that cannot be discovered from the console.
type Env struct {
	// RAMBase overrides bdinfo discovery.
	RAMBase             Hex       `yaml:"ram_base"`
	NetDHCPServer       bool      `yaml:"net_dhcp_server"`
	NetStaticEnvVars    []EnvVar  `yaml:"net_static_env_vars"`
	NetServerHost       string    `yaml:"net_server_host"`
	NetDNSResolver      string    `yaml:"net_dns_resolver"`
	NetTFTPReadableFile *TFTPFile `yaml:"net_tftp_readable_file"`
}

// EnvVar is a firmware environment variable set before network use.
type EnvVar struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// TFTPFile is a file known to be readable from the TFTP server.
type TFTPFile struct {
	Fn    string `yaml:"fn"`
	Addr  Hex    `yaml:"addr"`
	Size  uint64 `yaml:"size"`
	CRC32 string `yaml:"crc32"`
}

// Requires gates the whole run on the firmware.
type Requires struct {
	MinVersion string `yaml:"min_version"`
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Hex is an address. It is always read as hex, prefixed or not.
type Hex uint64

// UnmarshalYAML implements yaml.Unmarshaler for Hex.
func (h *Hex) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := ParseHex(s)
	if err != nil {
		return err
	}
	*h = Hex(v)
	return nil
}

// ParseHex parses a hex value with or without the 0x prefix. Like firmware
// command arguments, unprefixed numbers are hex too.
func ParseHex(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	t := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(t, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex value %q: %w", s, err)
	}
	return v, nil
}

// Enabled reports whether a build flag such as "cmd_sf" is set to y.
func (b *Board) Enabled(flag string) bool {
	v := b.BuildConfig[normalizeKey(flag)]
	return v == "y" || v == "true"
}

// Value returns a build configuration value, or def when unset.
func (b *Board) Value(name, def string) string {
	if v, ok := b.BuildConfig[normalizeKey(name)]; ok && v != "" {
		return v
	}
	return def
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	if !strings.HasPrefix(k, "config_") {
		k = "config_" + k
	}
	return k
}

// Load reads a board file, merges its Kconfig file when one is named and
// applies environment overrides and defaults.
func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading board file: %w", err)
	}

	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing board file: %w", err)
	}

	if b.BuildConfigFile != "" {
		kc, err := LoadKconfig(b.BuildConfigFile)
		if err != nil {
			return nil, err
		}
		merged := kc
		for k, v := range b.BuildConfig {
			merged[normalizeKey(k)] = v
		}
		b.BuildConfig = merged
	} else {
		normalized := make(map[string]string, len(b.BuildConfig))
		for k, v := range b.BuildConfig {
			normalized[normalizeKey(k)] = v
		}
		b.BuildConfig = normalized
	}

	b.applyEnv()
	b.applyDefaults()
	return &b, nil
}

// Simulated is the board used with -sim. Every command set is enabled and
// boot.bin is fetched over TFTP.
func Simulated() *Board {
	b := &Board{
		Name: "sim",
		BuildConfig: map[string]string{
			"config_cmd_sf":     "y",
			"config_cmd_memory": "y",
			"config_cmd_bdi":    "y",
			"config_cmd_dhcp":   "y",
			"config_cmd_net":    "y",

			// The simulated flash has 64 KiB sectors.
			"config_sys_spi_u_boot_offs": "0x10000",
		},
		Env: Env{
			NetDHCPServer:       true,
			NetTFTPReadableFile: &TFTPFile{Fn: "boot.bin", Addr: 0x4000000},
		},
	}
	b.applyEnv()
	b.applyDefaults()
	return b
}

func (b *Board) applyEnv() {
	if v := GetEnv("QSPICHECK_CONSOLE", ""); v != "" {
		b.Console = Console{Address: v, Prompt: b.Console.Prompt, Timeout: b.Console.Timeout}
	}
	b.Seed = GetEnvUint64("QSPICHECK_SEED", b.Seed)
	b.LogLevel = GetEnv("QSPICHECK_LOG_LEVEL", b.LogLevel)
}

func (b *Board) applyDefaults() {
	if b.Console.Prompt == "" {
		b.Console.Prompt = "=> "
	}
	if b.Console.Timeout == 0 {
		b.Console.Timeout = Duration(30 * time.Second)
	}
	if b.EraseAllTimeout == 0 {
		b.EraseAllTimeout = Duration(100 * time.Second)
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}
	if b.BuildConfig == nil {
		b.BuildConfig = map[string]string{}
	}
}
