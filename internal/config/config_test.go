package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "board.yaml", `
name: zynq-zc706
console:
  address: lab-host:7001
  proxy: socks5://127.0.0.1:1080
  timeout: 45s
buildconfig:
  cmd_sf: y
  CONFIG_CMD_MEMORY: y
  config_sys_spi_u_boot_offs: "0x20000"
env:
  ram_base: 0x10000000
  net_dhcp_server: true
  net_static_env_vars:
    - name: netmask
      value: 255.255.255.0
  net_tftp_readable_file:
    fn: boot.bin
    addr: 4000000
    size: 5058624
    crc32: c2244b26
seed: 1234
erase_all_timeout: 3m
requires:
  min_version: "2016.07"
`)

	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if b.Name != "zynq-zc706" {
		t.Errorf("Name = %q, want %q", b.Name, "zynq-zc706")
	}
	if b.Console.Address != "lab-host:7001" || b.Console.Proxy != "socks5://127.0.0.1:1080" {
		t.Errorf("Console = %+v", b.Console)
	}
	if b.Console.Timeout.Duration() != 45*time.Second {
		t.Errorf("Console.Timeout = %v, want 45s", b.Console.Timeout.Duration())
	}
	if b.Console.Prompt != "=> " {
		t.Errorf("Console.Prompt = %q, want default", b.Console.Prompt)
	}
	if b.EraseAllTimeout.Duration() != 3*time.Minute {
		t.Errorf("EraseAllTimeout = %v, want 3m", b.EraseAllTimeout.Duration())
	}
	if !b.Enabled("cmd_sf") || !b.Enabled("CMD_MEMORY") {
		t.Errorf("build flags not enabled: %v", b.BuildConfig)
	}
	if b.Enabled("cmd_bdi") {
		t.Error("cmd_bdi enabled without being set")
	}
	if got := b.Value("sys_spi_u_boot_offs", "0x1000"); got != "0x20000" {
		t.Errorf("Value = %q, want 0x20000", got)
	}
	if b.Env.RAMBase != 0x10000000 {
		t.Errorf("RAMBase = %#x, want 0x10000000", uint64(b.Env.RAMBase))
	}
	if len(b.Env.NetStaticEnvVars) != 1 || b.Env.NetStaticEnvVars[0].Name != "netmask" {
		t.Errorf("NetStaticEnvVars = %+v", b.Env.NetStaticEnvVars)
	}
	f := b.Env.NetTFTPReadableFile
	if f == nil || f.Fn != "boot.bin" || f.Addr != 0x4000000 || f.Size != 5058624 || f.CRC32 != "c2244b26" {
		t.Errorf("NetTFTPReadableFile = %+v", f)
	}
	if b.Seed != 1234 {
		t.Errorf("Seed = %d, want 1234", b.Seed)
	}
	if b.Requires.MinVersion != "2016.07" {
		t.Errorf("MinVersion = %q", b.Requires.MinVersion)
	}
}

func TestLoad_Kconfig(t *testing.T) {
	dir := t.TempDir()
	kc := writeFile(t, dir, ".config", `#
# Automatically generated file; DO NOT EDIT.
#
CONFIG_CMD_SF=y
CONFIG_CMD_MEMORY=y
# CONFIG_CMD_BDI is not set
CONFIG_SYS_SPI_U_BOOT_OFFS=0x100000
CONFIG_SYS_PROMPT="ZynqMP> "
`)
	path := writeFile(t, dir, "board.yaml", `
name: zcu102
buildconfig_file: `+kc+`
buildconfig:
  cmd_memory: n
`)

	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !b.Enabled("cmd_sf") {
		t.Error("cmd_sf from .config not enabled")
	}
	if b.Enabled("cmd_memory") {
		t.Error("board file did not override .config")
	}
	if b.Enabled("cmd_bdi") {
		t.Error("unset option enabled")
	}
	if got := b.Value("sys_spi_u_boot_offs", ""); got != "0x100000" {
		t.Errorf("offset = %q", got)
	}
	if got := b.Value("sys_prompt", ""); got != "ZynqMP> " {
		t.Errorf("prompt = %q, want unquoted value", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "name: [unterminated"},
		{"bad duration", "console:\n  timeout: forever\n"},
		{"bad hex", "env:\n  ram_base: 0xzz\n"},
		{"missing kconfig", "buildconfig_file: " + filepath.Join(dir, "absent") + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "board.yaml", tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "board.yaml", `
console:
  serial: /dev/ttyUSB0
  baud: 115200
seed: 7
`)
	t.Setenv("QSPICHECK_CONSOLE", "127.0.0.1:5555")
	t.Setenv("QSPICHECK_SEED", "99")
	t.Setenv("QSPICHECK_LOG_LEVEL", "debug")

	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if b.Console.Address != "127.0.0.1:5555" || b.Console.Serial != "" {
		t.Errorf("Console = %+v, want address override", b.Console)
	}
	if b.Seed != 99 {
		t.Errorf("Seed = %d, want 99", b.Seed)
	}
	if b.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", b.LogLevel)
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0x1000", 0x1000, false},
		{"1000", 0x1000, false},
		{"0XFF", 0xff, false},
		{" 20000 ", 0x20000, false},
		{"", 0, false},
		{"0xg", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseHex(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHex(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHex(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("QSPICHECK_TEST_STR", "value")
	t.Setenv("QSPICHECK_TEST_NUM", "0x10")
	t.Setenv("QSPICHECK_TEST_BAD", "ten")
	t.Setenv("QSPICHECK_TEST_DUR", "250ms")

	if got := GetEnv("QSPICHECK_TEST_STR", "def"); got != "value" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnv("QSPICHECK_TEST_UNSET", "def"); got != "def" {
		t.Errorf("GetEnv default = %q", got)
	}
	if got := GetEnvUint64("QSPICHECK_TEST_NUM", 1); got != 16 {
		t.Errorf("GetEnvUint64 = %d, want 16", got)
	}
	if got := GetEnvUint64("QSPICHECK_TEST_BAD", 1); got != 1 {
		t.Errorf("GetEnvUint64 bad = %d, want default", got)
	}
	if got := GetEnvDuration("QSPICHECK_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("GetEnvDuration = %v", got)
	}
}

func TestSimulated(t *testing.T) {
	b := Simulated()
	for _, flag := range []string{"cmd_sf", "cmd_memory", "cmd_bdi", "cmd_dhcp", "cmd_net"} {
		if !b.Enabled(flag) {
			t.Errorf("%s not enabled", flag)
		}
	}
	if b.Env.NetTFTPReadableFile == nil || b.Env.NetTFTPReadableFile.Fn != "boot.bin" {
		t.Errorf("NetTFTPReadableFile = %+v", b.Env.NetTFTPReadableFile)
	}
	if b.Console.Timeout.Duration() != 30*time.Second {
		t.Errorf("default timeout = %v", b.Console.Timeout.Duration())
	}
}
