package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadKconfig reads a firmware .config file. Keys are lower-cased
// ("CONFIG_CMD_SF=y" becomes "config_cmd_sf": "y"), quoted strings are
// unquoted and "is not set" lines are skipped.
func LoadKconfig(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading build config: %w", err)
	}
	defer f.Close()

	values := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || !strings.HasPrefix(key, "CONFIG_") {
			continue
		}
		values[strings.ToLower(key)] = strings.Trim(value, `"`)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading build config: %w", err)
	}
	return values, nil
}
