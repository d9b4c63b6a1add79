package harness

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/tinyrange/qspicheck/internal/console"
	"github.com/tinyrange/qspicheck/internal/qspi"
)

var versionRe = regexp.MustCompile(`U-Boot (?:SPL )?v?(\d+)\.(\d+)(?:\.(\d+))?(-[0-9A-Za-z-]+)?`)

// ParseVersion extracts the firmware release from version output and
// returns it in semver form: "U-Boot 2016.07-rc2" becomes "v2016.7.0-rc2".
func ParseVersion(out string) (string, error) {
	m := versionRe.FindStringSubmatch(out)
	if m == nil {
		return "", errors.New("no U-Boot version found")
	}
	return toSemver(m[1], m[2], m[3], m[4])
}

// NormalizeVersion accepts a release written as "2016.07", "v2016.07" or
// "2016.07.1" and returns its semver form.
func NormalizeVersion(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	m := versionRe.FindStringSubmatch("U-Boot " + s)
	if m == nil || m[0] != "U-Boot "+s {
		return "", fmt.Errorf("invalid version %q", s)
	}
	return toSemver(m[1], m[2], m[3], m[4])
}

func toSemver(major, minor, patch, pre string) (string, error) {
	nums := make([]uint64, 3)
	for i, s := range []string{major, minor, patch} {
		if s == "" {
			continue
		}
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return "", fmt.Errorf("version component %q: %w", s, err)
		}
		nums[i] = n
	}
	v := fmt.Sprintf("v%d.%d.%d", nums[0], nums[1], nums[2])
	if pre != "" && semver.IsValid(v+pre) {
		v += pre
	}
	return v, nil
}

// CheckVersion skips when the firmware is older than minVersion.
func CheckVersion(ctx context.Context, ch console.Channel, minVersion string) error {
	want, err := NormalizeVersion(minVersion)
	if err != nil {
		return fmt.Errorf("requires.min_version: %w", err)
	}

	out, err := ch.Run(ctx, "version")
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	got, err := ParseVersion(out)
	if err != nil {
		return &qspi.ResponseError{Command: "version", Want: "U-Boot <release>", Output: out, Err: err}
	}

	if semver.Compare(got, want) < 0 {
		return qspi.Skipf("firmware %s is older than required %s", got, want)
	}
	return nil
}
