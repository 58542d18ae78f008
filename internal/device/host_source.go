package device

import (
	"errors"
	"os"
	"runtime"
	"strings"
)

var errUnavailable = errors.New("descriptor unavailable")

// HostSource reads descriptors of the machine the client runs on.
type HostSource struct{}

func (HostSource) Platform() (string, error) {
	return runtime.GOOS, nil
}

func (HostSource) OSVersion() (string, error) {
	return readFirst("/proc/sys/kernel/osrelease", "/etc/os-release")
}

func (HostSource) ModelName() (string, error) {
	return readFirst("/sys/class/dmi/id/product_name")
}

func (HostSource) Brand() (string, error) {
	return readFirst("/sys/class/dmi/id/sys_vendor")
}

func readFirst(paths ...string) (string, error) {
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if v := parseDescriptor(p, string(raw)); v != "" {
			return v, nil
		}
	}
	return "", errUnavailable
}

func parseDescriptor(path, raw string) string {
	if !strings.HasSuffix(path, "os-release") {
		return strings.TrimSpace(raw)
	}
	for _, line := range strings.Split(raw, "\n") {
		if v, ok := strings.CutPrefix(line, "VERSION_ID="); ok {
			return strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return ""
}
