package identity

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// ErrNoHardwareID is returned when the host reports no hardware identifier.
var ErrNoHardwareID = errors.New("identity: host reports no hardware id")

// dmiDir holds the SMBIOS strings on Linux; absent elsewhere.
const dmiDir = "/sys/class/dmi/id/"

// HostBridge is the NativeBridge of a process running directly on a host OS.
// The hardware id is the host UUID reported by the OS (SMBIOS product UUID or machine id).
type HostBridge struct {
	enabled bool
}

// NewHostBridge returns a bridge; when enabled is false the bridge reports itself unavailable
// and identity falls back to the storage channels.
func NewHostBridge(enabled bool) *HostBridge {
	return &HostBridge{enabled: enabled}
}

// Available reports whether the bridge may be queried.
func (b *HostBridge) Available() bool {
	return b != nil && b.enabled
}

// Info queries the host for its hardware id and descriptive metadata.
func (b *HostBridge) Info(ctx context.Context) (NativeInfo, error) {
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return NativeInfo{}, err
	}
	if strings.TrimSpace(hi.HostID) == "" {
		return NativeInfo{}, ErrNoHardwareID
	}
	platform := hi.Platform
	if platform == "" {
		platform = hi.OS
	}
	return NativeInfo{
		HardwareID:   strings.ToLower(strings.TrimSpace(hi.HostID)),
		Model:        readDMI("product_name"),
		Platform:     platform,
		OSVersion:    hi.PlatformVersion,
		Manufacturer: readDMI("sys_vendor"),
	}, nil
}

func readDMI(name string) string {
	b, err := os.ReadFile(dmiDir + name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
