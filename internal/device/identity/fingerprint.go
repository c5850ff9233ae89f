package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"devicetrust/internal/device/domain"
)

// fingerprintBytes is the digest size; hex encoding doubles it to 16 characters.
const fingerprintBytes = 8

// Fingerprint hashes the static environment attributes into a short, stable string.
// Same attributes always yield the same fingerprint. It is a secondary reconciliation key:
// different devices can collide and one device can drift, so it never serves as primary identity.
func Fingerprint(attrs domain.FingerprintAttributes) string {
	combined := strings.Join([]string{
		strings.TrimSpace(attrs.UserAgent),
		strings.TrimSpace(attrs.ScreenGeometry),
		strings.TrimSpace(attrs.Timezone),
		strconv.Itoa(attrs.HardwareConcurrency),
		strings.TrimSpace(attrs.CanvasHash),
		strings.TrimSpace(attrs.Language),
	}, "|")
	h, _ := blake2b.New(fingerprintBytes, nil) // only fails for invalid size or key
	h.Write([]byte(combined))
	return hex.EncodeToString(h.Sum(nil))
}

// AgentUserAgent is the user agent the agent reports for this host.
func AgentUserAgent(version string) string {
	return fmt.Sprintf("devicetrust-agent/%s (%s; %s)", version, runtime.GOOS, runtime.GOARCH)
}

// agentProduct is the user agent fed into the fingerprint. It carries no version so an
// upgrade does not move the device to a new fingerprint.
func agentProduct() string {
	return fmt.Sprintf("devicetrust-agent (%s; %s)", runtime.GOOS, runtime.GOARCH)
}

// EnvironmentAttributes collects the fingerprint attributes of the running process.
// Headless processes have no screen or canvas; those stay empty.
func EnvironmentAttributes() domain.FingerprintAttributes {
	return environmentAttributes(time.Local, time.Now())
}

func environmentAttributes(loc *time.Location, now time.Time) domain.FingerprintAttributes {
	return domain.FingerprintAttributes{
		UserAgent:           agentProduct(),
		Timezone:            zoneName(loc, now),
		HardwareConcurrency: runtime.NumCPU(),
	}
}

// zoneName returns the IANA name of loc. The process-local zone is resolved through TZ and
// /etc/localtime; when neither names it, the zone's standard offset is used. The current
// offset never is, since it moves at daylight saving transitions.
func zoneName(loc *time.Location, now time.Time) string {
	if name := loc.String(); name != "" && name != "Local" {
		return name
	}
	if name := localZoneName(); name != "" {
		return name
	}
	return fmt.Sprintf("UTC%+d", standardOffset(loc, now.Year())/60)
}

func localZoneName() string {
	if tz, ok := os.LookupEnv("TZ"); ok {
		if name := zoneFromPath(strings.TrimPrefix(tz, ":")); name != "" {
			return name
		}
	}
	target, err := os.Readlink("/etc/localtime")
	if err != nil {
		return ""
	}
	return zoneFromPath(target)
}

// zoneFromPath maps "Europe/Berlin" or "/usr/share/zoneinfo/Europe/Berlin" to "Europe/Berlin".
func zoneFromPath(p string) string {
	if i := strings.LastIndex(p, "zoneinfo/"); i >= 0 {
		return p[i+len("zoneinfo/"):]
	}
	if strings.HasPrefix(p, "/") {
		return ""
	}
	return p
}

// standardOffset is the smaller of the January and July offsets in seconds, which is the
// zone's offset outside daylight saving time in either hemisphere.
func standardOffset(loc *time.Location, year int) int {
	_, jan := time.Date(year, time.January, 1, 12, 0, 0, 0, loc).Zone()
	_, jul := time.Date(year, time.July, 1, 12, 0, 0, 0, loc).Zone()
	return min(jan, jul)
}
