package domain

import (
	"strings"
)

// DeviceType is the form factor of a device.
type DeviceType string

const (
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeTablet  DeviceType = "tablet"
	DeviceTypeDesktop DeviceType = "desktop"
)

// PlatformType is the runtime the client runs in.
type PlatformType string

const (
	PlatformWeb     PlatformType = "web"
	PlatformPWA     PlatformType = "pwa"
	PlatformIOS     PlatformType = "ios"
	PlatformAndroid PlatformType = "android"
)

// Valid reports whether t is one of the known device types.
func (t DeviceType) Valid() bool {
	switch t {
	case DeviceTypeMobile, DeviceTypeTablet, DeviceTypeDesktop:
		return true
	}
	return false
}

// Classification is what can be derived from a user agent and the resolved identity.
type Classification struct {
	DeviceType      DeviceType
	PlatformType    PlatformType
	BrowserInfo     string
	OperatingSystem string
	DeviceName      string
}

// Classify derives device type, platform, browser and OS from the client and identity.
// Native identities report their platform directly; web clients are classified from the user agent.
func Classify(c Client, id Identity) Classification {
	ua := strings.ToLower(c.UserAgent)
	out := Classification{
		DeviceType:      detectDeviceType(ua),
		BrowserInfo:     detectBrowser(ua),
		OperatingSystem: detectOS(ua),
		PlatformType:    PlatformWeb,
	}
	if c.Standalone {
		out.PlatformType = PlatformPWA
	}
	if id.IsNative {
		switch strings.ToLower(id.Platform) {
		case "ios", "ipados":
			out.PlatformType = PlatformIOS
		case "android":
			out.PlatformType = PlatformAndroid
		}
		if id.Platform != "" {
			out.OperatingSystem = strings.TrimSpace(id.Platform + " " + id.OSVersion)
		}
		if id.Model != "" && out.BrowserInfo == "Unknown" {
			out.BrowserInfo = "Native"
		}
	}
	out.DeviceName = deviceName(out, id)
	return out
}

func detectDeviceType(ua string) DeviceType {
	switch {
	case strings.Contains(ua, "ipad"),
		strings.Contains(ua, "tablet"),
		strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		return DeviceTypeTablet
	case strings.Contains(ua, "mobile"),
		strings.Contains(ua, "iphone"),
		strings.Contains(ua, "ipod"),
		strings.Contains(ua, "windows phone"):
		return DeviceTypeMobile
	default:
		return DeviceTypeDesktop
	}
}

// Order matters: Edge and Opera user agents also contain "chrome", Chrome contains "safari".
func detectBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "edg/"):
		return "Edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "firefox/"), strings.Contains(ua, "fxios/"):
		return "Firefox"
	case strings.Contains(ua, "chrome/"), strings.Contains(ua, "crios/"):
		return "Chrome"
	case strings.Contains(ua, "safari/"):
		return "Safari"
	default:
		return "Unknown"
	}
}

func detectOS(ua string) string {
	switch {
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return "iOS"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		return "macOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "cros"):
		return "ChromeOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}

func deviceName(c Classification, id Identity) string {
	if id.IsNative && id.Model != "" {
		if id.Manufacturer != "" && !strings.HasPrefix(strings.ToLower(id.Model), strings.ToLower(id.Manufacturer)) {
			return id.Manufacturer + " " + id.Model
		}
		return id.Model
	}
	return c.BrowserInfo + " on " + c.OperatingSystem
}
