package domain

// Identity is the resolved identity of the physical device a user authenticates from.
// StableID is authoritative; Fingerprint is a secondary reconciliation key only.
type Identity struct {
	StableID     string
	Fingerprint  string
	IsNative     bool
	Model        string // native only
	Platform     string // native only
	OSVersion    string // native only
	Manufacturer string // native only
}

// FingerprintAttributes are the static environment attributes hashed into a fingerprint.
// Nothing that legitimately changes between visits (nonces, session ids, timestamps) belongs here.
type FingerprintAttributes struct {
	UserAgent           string
	ScreenGeometry      string // e.g. "1920x1080x24"
	Timezone            string
	HardwareConcurrency int
	CanvasHash          string
	Language            string
}

// Client is per-login descriptive data about the requesting client.
type Client struct {
	UserAgent string
	IPAddress string
	// Standalone is true when a web client runs as an installed PWA.
	Standalone bool
}
