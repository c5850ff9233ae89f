package domain

import (
	"time"

	devicedomain "devicetrust/internal/device/domain"
	geodomain "devicetrust/internal/geo/domain"
)

// Status mirrors IsActive for consumers that read the textual session state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Record is one session row per (user, physical device). Records are updated on every login
// from the same device and deactivated, never deleted, when superseded or signed out.
type Record struct {
	ID                string                    `db:"id"`
	UserID            string                    `db:"user_id"`
	DeviceStableID    string                    `db:"device_stable_id"`
	DeviceFingerprint string                    `db:"device_fingerprint"`
	DeviceName        string                    `db:"device_name"`
	DeviceType        devicedomain.DeviceType   `db:"device_type"`
	DeviceTypeLocked  bool                      `db:"device_type_locked"`
	BrowserInfo       string                    `db:"browser_info"`
	OperatingSystem   string                    `db:"operating_system"`
	PlatformType      devicedomain.PlatformType `db:"platform_type"`
	IPAddress         *string                   `db:"ip_address"`
	GeoCity           *string                   `db:"geo_city"`
	GeoCountry        *string                   `db:"geo_country"`
	GeoCountryCode    *string                   `db:"geo_country_code"`
	GeoLatitude       *float64                  `db:"geo_latitude"`
	GeoLongitude      *float64                  `db:"geo_longitude"`
	IsTrusted         bool                      `db:"is_trusted"`
	IsActive          bool                      `db:"is_active"`
	SessionStatus     Status                    `db:"session_status"`
	LoginCount        int                       `db:"login_count"`
	LastActivity      time.Time                 `db:"last_activity"`
	CreatedAt         time.Time                 `db:"created_at"`
}

// Geo returns the stored location, or nil when none was recorded.
func (r *Record) Geo() *geodomain.Info {
	if r.GeoCity == nil && r.GeoCountry == nil && r.GeoCountryCode == nil && r.GeoLatitude == nil {
		return nil
	}
	g := &geodomain.Info{}
	if r.IPAddress != nil {
		g.IP = *r.IPAddress
	}
	if r.GeoCity != nil {
		g.City = *r.GeoCity
	}
	if r.GeoCountry != nil {
		g.Country = *r.GeoCountry
	}
	if r.GeoCountryCode != nil {
		g.CountryCode = *r.GeoCountryCode
	}
	if r.GeoLatitude != nil {
		g.Latitude = *r.GeoLatitude
	}
	if r.GeoLongitude != nil {
		g.Longitude = *r.GeoLongitude
	}
	return g
}

// SetGeo stamps the geo columns from g; nil leaves them untouched.
func (r *Record) SetGeo(g *geodomain.Info) {
	if g == nil {
		return
	}
	r.GeoCity = &g.City
	r.GeoCountry = &g.Country
	r.GeoCountryCode = &g.CountryCode
	r.GeoLatitude = &g.Latitude
	r.GeoLongitude = &g.Longitude
}

// Filter selects session records. Zero-valued fields do not constrain the match.
// StableID and Fingerprint are ANDed unless AnyDevice is set, in which case a record
// matching either belongs to the same physical device.
type Filter struct {
	ID          string
	UserID      string
	ExcludeID   string
	StableID    string
	Fingerprint string
	AnyDevice   bool
	ActiveOnly  bool
}

// Matches reports whether r satisfies f.
func (f Filter) Matches(r *Record) bool {
	if f.ID != "" && r.ID != f.ID {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.ExcludeID != "" && r.ID == f.ExcludeID {
		return false
	}
	if f.ActiveOnly && !r.IsActive {
		return false
	}
	stable := f.StableID != "" && r.DeviceStableID == f.StableID
	fp := f.Fingerprint != "" && r.DeviceFingerprint == f.Fingerprint
	if f.AnyDevice {
		if f.StableID == "" && f.Fingerprint == "" {
			return true
		}
		return stable || fp
	}
	if f.StableID != "" && !stable {
		return false
	}
	if f.Fingerprint != "" && !fp {
		return false
	}
	return true
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	DeviceStableID    *string
	DeviceFingerprint *string
	DeviceName        *string
	DeviceType        *devicedomain.DeviceType
	DeviceTypeLocked  *bool
	BrowserInfo       *string
	OperatingSystem   *string
	PlatformType      *devicedomain.PlatformType
	IPAddress         *string
	Geo               *geodomain.Info
	IsTrusted         *bool
	// Active sets IsActive and SessionStatus together.
	Active              *bool
	LastActivity        *time.Time
	IncrementLoginCount bool
}

// Apply mutates r with the non-nil fields of p.
func (p Patch) Apply(r *Record) {
	if p.DeviceStableID != nil {
		r.DeviceStableID = *p.DeviceStableID
	}
	if p.DeviceFingerprint != nil {
		r.DeviceFingerprint = *p.DeviceFingerprint
	}
	if p.DeviceName != nil {
		r.DeviceName = *p.DeviceName
	}
	if p.DeviceType != nil {
		r.DeviceType = *p.DeviceType
	}
	if p.DeviceTypeLocked != nil {
		r.DeviceTypeLocked = *p.DeviceTypeLocked
	}
	if p.BrowserInfo != nil {
		r.BrowserInfo = *p.BrowserInfo
	}
	if p.OperatingSystem != nil {
		r.OperatingSystem = *p.OperatingSystem
	}
	if p.PlatformType != nil {
		r.PlatformType = *p.PlatformType
	}
	if p.IPAddress != nil {
		ip := *p.IPAddress
		r.IPAddress = &ip
	}
	if p.Geo != nil {
		g := *p.Geo
		r.SetGeo(&g)
	}
	if p.IsTrusted != nil {
		r.IsTrusted = *p.IsTrusted
	}
	if p.Active != nil {
		r.IsActive = *p.Active
		r.SessionStatus = StatusOf(*p.Active)
	}
	if p.LastActivity != nil {
		r.LastActivity = *p.LastActivity
	}
	if p.IncrementLoginCount {
		r.LoginCount++
	}
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// StatusOf maps the active flag to its textual status.
func StatusOf(active bool) Status {
	if active {
		return StatusActive
	}
	return StatusInactive
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }
