// Package geo provides best-effort IP geolocation for session records.
// A lookup never fails the caller: every error degrades to "no geo data".
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"devicetrust/internal/errs"
	"devicetrust/internal/geo/domain"
)

// maxBody caps how much of a lookup response is read.
const maxBody = 64 << 10

// Lookup resolves an IP address to a location. A nil result means "omit geo fields".
type Lookup interface {
	Lookup(ctx context.Context, ip string) *domain.Info
}

// Nop is a Lookup that never returns data. Used when no endpoint is configured.
type Nop struct{}

// Lookup always returns nil.
func (Nop) Lookup(context.Context, string) *domain.Info { return nil }

// HTTPLookup performs a single GET against an ipapi-style endpoint.
// The endpoint URL may contain an {ip} placeholder; without one the endpoint is expected
// to geolocate the caller.
type HTTPLookup struct {
	endpoint string
	client   *http.Client
}

// NewHTTPLookup returns an HTTPLookup. A nil client uses a client with a 5s timeout.
func NewHTTPLookup(endpoint string, client *http.Client) *HTTPLookup {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPLookup{endpoint: endpoint, client: client}
}

// response accepts both the ipapi.co and ip-api.com field spellings.
type response struct {
	IP          string   `json:"ip"`
	Query       string   `json:"query"`
	City        string   `json:"city"`
	Country     string   `json:"country"`
	CountryName string   `json:"country_name"`
	CountryCode string   `json:"countryCode"`
	CountryISO  string   `json:"country_code"`
	Latitude    *float64 `json:"latitude"`
	Lat         *float64 `json:"lat"`
	Longitude   *float64 `json:"longitude"`
	Lon         *float64 `json:"lon"`
	Error       bool     `json:"error"`
	Status      string   `json:"status"`
}

// Lookup returns the location of ip, or nil on any network, status or parsing failure.
func (l *HTTPLookup) Lookup(ctx context.Context, ip string) *domain.Info {
	info, err := l.fetch(ctx, ip)
	if err != nil {
		zap.L().Warn("geo: lookup failed, omitting geo fields",
			zap.String("ip", ip),
			zap.Error(errs.E(errs.KindGeoLookupFailed, "geo.Lookup", err)))
		return nil
	}
	return info
}

func (l *HTTPLookup) fetch(ctx context.Context, ip string) (*domain.Info, error) {
	if l.endpoint == "" {
		return nil, fmt.Errorf("no lookup endpoint configured")
	}
	target := strings.ReplaceAll(l.endpoint, "{ip}", url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lookup returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}
	if r.Error || (r.Status != "" && r.Status != "success") {
		return nil, fmt.Errorf("lookup reported failure")
	}
	return r.toInfo(ip), nil
}

func (r response) toInfo(requested string) *domain.Info {
	info := &domain.Info{
		IP:          firstNonEmpty(r.IP, r.Query, requested),
		City:        r.City,
		Country:     firstNonEmpty(r.CountryName, r.Country),
		CountryCode: firstNonEmpty(r.CountryCode, r.CountryISO),
	}
	if v := firstFloat(r.Latitude, r.Lat); v != nil {
		info.Latitude = *v
	}
	if v := firstFloat(r.Longitude, r.Lon); v != nil {
		info.Longitude = *v
	}
	return info
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstFloat(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
