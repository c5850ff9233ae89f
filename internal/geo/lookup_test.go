package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"devicetrust/internal/geo/domain"
)

func TestHTTPLookup_IPAPIFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/203.0.113.7/json/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7","city":"Lisbon","country_name":"Portugal","country_code":"PT","latitude":38.72,"longitude":-9.14}`))
	}))
	defer srv.Close()

	info := NewHTTPLookup(srv.URL+"/{ip}/json/", srv.Client()).Lookup(context.Background(), "203.0.113.7")
	if info == nil {
		t.Fatal("Lookup returned nil")
	}
	want := domain.Info{IP: "203.0.113.7", City: "Lisbon", Country: "Portugal", CountryCode: "PT", Latitude: 38.72, Longitude: -9.14}
	if *info != want {
		t.Errorf("info = %+v, want %+v", *info, want)
	}
}

func TestHTTPLookup_IPAPIComFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","query":"198.51.100.1","city":"Austin","country":"United States","countryCode":"US","lat":30.26,"lon":-97.74}`))
	}))
	defer srv.Close()

	info := NewHTTPLookup(srv.URL+"/json/{ip}", nil).Lookup(context.Background(), "198.51.100.1")
	if info == nil {
		t.Fatal("Lookup returned nil")
	}
	if info.Country != "United States" || info.CountryCode != "US" || info.Latitude != 30.26 || info.Longitude != -97.74 {
		t.Errorf("info = %+v", *info)
	}
}

func TestHTTPLookup_FailuresReturnNil(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"rate limited", http.StatusTooManyRequests, `{"error":true}`},
		{"malformed body", http.StatusOK, `{"city":`},
		{"reported error", http.StatusOK, `{"error":true,"reason":"Reserved IP Address"}`},
		{"reported fail status", http.StatusOK, `{"status":"fail","message":"private range"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			if info := NewHTTPLookup(srv.URL+"/{ip}", nil).Lookup(context.Background(), "10.0.0.1"); info != nil {
				t.Errorf("Lookup = %+v, want nil", *info)
			}
		})
	}
}

func TestHTTPLookup_NetworkFailureReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	if info := NewHTTPLookup(url+"/{ip}", nil).Lookup(context.Background(), "10.0.0.1"); info != nil {
		t.Error("Lookup against a closed server should return nil")
	}
}

func TestHTTPLookup_NoEndpoint(t *testing.T) {
	if info := NewHTTPLookup("", nil).Lookup(context.Background(), "10.0.0.1"); info != nil {
		t.Error("Lookup without endpoint should return nil")
	}
}

type countingLookup struct {
	calls atomic.Int32
	info  *domain.Info
}

func (c *countingLookup) Lookup(ctx context.Context, ip string) *domain.Info {
	c.calls.Add(1)
	return c.info
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCachedLookup_HitsCacheOnSecondCall(t *testing.T) {
	mr, rdb := newTestRedis(t)
	next := &countingLookup{info: &domain.Info{IP: "203.0.113.7", City: "Lisbon", CountryCode: "PT"}}
	c := NewCachedLookup(next, rdb, time.Hour)
	ctx := context.Background()

	first := c.Lookup(ctx, "203.0.113.7")
	second := c.Lookup(ctx, "203.0.113.7")
	if first == nil || second == nil || *first != *second {
		t.Fatalf("results = %v, %v", first, second)
	}
	if n := next.calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
	if ttl := mr.TTL(cacheKeyPrefix + "203.0.113.7"); ttl != time.Hour {
		t.Errorf("cache ttl = %v, want 1h", ttl)
	}
}

func TestCachedLookup_NilIsNotCached(t *testing.T) {
	mr, rdb := newTestRedis(t)
	next := &countingLookup{}
	c := NewCachedLookup(next, rdb, time.Hour)

	if c.Lookup(context.Background(), "10.0.0.1") != nil {
		t.Error("want nil")
	}
	if mr.Exists(cacheKeyPrefix + "10.0.0.1") {
		t.Error("negative result should not be cached")
	}
}

func TestCachedLookup_RedisDownFallsThrough(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.Close()
	next := &countingLookup{info: &domain.Info{IP: "203.0.113.7"}}
	c := NewCachedLookup(next, rdb, time.Hour)

	if info := c.Lookup(context.Background(), "203.0.113.7"); info == nil || info.IP != "203.0.113.7" {
		t.Errorf("Lookup with redis down = %v, want upstream result", info)
	}
}

func TestCachedLookup_CorruptEntryRefetched(t *testing.T) {
	mr, rdb := newTestRedis(t)
	if err := mr.Set(cacheKeyPrefix+"203.0.113.7", "not json"); err != nil {
		t.Fatal(err)
	}
	next := &countingLookup{info: &domain.Info{IP: "203.0.113.7", City: "Porto"}}
	c := NewCachedLookup(next, rdb, time.Hour)

	info := c.Lookup(context.Background(), "203.0.113.7")
	if info == nil || info.City != "Porto" {
		t.Errorf("info = %v", info)
	}
	got, _ := mr.Get(cacheKeyPrefix + "203.0.113.7")
	if !strings.Contains(got, "Porto") {
		t.Errorf("cache should be rewritten, got %q", got)
	}
}
