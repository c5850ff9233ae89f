package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// StableIDKey is the key under which the stable device id is stored in every channel.
const StableIDKey = "device_stable_id"

// cookieLifetime matches the longest lifetime browsers honour for a cookie.
const cookieLifetime = 400 * 24 * time.Hour

// Channel is one persistent storage channel for the stable device id.
// Get returns "" with a nil error when the channel is readable but holds no id.
// Any returned error means the channel is unavailable.
type Channel interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, value string) error
}

// FileChannel is the primary key-value channel: a small JSON object in a file.
// Other keys in the file are preserved on write.
type FileChannel struct {
	path string
	mu   sync.Mutex
}

// NewFileChannel returns a key-value channel backed by the file at path.
func NewFileChannel(path string) *FileChannel {
	return &FileChannel{path: path}
}

// Get returns the stored stable id, or "" if the file or key is missing.
func (c *FileChannel) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kv, err := c.read()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(kv[StableIDKey]), nil
}

// Set writes the stable id, creating the file and its directory if needed.
func (c *FileChannel) Set(ctx context.Context, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kv, err := c.read()
	if err != nil {
		// Unreadable content is replaced rather than blocking the write.
		kv = map[string]string{}
	}
	kv[StableIDKey] = value
	b, err := json.Marshal(kv)
	if err != nil {
		return err
	}
	return writeFileAtomic(c.path, b)
}

func (c *FileChannel) read() (map[string]string, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	kv := map[string]string{}
	if len(strings.TrimSpace(string(b))) == 0 {
		return kv, nil
	}
	if err := json.Unmarshal(b, &kv); err != nil {
		return nil, fmt.Errorf("identity: corrupt key-value file %s: %w", c.path, err)
	}
	return kv, nil
}

// CookieChannel is the independent long-lived cookie channel. The cookie is persisted as a
// Set-Cookie line in its own file; an expired cookie reads as empty.
type CookieChannel struct {
	path string
	now  func() time.Time
}

// NewCookieChannel returns a cookie channel persisted at path.
func NewCookieChannel(path string) *CookieChannel {
	return &CookieChannel{path: path, now: time.Now}
}

// Get returns the cookie value, or "" when the cookie is missing or expired.
func (c *CookieChannel) Get(ctx context.Context) (string, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(b))
	if line == "" {
		return "", nil
	}
	cookie, err := http.ParseSetCookie(line)
	if err != nil {
		return "", fmt.Errorf("identity: corrupt cookie file %s: %w", c.path, err)
	}
	if cookie.Name != StableIDKey {
		return "", nil
	}
	if !cookie.Expires.IsZero() && !cookie.Expires.After(c.now()) {
		return "", nil
	}
	return cookie.Value, nil
}

// Set persists the value as a long-lived cookie.
func (c *CookieChannel) Set(ctx context.Context, value string) error {
	cookie := &http.Cookie{
		Name:     StableIDKey,
		Value:    value,
		Path:     "/",
		Expires:  c.now().Add(cookieLifetime).UTC(),
		MaxAge:   int(cookieLifetime / time.Second),
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
	if err := cookie.Valid(); err != nil {
		return err
	}
	return writeFileAtomic(c.path, []byte(cookie.String()+"\n"))
}

// MemoryChannel is an in-memory Channel. Err, when set, is returned from every call.
type MemoryChannel struct {
	mu    sync.Mutex
	value string
	Err   error
}

// Get returns the stored value or Err.
func (c *MemoryChannel) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return "", c.Err
	}
	return c.value, nil
}

// Set stores value or returns Err.
func (c *MemoryChannel) Set(ctx context.Context, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.value = value
	return nil
}

// Clear empties the channel.
func (c *MemoryChannel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = ""
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
