// Package handles tracks volatile in-process references to audio blobs.
//
// A Handle is only meaningful for the lifetime of the process and is never
// persisted. Every acquired handle must be released exactly once.
package handles

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
)

// URLPrefix starts every handle URL.
const URLPrefix = "blob:readers-ear/"

// ErrNotLive is returned when releasing or opening a handle that was already
// released or never issued by this cache.
var ErrNotLive = errors.New("handle is not live")

// Handle refers to one audio payload held by a Cache.
type Handle struct {
	url  string
	size int
}

// URL returns the opaque handle URL.
func (h *Handle) URL() string {
	if h == nil {
		return ""
	}
	return h.url
}

// Size returns the payload length in bytes.
func (h *Handle) Size() int {
	if h == nil {
		return 0
	}
	return h.size
}

func (h *Handle) String() string {
	return h.URL()
}

// Cache owns the payloads behind live handles.
type Cache struct {
	mu   sync.Mutex
	live map[string][]byte
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{live: make(map[string][]byte)}
}

// Acquire registers data and returns a new handle for it. The cache keeps its
// own reference to data; callers must not modify it afterwards.
func (c *Cache) Acquire(data []byte) *Handle {
	h := &Handle{
		url:  URLPrefix + uuid.NewString(),
		size: len(data),
	}

	c.mu.Lock()
	c.live[h.url] = data
	c.mu.Unlock()

	return h
}

// Release frees the payload behind h.
func (c *Cache) Release(h *Handle) error {
	if h == nil {
		return ErrNotLive
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.live[h.url]; !ok {
		return ErrNotLive
	}
	delete(c.live, h.url)
	return nil
}

// IsLive reports whether h has been acquired and not yet released.
func (c *Cache) IsLive(h *Handle) bool {
	if h == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.live[h.url]
	return ok
}

// Open returns a reader over the payload behind h.
func (c *Cache) Open(h *Handle) (io.ReadSeeker, error) {
	data, err := c.Bytes(h)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// Bytes returns the payload behind h. The slice is shared; do not modify it.
func (c *Cache) Bytes(h *Handle) ([]byte, error) {
	if h == nil {
		return nil, ErrNotLive
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.live[h.url]
	if !ok {
		return nil, ErrNotLive
	}
	return data, nil
}

// Live returns the number of handles not yet released.
func (c *Cache) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.live)
}

// Drain releases every live handle and returns how many there were.
func (c *Cache) Drain() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.live)
	c.live = make(map[string][]byte)
	return n
}
