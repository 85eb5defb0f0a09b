// Package preview keeps the most recent thumbnail of each plate for the
// control surface.
//
// Each slot has its own mutex. Thumbnails are encoded before it is taken
// and swapped in whole, so a reader never sees a partially written
// thumbnail and a slow reader of one plate never blocks writes to another.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// ErrNoSlot is returned for a plate index outside the cache.
var ErrNoSlot = errors.New("preview: no such slot")

// DefaultQuality is the JPEG quality of encoded thumbnails.
const DefaultQuality = 85

type slot struct {
	mu      sync.Mutex
	data    []byte
	updated time.Time
}

// Cache is a fixed set of thumbnail slots.
type Cache struct {
	slots   []slot
	bound   image.Point
	quality int
}

// New returns a cache with n empty slots whose thumbnails fit within
// maxWidth x maxHeight.
func New(n, maxWidth, maxHeight int) *Cache {
	return &Cache{
		slots:   make([]slot, n),
		bound:   image.Pt(maxWidth, maxHeight),
		quality: DefaultQuality,
	}
}

// Len returns the number of slots.
func (c *Cache) Len() int { return len(c.slots) }

// Bound returns the maximum thumbnail size.
func (c *Cache) Bound() image.Point { return c.bound }

// Put scales img to fit the bound and stores it as JPEG in slot i,
// stamped with at.
func (c *Cache) Put(i int, img image.Image, at time.Time) error {
	if i < 0 || i >= len(c.slots) {
		return fmt.Errorf("%w: %d", ErrNoSlot, i)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Thumbnail(img, c.bound), &jpeg.Options{Quality: c.quality}); err != nil {
		return fmt.Errorf("encoding thumbnail: %w", err)
	}

	s := &c.slots[i]
	s.mu.Lock()
	s.data = buf.Bytes()
	s.updated = at
	s.mu.Unlock()
	return nil
}

// Get returns a copy of slot i's encoded thumbnail and when it was stored.
// ok is false for an empty or unknown slot.
func (c *Cache) Get(i int) (data []byte, updated time.Time, ok bool) {
	if i < 0 || i >= len(c.slots) {
		return nil, time.Time{}, false
	}
	s := &c.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, time.Time{}, false
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, s.updated, true
}

// Clear empties every slot.
func (c *Cache) Clear() {
	for i := range c.slots {
		s := &c.slots[i]
		s.mu.Lock()
		s.data = nil
		s.updated = time.Time{}
		s.mu.Unlock()
	}
}

// Thumbnail scales img down, preserving aspect ratio, so that it fits
// within bound. Images already inside the bound are returned unchanged.
func Thumbnail(img image.Image, bound image.Point) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= bound.X && h <= bound.Y {
		return img
	}
	scale := min(float64(bound.X)/float64(w), float64(bound.Y)/float64(h))
	tw := min(max(int(math.Round(float64(w)*scale)), 1), bound.X)
	th := min(max(int(math.Round(float64(h)*scale)), 1), bound.Y)

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
