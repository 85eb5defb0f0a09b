package camera

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
)

// LiveView is a latest-frame mailbox for encoded preview frames. Publishing
// overwrites the previous frame; slow readers skip frames rather than
// queueing them.
type LiveView struct {
	mu     sync.Mutex
	frame  []byte
	seq    uint64
	notify chan struct{}

	drops atomic.Uint64
}

// NewLiveView returns an empty mailbox.
func NewLiveView() *LiveView {
	return &LiveView{notify: make(chan struct{})}
}

// Publish replaces the current frame. frame must not be modified afterwards.
func (lv *LiveView) Publish(frame []byte) {
	lv.mu.Lock()
	if lv.seq > 0 {
		lv.drops.Add(1)
	}
	lv.frame = frame
	lv.seq++
	close(lv.notify)
	lv.notify = make(chan struct{})
	lv.mu.Unlock()
}

// Latest returns the newest frame, if any.
func (lv *LiveView) Latest() ([]byte, bool) {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	return lv.frame, lv.frame != nil
}

// Next blocks until a frame newer than after is available.
func (lv *LiveView) Next(ctx context.Context, after uint64) ([]byte, uint64, error) {
	for {
		lv.mu.Lock()
		if lv.seq > after && lv.frame != nil {
			frame, seq := lv.frame, lv.seq
			lv.mu.Unlock()
			return frame, seq, nil
		}
		wait := lv.notify
		lv.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, after, ctx.Err()
		case <-wait:
		}
	}
}

// Seq returns the sequence number of the newest frame (0 when empty).
func (lv *LiveView) Seq() uint64 {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	return lv.seq
}

// Reset drops the held frame, e.g. when the stream stops.
func (lv *LiveView) Reset() {
	lv.mu.Lock()
	lv.frame = nil
	lv.mu.Unlock()
}

// maxJPEGSize bounds the splitter buffer; anything larger is garbage.
const maxJPEGSize = 8 << 20

var (
	jpegSOI = []byte{0xff, 0xd8}
	jpegEOI = []byte{0xff, 0xd9}
)

// MJPEGSplitter is an io.Writer that cuts a concatenated MJPEG byte stream
// into individual JPEG images and publishes each to a LiveView.
type MJPEGSplitter struct {
	out *LiveView
	buf []byte
}

// NewMJPEGSplitter returns a splitter publishing to out.
func NewMJPEGSplitter(out *LiveView) *MJPEGSplitter {
	return &MJPEGSplitter{out: out}
}

// Write implements io.Writer. It never returns an error so the producing
// process is never blocked by a bad frame.
func (s *MJPEGSplitter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	for {
		start := bytes.Index(s.buf, jpegSOI)
		if start < 0 {
			// keep a trailing 0xff in case the marker straddles writes
			if n := len(s.buf); n > 0 && s.buf[n-1] == 0xff {
				s.buf = append(s.buf[:0], 0xff)
			} else {
				s.buf = s.buf[:0]
			}
			break
		}
		end := bytes.Index(s.buf[start+2:], jpegEOI)
		if end < 0 {
			if start > 0 {
				s.buf = append(s.buf[:0], s.buf[start:]...)
			}
			if len(s.buf) > maxJPEGSize {
				s.buf = s.buf[:0]
			}
			break
		}
		stop := start + 2 + end + 2
		frame := make([]byte, stop-start)
		copy(frame, s.buf[start:stop])
		s.out.Publish(frame)
		s.buf = append(s.buf[:0], s.buf[stop:]...)
	}
	return len(p), nil
}
