// Package hid interprets keyboard events as the output of a keyboard-wedge
// barcode scanner: a fast burst of printable characters terminated by Enter,
// or by a short pause when the scanner sends no terminator.
package hid

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/storeline/scan-station/internal/clock"
)

const (
	DefaultTimeout = 100 * time.Millisecond
	MinLength      = 3

	KeyEnter  = "Enter"
	KeyTab    = "Tab"
	KeyEscape = "Escape"
)

var ErrAlreadyAttached = errors.New("hid: listener already attached")

// KeyEvent mirrors a single keydown: Key is either one printable character
// or a named key such as "Enter".
type KeyEvent struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Alt   bool   `json:"alt,omitempty"`
	Meta  bool   `json:"meta,omitempty"`
	Shift bool   `json:"shift,omitempty"`
}

type Channel struct {
	clock   clock.Clock
	timeout time.Duration

	mu          sync.Mutex
	onCandidate func(string)
	buffer      strings.Builder
	timer       clock.Timer
	seq         uint64
}

func NewChannel(clk clock.Clock, timeout time.Duration) *Channel {
	if clk == nil {
		clk = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Channel{clock: clk, timeout: timeout}
}

// Attach installs the single candidate listener. A second Attach without a
// Detach in between fails so buffers never accumulate across sessions.
func (c *Channel) Attach(onCandidate func(string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onCandidate != nil {
		return ErrAlreadyAttached
	}
	c.onCandidate = onCandidate
	c.resetLocked()
	return nil
}

// Detach removes the listener and clears the buffer and its timer. Safe to
// call when nothing is attached.
func (c *Channel) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onCandidate = nil
	c.resetLocked()
}

func (c *Channel) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onCandidate != nil
}

// Buffered returns the characters accumulated so far.
func (c *Channel) Buffered() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.String()
}

func (c *Channel) HandleKey(ev KeyEvent) {
	c.mu.Lock()

	if c.onCandidate == nil || ev.Ctrl || ev.Alt || ev.Meta {
		c.mu.Unlock()
		return
	}

	switch {
	case ev.Key == KeyEnter:
		if c.buffer.Len() == 0 {
			c.mu.Unlock()
			return
		}
		text, emit := c.finalizeLocked()
		c.mu.Unlock()
		if emit != nil {
			emit(text)
		}
		return

	case ev.Key == KeyTab || ev.Key == KeyEscape:
		c.mu.Unlock()
		return

	case isPrintable(ev.Key):
		c.buffer.WriteString(ev.Key)
		c.armLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Unlock()
}

func (c *Channel) armLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.seq++
	seq := c.seq
	c.timer = c.clock.AfterFunc(c.timeout, func() {
		c.expire(seq)
	})
}

func (c *Channel) expire(seq uint64) {
	c.mu.Lock()
	if seq != c.seq || c.buffer.Len() == 0 {
		c.mu.Unlock()
		return
	}
	text, emit := c.finalizeLocked()
	c.mu.Unlock()

	if emit != nil {
		emit(text)
	}
}

// finalizeLocked empties the buffer and returns the listener to call, or nil
// when the buffered text is too short to be a scan.
func (c *Channel) finalizeLocked() (string, func(string)) {
	text := strings.TrimSpace(c.buffer.String())
	c.resetLocked()

	if utf8.RuneCountInString(text) < MinLength {
		log.Debug().Int("length", len(text)).Msg("discarding short keyboard burst")
		return "", nil
	}
	return text, c.onCandidate
}

func (c *Channel) resetLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.seq++
	c.buffer.Reset()
}

func isPrintable(key string) bool {
	if utf8.RuneCountInString(key) != 1 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(key)
	return unicode.IsPrint(r)
}
