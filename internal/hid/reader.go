package hid

import (
	"bufio"
	"context"
	"errors"
	"io"
)

// KeyHandler receives decoded key events.
type KeyHandler interface {
	HandleKey(ev KeyEvent)
}

// Feed reads runes from r, typically a terminal a keyboard-wedge scanner types
// into, and forwards them as key events. Carriage returns and newlines become
// Enter. It returns nil on EOF.
func Feed(ctx context.Context, r io.Reader, h KeyHandler) error {
	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ch, _, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch ch {
		case '\r', '\n':
			h.HandleKey(KeyEvent{Key: KeyEnter})
		case '\t':
			h.HandleKey(KeyEvent{Key: KeyTab})
		case 0x1b:
			h.HandleKey(KeyEvent{Key: KeyEscape})
		default:
			h.HandleKey(KeyEvent{Key: string(ch)})
		}
	}
}
