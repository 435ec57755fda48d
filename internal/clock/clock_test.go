package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("fires due timers in deadline order", func(t *testing.T) {
		clk := NewFake(start)
		var fired []string

		clk.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "b") })
		clk.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "a") })
		clk.AfterFunc(time.Second, func() { fired = append(fired, "c") })

		clk.Advance(500 * time.Millisecond)

		assert.Equal(t, []string{"a", "b"}, fired)
		assert.Equal(t, 1, clk.Pending())
		assert.Equal(t, start.Add(500*time.Millisecond), clk.Now())
	})

	t.Run("stopped timers never fire", func(t *testing.T) {
		clk := NewFake(start)
		fired := false

		timer := clk.AfterFunc(time.Millisecond, func() { fired = true })
		assert.True(t, timer.Stop())
		assert.False(t, timer.Stop())

		clk.Advance(time.Second)
		assert.False(t, fired)
	})

	t.Run("timers scheduled by callbacks fire within the same advance", func(t *testing.T) {
		clk := NewFake(start)
		var at []time.Time

		clk.AfterFunc(100*time.Millisecond, func() {
			at = append(at, clk.Now())
			clk.AfterFunc(100*time.Millisecond, func() {
				at = append(at, clk.Now())
			})
		})

		clk.Advance(time.Second)

		assert.Equal(t, []time.Time{
			start.Add(100 * time.Millisecond),
			start.Add(200 * time.Millisecond),
		}, at)
	})
}
