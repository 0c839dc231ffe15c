package clock

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(time.Unix(0, 0))

	var fired []string
	c.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "late") })
	c.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "early") })
	assert.Equal(t, c.Pending(), 2)

	c.Advance(150 * time.Millisecond)
	assert.Equal(t, fired, []string{"early"})

	c.Advance(50 * time.Millisecond)
	assert.Equal(t, fired, []string{"early", "late"})
	assert.Equal(t, c.Pending(), 0)
	assert.Equal(t, c.Now(), time.Unix(0, 0).Add(200*time.Millisecond))
}

func TestStoppedTimerDoesNotFire(t *testing.T) {
	c := Fake(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	assert.Equal(t, timer.Stop(), true)
	assert.Equal(t, timer.Stop(), false)

	c.Advance(2 * time.Second)
	assert.Equal(t, fired, false)
}

func TestCallbackSeesDeadline(t *testing.T) {
	c := Fake(time.Unix(0, 0))

	var at time.Time
	c.AfterFunc(700*time.Millisecond, func() { at = c.Now() })
	c.Advance(time.Second)

	assert.Equal(t, at, time.Unix(0, 0).Add(700*time.Millisecond))
}

func TestTickerDropsWhenFull(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(100 * time.Millisecond)
	defer tk.Stop()

	c.Advance(350 * time.Millisecond)

	first := <-tk.C
	assert.Equal(t, first, time.Unix(0, 0).Add(100*time.Millisecond))
	select {
	case <-tk.C:
		t.Fatal("ticker buffered more than one tick")
	default:
	}

	c.Advance(50 * time.Millisecond)
	assert.Equal(t, <-tk.C, time.Unix(0, 0).Add(400*time.Millisecond))
}

func TestStoppedTickerIsNotPending(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	assert.Equal(t, c.Pending(), 1)

	tk.Stop()
	assert.Equal(t, c.Pending(), 0)
}
