package guard

import (
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestLatchIsSticky(t *testing.T) {
	g := New()
	assert.Equal(t, g.IsEditing("a"), false)

	g.MarkEditing("a")
	g.MarkEditing("a")
	assert.Equal(t, g.IsEditing("a"), true)
	assert.Equal(t, g.IsEditing("b"), false)
	assert.Equal(t, g.Len(), 1)

	g.MarkEditing("")
	assert.Equal(t, g.Len(), 1)
}

func TestConcurrentReaders(t *testing.T) {
	g := New()
	g.MarkEditing("x")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !g.IsEditing("x") {
					t.Error("latch lost")
					return
				}
			}
		}()
	}
	wg.Wait()
}
