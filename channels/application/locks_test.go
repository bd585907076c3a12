package application

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLocker_SerializesPerKey(t *testing.T) {
	l := newKeyedLocker()
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("a")
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
	assert.Zero(t, l.size())
}

func TestKeyedLocker_IndependentKeys(t *testing.T) {
	l := newKeyedLocker()
	unlockA := l.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}

func TestCancellationHub(t *testing.T) {
	h := NewCancellationHub()
	a, releaseA := h.Watch("t1", "i1")
	b, releaseB := h.Watch("t1", "i1")
	other, releaseOther := h.Watch("t2", "i1")
	defer releaseOther()

	releaseB()
	releaseB()
	assert.Equal(t, 1, h.Cancel("t1", "i1"))

	select {
	case <-a:
	default:
		t.Fatal("watcher not cancelled")
	}
	select {
	case <-b:
		t.Fatal("released watcher was cancelled")
	case <-other:
		t.Fatal("other tenant cancelled")
	default:
	}
	releaseA()
	assert.Zero(t, h.Cancel("t1", "i1"))
}
