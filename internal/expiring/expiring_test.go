package expiring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetPutDelete(t *testing.T) {
	m := NewMap[string, int](time.Minute)

	m.Put("a", 1)
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, m.Delete("a"))
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.False(t, m.Delete("a"))
}

func TestLazyExpiry(t *testing.T) {
	now := time.Now()
	m := NewMap(time.Minute, WithNow[string, int](func() time.Time { return now }))

	m.Put("a", 1)

	now = now.Add(59 * time.Second)
	_, ok := m.Get("a")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = m.Get("a")
	assert.False(t, ok, "entry past TTL must read as absent")
	assert.Equal(t, 0, m.Len(), "expired entry must be purged on lookup")
}

func TestPutIfAbsent(t *testing.T) {
	now := time.Now()
	m := NewMap(30*time.Second, WithNow[string, bool](func() time.Time { return now }))

	assert.True(t, m.PutIfAbsent("k", true))
	assert.False(t, m.PutIfAbsent("k", true), "live entry blocks a second acquire")

	// Once the entry expires the key can be acquired again.
	now = now.Add(31 * time.Second)
	assert.True(t, m.PutIfAbsent("k", true))
}

func TestPutIfAbsent_Concurrent(t *testing.T) {
	m := NewMap[string, bool](time.Minute)

	const n = 64
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.PutIfAbsent("same-key", true) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one goroutine may acquire the key")
}

func TestSweep(t *testing.T) {
	now := time.Now()
	m := NewMap(time.Minute, WithNow[int, string](func() time.Time { return now }))

	m.Put(1, "x")
	m.Put(2, "y")
	now = now.Add(2 * time.Minute)
	m.Put(3, "z")

	assert.Equal(t, 2, m.Sweep())
	assert.Equal(t, 1, m.Len())
}
