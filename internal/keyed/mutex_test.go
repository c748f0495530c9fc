package keyed

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutexSerializesSameKey(t *testing.T) {
	m := New()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("alice")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	require.Equal(t, 200, counter)
	require.Zero(t, m.Len(), "entries must be released after use")
}

func TestMutexIndependentKeys(t *testing.T) {
	m := New()
	unlockA := m.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := m.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	require.Equal(t, 1, m.Len())
	unlockA()
	unlockA()
	require.Zero(t, m.Len())
}
