package termination

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlag_RaiseIsIdempotent(t *testing.T) {
	flag := New()
	require.False(t, flag.IsRaised())

	flag.Raise()
	flag.Raise()

	assert.True(t, flag.IsRaised())
	select {
	case <-flag.Done():
	default:
		t.Fatal("Done channel should be closed after Raise")
	}
}

func TestFlag_ConcurrentWaiters(t *testing.T) {
	flag := New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !flag.IsRaised() {
				time.Sleep(time.Millisecond)
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	flag.Raise()
	wg.Wait()
}
