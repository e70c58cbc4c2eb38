package rtcmedia

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRemoteStream(t *testing.T) {
	r := NewRemoteStream()
	assert.NotNil(t, r)
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Tracks())
	assert.Zero(t, r.Packets())
}

func TestRemoteStream_ConcurrentReads(t *testing.T) {
	r := NewRemoteStream()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Tracks()
			_ = r.Len()
			_ = r.Packets()
		}()
	}
	wg.Wait()
}
