package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionStateSafeUnderConcurrentClose(t *testing.T) {
	c := New("key", "ws://127.0.0.1:0", []string{"BTCUSDT"}, time.Millisecond, time.Minute).(*Client)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Close()
			_ = c.IsConnected()
			_ = c.current()
		}()
	}
	wg.Wait()

	assert.False(t, c.IsConnected())
	assert.Nil(t, c.current())
}

func TestSubscribeRequiresConnection(t *testing.T) {
	c := New("key", "ws://127.0.0.1:0", []string{"BTCUSDT"}, time.Millisecond, time.Minute)
	assert.Error(t, c.Subscribe(context.Background()))
}
