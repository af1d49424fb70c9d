package redisbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingTrigger struct {
	ch chan struct{}
}

func (c *countingTrigger) Trigger() {
	select {
	case c.ch <- struct{}{}:
	default:
	}
}

func TestPublishWakesSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	bus := New(client, "test-channel", nil)
	target := &countingTrigger{ch: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go bus.Subscribe(ctx, target)
	time.Sleep(50 * time.Millisecond) // let the subscription establish

	bus.Publish(context.Background())

	select {
	case <-target.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger was not delivered")
	}
}
