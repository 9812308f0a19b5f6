package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New[string](4)
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish("hello")

	assert.Equal(t, "hello", <-a.Ch)
	assert.Equal(t, "hello", <-c.Ch)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New[int](1)
	sub := b.Subscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Ch
	assert.False(t, ok)
}

func TestPublishIsFIFOPerSubscriber(t *testing.T) {
	b := New[int](4)
	sub := b.Subscribe()

	for i := 0; i < 3; i++ {
		b.Publish(i)
	}

	for i := 0; i < 3; i++ {
		v, ok := <-sub.Ch
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestPublishDropsOldestWhenSubscriberFull(t *testing.T) {
	b := New[int](1)
	sub := b.Subscribe()

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 2, <-sub.Ch, "newest value should win when the buffer is full")
}

func TestCloseClosesEverySubscriber(t *testing.T) {
	b := New[int](1)
	a := b.Subscribe()
	c := b.Subscribe()
	b.Close()

	_, okA := <-a.Ch
	_, okC := <-c.Ch
	assert.False(t, okA)
	assert.False(t, okC)
}
