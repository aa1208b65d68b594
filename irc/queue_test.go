package irc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

func TestQueueOrder(t *testing.T) {
	q := newCommandQueue()
	base := time.Now()

	cmd := func(verb string, priority int, age time.Duration) network.Command {
		return network.Command{Verb: verb, Priority: priority, CreatedAt: base.Add(-age)}
	}

	q.Push(cmd("low-new", 0, 0))
	q.Push(cmd("low-old", 0, time.Second))
	q.Push(cmd("high", 1024, 0))
	q.Push(cmd("negative", -1, time.Hour))
	q.Push(cmd("low-new-second", 0, 0))

	var order []string
	for q.Len() > 0 {
		c, ok := q.Pop(nil)
		require.True(t, ok)
		order = append(order, c.Verb)
	}
	assert.Equal(t, []string{"high", "low-old", "low-new", "low-new-second", "negative"}, order)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newCommandQueue()
	got := make(chan network.Command, 1)

	go func() {
		c, ok := q.Pop(nil)
		if ok {
			got <- c
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned from an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(network.NewCommand("PING", "x"))
	select {
	case c := <-got:
		assert.Equal(t, "PING", c.Verb)
	case <-time.After(time.Second):
		t.Fatal("Pop didn't wake up")
	}
}

func TestQueueQuit(t *testing.T) {
	q := newCommandQueue()
	quit := make(chan struct{})
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Pop(quit)
		done <- ok
	}()

	close(quit)
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop ignored quit")
	}
}

func TestQueueClose(t *testing.T) {
	q := newCommandQueue()
	require.True(t, q.Push(network.NewCommand("PING", "x")))

	q.Close()
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Push(network.NewCommand("PING", "y")))

	_, ok := q.Pop(nil)
	assert.False(t, ok)
}
