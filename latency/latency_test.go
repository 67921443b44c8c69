package latency

import (
	"testing"

	bc "backtestcore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantLatency(t *testing.T) {
	c := Constant{Entry: 10, Response: 20}
	var o bc.Order
	assert.Equal(t, int64(10), c.EntryLatency(o))
	assert.Equal(t, int64(20), c.ResponseLatency(o))
}

func TestConstantWithDelayAddsExtra(t *testing.T) {
	c := ConstantWithDelay{Constant: Constant{Entry: 10, Response: 20}, Extra: 5}
	var o bc.Order
	assert.Equal(t, int64(15), c.EntryLatency(o))
	assert.Equal(t, int64(25), c.ResponseLatency(o))
}

func TestChannelEmptyReturnsInfinity(t *testing.T) {
	c := NewChannel[int]()
	assert.Equal(t, Infinity, c.EarliestSendOrderTimestamp())
	assert.Equal(t, Infinity, c.EarliestRecvOrderTimestamp())
	assert.Zero(t, c.Len())
}

func TestChannelReceiveOrdersByReleaseTimestamp(t *testing.T) {
	c := NewChannel[string]()
	c.Request("second", 0, 20, nil)
	c.Request("first", 0, 10, nil)
	c.Request("third", 0, 30, nil)

	assert.Equal(t, int64(10), c.EarliestRecvOrderTimestamp())

	out := c.Receive(25)
	require.Equal(t, []string{"first", "second"}, out)
	assert.Equal(t, 1, c.Len())

	out = c.Receive(30)
	assert.Equal(t, []string{"third"}, out)
	assert.Zero(t, c.Len())
}

func TestChannelReceiveTiesBreakByInsertionOrder(t *testing.T) {
	c := NewChannel[string]()
	c.Request("a", 0, 10, nil)
	c.Request("b", 0, 10, nil)

	out := c.Receive(10)
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestChannelNegativeDelayRejectsImmediately(t *testing.T) {
	c := NewChannel[int]()
	rejected := false
	c.Request(42, 100, -1, func(p *int) {
		rejected = true
		*p = -1
	})

	assert.True(t, rejected)
	assert.Equal(t, int64(100), c.EarliestRecvOrderTimestamp(), "delivered with zero extra delay, at localTs")
	out := c.Receive(100)
	require.Len(t, out, 1)
	assert.Equal(t, -1, out[0])
}

func TestChannelEarliestSendOrderTimestampIsEnqueueTime(t *testing.T) {
	c := NewChannel[int]()
	c.Request(1, 50, 10, nil)
	assert.Equal(t, int64(50), c.EarliestSendOrderTimestamp())
	assert.Equal(t, int64(60), c.EarliestRecvOrderTimestamp())
}
