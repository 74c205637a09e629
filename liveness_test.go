package rudp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rudp/packet"
)

// TestTripDisconnectClosesEndpoint exercises the same path the liveness
// task takes on a timed-out peer, without waiting the full
// LivenessTimeout: tripDisconnect must close the endpoint exactly as
// Close would, asynchronously so it never deadlocks against the
// goroutine that calls it.
func TestTripDisconnectClosesEndpoint(t *testing.T) {
	ctx := testContext(t)
	client, server := connectPair(t)
	_ = client

	server.tripDisconnect(ctx)

	require.Eventually(t, func() bool {
		return !server.Connected()
	}, 2*time.Second, 10*time.Millisecond, "tripDisconnect should close the endpoint")
}

func TestQueuePingBuildsCorrectFrame(t *testing.T) {
	ctx := testContext(t)
	ep := bindLoopback(t, ctx)

	ep.queuePing()
	assert.Equal(t, 1, ep.sendQ.Len())

	item, ok := ep.sendQ.PopWait()
	require.True(t, ok)
	assert.Equal(t, packet.PING, item.Type)
}
