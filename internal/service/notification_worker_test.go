package service

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"friendserver/internal/protocol"
	"friendserver/internal/session/sessiontest"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relayBody(t *testing.T, origin, username string, tag protocol.Tag) []byte {
	t.Helper()
	body, err := json.Marshal(RelayMessage{
		Origin:    origin,
		Username:  username,
		Tag:       uint16(tag),
		Payload:   protocol.NewWriter().WriteString("alice").Bytes(),
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	return body
}

func TestRelayDeliversToLocalUser(t *testing.T) {
	table := sessiontest.NewTable()
	bob := table.Login("bob")
	worker := NewNotificationWorker(nil, table, "instance-a")

	require.NoError(t, worker.processRelayMessage(relayBody(t, "instance-b", "bob", protocol.FriendRequest)))

	got := bob.Tagged(protocol.FriendRequest)
	require.Len(t, got, 1)
	name, err := got[0].Reader().ReadString()
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}

func TestRelaySkipsOwnAndUnknown(t *testing.T) {
	table := sessiontest.NewTable()
	bob := table.Login("bob")
	worker := NewNotificationWorker(nil, table, "instance-a")

	require.NoError(t, worker.processRelayMessage(relayBody(t, "instance-a", "bob", protocol.FriendRequest)))
	require.NoError(t, worker.processRelayMessage(relayBody(t, "instance-b", "carol", protocol.FriendRequest)))
	assert.Empty(t, bob.Messages())

	assert.Error(t, worker.processRelayMessage([]byte("{")))
}

func TestRelayResubscribesAfterChannelCloses(t *testing.T) {
	table := sessiontest.NewTable()
	bob := table.Login("bob")
	worker := NewNotificationWorker(nil, table, "instance-a")
	worker.retryDelay = time.Millisecond

	first := make(chan amqp.Delivery)
	second := make(chan amqp.Delivery, 1)
	var mu sync.Mutex
	calls := 0
	worker.subscribe = func() (<-chan amqp.Delivery, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1:
			return first, nil
		case 2:
			return nil, errors.New("broker unavailable")
		}
		return second, nil
	}

	require.NoError(t, worker.Start())
	t.Cleanup(worker.Stop)

	close(first)
	second <- amqp.Delivery{Body: relayBody(t, "instance-b", "bob", protocol.FriendRequest)}

	require.Eventually(t, func() bool {
		return len(bob.Tagged(protocol.FriendRequest)) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestRelayStopsWhileResubscribing(t *testing.T) {
	worker := NewNotificationWorker(nil, sessiontest.NewTable(), "instance-a")
	worker.retryDelay = time.Millisecond

	closed := make(chan amqp.Delivery)
	close(closed)
	var attempts atomic.Int32
	worker.subscribe = func() (<-chan amqp.Delivery, error) {
		if attempts.Add(1) == 1 {
			return closed, nil
		}
		return nil, errors.New("broker unavailable")
	}

	require.NoError(t, worker.Start())
	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, time.Second, time.Millisecond)

	worker.Stop()
	time.Sleep(20 * time.Millisecond)
	stopped := attempts.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, stopped, attempts.Load())
}
