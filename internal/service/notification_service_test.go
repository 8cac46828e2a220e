package service

import (
	"context"
	"sync"
	"testing"

	"friendserver/internal/protocol"
	"friendserver/internal/repository"
	"friendserver/internal/session/sessiontest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRelay struct {
	mu   sync.Mutex
	sent map[string][]protocol.Tag
}

func (r *recordingRelay) Publish(ctx context.Context, username string, msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[string][]protocol.Tag)
	}
	r.sent[username] = append(r.sent[username], msg.Tag)
	return nil
}

func TestNotifyOnlineUser(t *testing.T) {
	table := sessiontest.NewTable()
	bob := table.Login("bob")
	notifier := NewNotificationService(repository.NewMemoryFriendListRepository(), table)

	msg := protocol.NewMessage(protocol.FriendRequest, protocol.NewWriter().WriteString("alice"))
	assert.True(t, notifier.Notify(context.Background(), "bob", msg))
	assert.Len(t, bob.Tagged(protocol.FriendRequest), 1)
}

func TestNotifyOfflineUser(t *testing.T) {
	table := sessiontest.NewTable()
	notifier := NewNotificationService(repository.NewMemoryFriendListRepository(), table)
	msg := protocol.NewMessage(protocol.FriendRequest, protocol.NewWriter().WriteString("alice"))

	assert.False(t, notifier.Notify(context.Background(), "bob", msg))

	relay := &recordingRelay{}
	notifier.SetRelay(relay)
	assert.False(t, notifier.Notify(context.Background(), "bob", msg))
	assert.Equal(t, []protocol.Tag{protocol.FriendRequest}, relay.sent["bob"])
}

func TestNotifyClosedConnection(t *testing.T) {
	table := sessiontest.NewTable()
	table.Login("bob").Close()
	notifier := NewNotificationService(repository.NewMemoryFriendListRepository(), table)

	msg := protocol.NewMessage(protocol.FriendRequest, nil)
	assert.False(t, notifier.Notify(context.Background(), "bob", msg))
}

func TestBroadcastPresenceReachesOnlineFriendsOnly(t *testing.T) {
	ctx := context.Background()
	svc, repo, table := newFixture(t, "alice", "bob", "carol", "dave")
	require.NoError(t, svc.ForceFriends(ctx, "alice", "bob"))
	require.NoError(t, svc.ForceFriends(ctx, "alice", "carol"))
	require.NoError(t, svc.SendRequest(ctx, "dave", "alice"))
	bob := table.Login("bob")
	dave := table.Login("dave")
	notifier := NewNotificationService(repo, table)

	require.NoError(t, notifier.BroadcastPresence(ctx, "alice", false))

	got := bob.Tagged(protocol.FriendLoggedOut)
	require.Len(t, got, 1)
	name, err := got[0].Reader().ReadString()
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
	assert.Empty(t, dave.Messages())

	require.NoError(t, notifier.BroadcastPresence(ctx, "alice", true))
	assert.Len(t, bob.Tagged(protocol.FriendLoggedIn), 1)
}

func TestBroadcastPresenceUnknownUser(t *testing.T) {
	notifier := NewNotificationService(repository.NewMemoryFriendListRepository(), sessiontest.NewTable())
	assert.NoError(t, notifier.BroadcastPresence(context.Background(), "ghost", true))
}
