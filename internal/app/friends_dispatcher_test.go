package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"friendserver/internal/model"
	"friendserver/internal/protocol"
	"friendserver/internal/repository"
	"friendserver/internal/service"
	"friendserver/internal/session/sessiontest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenRepo fails or panics on every call once armed.
type brokenRepo struct {
	repository.FriendListRepository
	fail    bool
	explode bool
}

func (r *brokenRepo) FindByUsername(ctx context.Context, username string) (*model.FriendList, error) {
	if r.explode {
		panic("driver exploded")
	}
	if r.fail {
		return nil, errors.New("connection reset")
	}
	return r.FriendListRepository.FindByUsername(ctx, username)
}

type fixture struct {
	repo       *brokenRepo
	table      *sessiontest.Table
	dispatcher *FriendsDispatcher
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	mem := repository.NewMemoryFriendListRepository()
	for _, u := range users {
		require.NoError(t, mem.Create(context.Background(), u))
	}
	repo := &brokenRepo{FriendListRepository: mem}
	table := sessiontest.NewTable()
	d := NewFriendsDispatcher(table,
		service.NewFriendshipService(repo, table),
		service.NewNotificationService(repo, table),
		time.Second)
	return &fixture{repo: repo, table: table, dispatcher: d}
}

func (f *fixture) send(conn *sessiontest.Conn, tag protocol.Tag, target string) {
	f.dispatcher.Handle(conn, protocol.NewMessage(tag, protocol.NewWriter().WriteString(target)))
}

func onlyMessage(t *testing.T, conn *sessiontest.Conn) *protocol.Message {
	t.Helper()
	msgs := conn.Messages()
	require.Len(t, msgs, 1)
	conn.Reset()
	return msgs[0]
}

func errorByte(t *testing.T, msg *protocol.Message) protocol.ErrorCode {
	t.Helper()
	code, err := msg.Reader().ReadUint8()
	require.NoError(t, err)
	return protocol.ErrorCode(code)
}

func nameAndFlag(t *testing.T, msg *protocol.Message) (string, bool) {
	t.Helper()
	r := msg.Reader()
	name, err := r.ReadString()
	require.NoError(t, err)
	flag, err := r.ReadBool()
	require.NoError(t, err)
	return name, flag
}

func TestRequestAcceptFlow(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.table.Login("alice")
	bob := f.table.Login("bob")

	f.send(alice, protocol.FriendRequest, "bob")

	reply := onlyMessage(t, alice)
	assert.Equal(t, protocol.RequestSuccess, reply.Tag)
	name, err := reply.Reader().ReadString()
	require.NoError(t, err)
	assert.Equal(t, "bob", name)

	push := onlyMessage(t, bob)
	assert.Equal(t, protocol.FriendRequest, push.Tag)
	name, err = push.Reader().ReadString()
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	f.send(bob, protocol.AcceptRequest, "alice")

	reply = onlyMessage(t, bob)
	assert.Equal(t, protocol.AcceptRequestSuccess, reply.Tag)
	name, online := nameAndFlag(t, reply)
	assert.Equal(t, "alice", name)
	assert.True(t, online)

	push = onlyMessage(t, alice)
	assert.Equal(t, protocol.AcceptRequestSuccess, push.Tag)
	name, online = nameAndFlag(t, push)
	assert.Equal(t, "bob", name)
	assert.True(t, online)
}

func TestAcceptReportsOfflineRequester(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.table.Login("alice")
	bob := f.table.Login("bob")
	f.send(alice, protocol.FriendRequest, "bob")
	f.table.Logout("alice")
	alice.Reset()
	bob.Reset()

	f.send(bob, protocol.AcceptRequest, "alice")

	name, online := nameAndFlag(t, onlyMessage(t, bob))
	assert.Equal(t, "alice", name)
	assert.False(t, online)
	assert.Empty(t, alice.Messages())
}

func TestDeclineAndRemoveFlags(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.table.Login("alice")
	bob := f.table.Login("bob")

	f.send(alice, protocol.FriendRequest, "bob")
	alice.Reset()
	bob.Reset()
	f.send(bob, protocol.DeclineRequest, "alice")

	reply := onlyMessage(t, bob)
	assert.Equal(t, protocol.DeclineRequestSuccess, reply.Tag)
	name, initiator := nameAndFlag(t, reply)
	assert.Equal(t, "alice", name)
	assert.True(t, initiator)

	push := onlyMessage(t, alice)
	assert.Equal(t, protocol.DeclineRequestSuccess, push.Tag)
	name, initiator = nameAndFlag(t, push)
	assert.Equal(t, "bob", name)
	assert.False(t, initiator)

	f.send(alice, protocol.RemoveFriend, "bob")
	reply = onlyMessage(t, alice)
	assert.Equal(t, protocol.RemoveFriendSuccess, reply.Tag)
	_, initiator = nameAndFlag(t, reply)
	assert.True(t, initiator)
	push = onlyMessage(t, bob)
	assert.Equal(t, protocol.RemoveFriendSuccess, push.Tag)
	_, initiator = nameAndFlag(t, push)
	assert.False(t, initiator)
}

func TestTypedFailures(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.table.Login("alice")
	bob := f.table.Login("bob")

	f.send(alice, protocol.FriendRequest, "ghost")
	reply := onlyMessage(t, alice)
	assert.Equal(t, protocol.RequestFailed, reply.Tag)
	assert.Equal(t, protocol.TargetNotFound, errorByte(t, reply))

	f.send(alice, protocol.FriendRequest, "bob")
	alice.Reset()
	bob.Reset()
	f.send(alice, protocol.FriendRequest, "bob")
	reply = onlyMessage(t, alice)
	assert.Equal(t, protocol.AlreadyRelated, errorByte(t, reply))
	assert.Empty(t, bob.Messages())

	f.send(alice, protocol.AcceptRequest, "bob")
	reply = onlyMessage(t, alice)
	assert.Equal(t, protocol.AcceptRequestFailed, reply.Tag)
	assert.Equal(t, protocol.NoPendingRequest, errorByte(t, reply))

	f.send(alice, protocol.DeclineRequest, "bob")
	reply = onlyMessage(t, alice)
	assert.Equal(t, protocol.DeclineRequestFailed, reply.Tag)
	assert.Equal(t, protocol.NoPendingRequest, errorByte(t, reply))
	assert.Empty(t, bob.Messages())
}

func TestNotLoggedIn(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	anon := sessiontest.NewConn("anon", "")

	for tag, failed := range failedTags {
		f.send(anon, tag, "bob")
		reply := onlyMessage(t, anon)
		assert.Equal(t, failed, reply.Tag)
		assert.Equal(t, protocol.NotLoggedIn, errorByte(t, reply))
	}
}

func TestInvalidPayloads(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.table.Login("alice")

	// Truncated length prefix
	f.dispatcher.Handle(alice, &protocol.Message{Tag: protocol.FriendRequest, Payload: []byte{0, 0}})
	assert.Equal(t, protocol.InvalidPayload, errorByte(t, onlyMessage(t, alice)))

	// Empty username
	f.send(alice, protocol.RemoveFriend, "")
	reply := onlyMessage(t, alice)
	assert.Equal(t, protocol.RemoveFriendFailed, reply.Tag)
	assert.Equal(t, protocol.InvalidPayload, errorByte(t, reply))

	// Self-target
	f.send(alice, protocol.FriendRequest, "alice")
	assert.Equal(t, protocol.InvalidPayload, errorByte(t, onlyMessage(t, alice)))

	// Invalid UTF-8
	f.dispatcher.Handle(alice, &protocol.Message{Tag: protocol.AcceptRequest, Payload: []byte{0, 0, 0, 1, 0xff}})
	assert.Equal(t, protocol.InvalidPayload, errorByte(t, onlyMessage(t, alice)))

	list, err := f.repo.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, list.UnansweredFriendRequests)
}

func TestDatabaseErrors(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice := f.table.Login("alice")
	bob := f.table.Login("bob")

	f.repo.fail = true
	f.send(alice, protocol.FriendRequest, "bob")
	reply := onlyMessage(t, alice)
	assert.Equal(t, protocol.RequestFailed, reply.Tag)
	assert.Equal(t, protocol.DatabaseError, errorByte(t, reply))
	assert.Empty(t, bob.Messages())

	f.repo.fail = false
	f.repo.explode = true
	f.dispatcher.Handle(alice, protocol.NewMessage(protocol.GetAllFriends, nil))
	reply = onlyMessage(t, alice)
	assert.Equal(t, protocol.GetAllFriendsFailed, reply.Tag)
	assert.Equal(t, protocol.DatabaseError, errorByte(t, reply))
}

func TestGetAllFriendsMissingRecord(t *testing.T) {
	f := newFixture(t)
	alice := f.table.Login("alice")

	f.dispatcher.Handle(alice, protocol.NewMessage(protocol.GetAllFriends, nil))
	reply := onlyMessage(t, alice)
	assert.Equal(t, protocol.GetAllFriendsFailed, reply.Tag)
	assert.Equal(t, protocol.DatabaseError, errorByte(t, reply))
}

func TestGetAllFriends(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol", "dave", "erin")
	alice := f.table.Login("alice")
	bob := f.table.Login("bob")
	carol := f.table.Login("carol")
	dave := f.table.Login("dave")
	f.table.Login("erin")

	f.send(alice, protocol.FriendRequest, "bob")
	f.send(bob, protocol.AcceptRequest, "alice")
	f.send(alice, protocol.FriendRequest, "carol")
	f.send(carol, protocol.AcceptRequest, "alice")
	f.send(dave, protocol.FriendRequest, "alice")
	f.send(alice, protocol.FriendRequest, "erin")
	f.table.Logout("carol")
	alice.Reset()

	f.dispatcher.Handle(alice, protocol.NewMessage(protocol.GetAllFriends, nil))
	reply := onlyMessage(t, alice)
	require.Equal(t, protocol.GetAllFriends, reply.Tag)

	r := reply.Reader()
	var lists [4][]string
	for i := range lists {
		var err error
		lists[i], err = r.ReadStrings()
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"bob"}, lists[0])
	assert.Equal(t, []string{"carol"}, lists[1])
	assert.Equal(t, []string{"dave"}, lists[2])
	assert.Equal(t, []string{"erin"}, lists[3])
}

func TestIgnoresForeignAndOutboundTags(t *testing.T) {
	f := newFixture(t, "alice")
	alice := f.table.Login("alice")

	f.dispatcher.Handle(alice, protocol.NewMessage(protocol.Tag(3), nil))
	f.dispatcher.Handle(alice, protocol.NewMessage(protocol.FriendLoggedIn, nil))
	f.dispatcher.Handle(alice, protocol.NewMessage(protocol.RequestSuccess, nil))
	assert.Empty(t, alice.Messages())
}

func TestPresenceCallbackNotifiesFriends(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	alice := f.table.Login("alice")
	bob := f.table.Login("bob")
	carol := f.table.Login("carol")
	f.send(alice, protocol.FriendRequest, "bob")
	f.send(bob, protocol.AcceptRequest, "alice")
	bob.Reset()
	carol.Reset()

	f.table.Logout("alice")
	f.dispatcher.OnPresenceChange("alice", false)

	push := onlyMessage(t, bob)
	assert.Equal(t, protocol.FriendLoggedOut, push.Tag)
	name, err := push.Reader().ReadString()
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
	assert.Empty(t, carol.Messages())
}
