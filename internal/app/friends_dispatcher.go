package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"friendserver/internal/logger"
	"friendserver/internal/monitoring"
	"friendserver/internal/protocol"
	"friendserver/internal/service"
	"friendserver/internal/session"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const usernameRule = "required,max=64"

var errInvalidPayload = errors.New("invalid payload")

// failedTags maps each inbound subject to the subject of its failure reply.
var failedTags = map[protocol.Tag]protocol.Tag{
	protocol.FriendRequest:  protocol.RequestFailed,
	protocol.AcceptRequest:  protocol.AcceptRequestFailed,
	protocol.DeclineRequest: protocol.DeclineRequestFailed,
	protocol.RemoveFriend:   protocol.RemoveFriendFailed,
	protocol.GetAllFriends:  protocol.GetAllFriendsFailed,
}

// outcome is what a successful operation sends: one reply to the
// initiator and at most one push to the target.
type outcome struct {
	reply  *protocol.Message
	target string
	push   *protocol.Message
}

// FriendsDispatcher decodes friends subjects, runs the matching workflow
// and answers the initiator exactly once.
type FriendsDispatcher struct {
	sessions          session.Sessions
	friendshipService service.FriendshipService
	notifier          service.NotificationService
	validate          *validator.Validate
	storeTimeout      time.Duration
}

func NewFriendsDispatcher(
	sessions session.Sessions,
	friendshipService service.FriendshipService,
	notifier service.NotificationService,
	storeTimeout time.Duration,
) *FriendsDispatcher {
	return &FriendsDispatcher{
		sessions:          sessions,
		friendshipService: friendshipService,
		notifier:          notifier,
		validate:          validator.New(),
		storeTimeout:      storeTimeout,
	}
}

// Handle processes one inbound message. Tags outside the friends block and
// outbound-only friends subjects are ignored.
func (d *FriendsDispatcher) Handle(conn session.Conn, msg *protocol.Message) {
	if !protocol.IsFriendsTag(msg.Tag) {
		return
	}
	failed, ok := failedTags[msg.Tag]
	if !ok {
		logger.Log.Debug("ignoring outbound-only subject", zap.Stringer("subject", msg.Tag), zap.String("conn", conn.ID()))
		return
	}

	started := time.Now()
	replied := false
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("friends handler panicked",
				zap.Stringer("subject", msg.Tag),
				zap.String("conn", conn.ID()),
				zap.Any("panic", r))
			if !replied {
				d.reply(conn, failure(failed, protocol.DatabaseError))
			}
			monitoring.ObserveOperation(msg.Tag.String(), protocol.DatabaseError.String(), started)
		}
	}()

	if !d.sessions.IsAuthenticated(conn) {
		replied = true
		d.reply(conn, failure(failed, protocol.NotLoggedIn))
		monitoring.ObserveOperation(msg.Tag.String(), protocol.NotLoggedIn.String(), started)
		return
	}
	requester := d.sessions.UsernameOf(conn)

	ctx, cancel := context.WithTimeout(context.Background(), d.storeTimeout)
	defer cancel()

	out, target, err := d.route(ctx, requester, msg)
	if err != nil {
		code := errorCode(err)
		if code == protocol.DatabaseError {
			logger.Log.Error("friends operation failed",
				zap.Stringer("subject", msg.Tag),
				zap.String("requester", requester),
				zap.String("target", target),
				zap.Error(err))
		} else {
			logger.Log.Debug("friends operation rejected",
				zap.Stringer("subject", msg.Tag),
				zap.String("requester", requester),
				zap.String("target", target),
				zap.Stringer("code", code))
		}
		replied = true
		d.reply(conn, failure(failed, code))
		monitoring.ObserveOperation(msg.Tag.String(), code.String(), started)
		return
	}

	replied = true
	d.reply(conn, out.reply)
	if out.push != nil {
		d.notifier.Notify(ctx, out.target, out.push)
	}
	monitoring.ObserveOperation(msg.Tag.String(), "ok", started)
}

// route runs the operation for msg. It also returns the decoded target so
// failures can be logged with both usernames.
func (d *FriendsDispatcher) route(ctx context.Context, requester string, msg *protocol.Message) (*outcome, string, error) {
	if msg.Tag == protocol.GetAllFriends {
		out, err := d.getAllFriends(ctx, requester)
		return out, "", err
	}

	target, err := d.readTarget(msg, requester)
	if err != nil {
		return nil, "", err
	}

	var out *outcome
	switch msg.Tag {
	case protocol.FriendRequest:
		out, err = d.friendRequest(ctx, requester, target)
	case protocol.AcceptRequest:
		out, err = d.acceptRequest(ctx, requester, target)
	case protocol.DeclineRequest:
		out, err = d.declineRequest(ctx, requester, target)
	case protocol.RemoveFriend:
		out, err = d.removeFriend(ctx, requester, target)
	default:
		panic(fmt.Sprintf("no route for %s", msg.Tag))
	}
	return out, target, err
}

func (d *FriendsDispatcher) friendRequest(ctx context.Context, requester, target string) (*outcome, error) {
	if err := d.friendshipService.SendRequest(ctx, requester, target); err != nil {
		return nil, err
	}
	return &outcome{
		reply:  protocol.NewMessage(protocol.RequestSuccess, protocol.NewWriter().WriteString(target)),
		target: target,
		push:   protocol.NewMessage(protocol.FriendRequest, protocol.NewWriter().WriteString(requester)),
	}, nil
}

func (d *FriendsDispatcher) acceptRequest(ctx context.Context, requester, target string) (*outcome, error) {
	if err := d.friendshipService.AcceptRequest(ctx, requester, target); err != nil {
		return nil, err
	}
	_, online := d.sessions.ConnectionOf(target)
	return &outcome{
		reply: protocol.NewMessage(protocol.AcceptRequestSuccess,
			protocol.NewWriter().WriteString(target).WriteBool(online)),
		target: target,
		// The accepter is online by definition.
		push: protocol.NewMessage(protocol.AcceptRequestSuccess,
			protocol.NewWriter().WriteString(requester).WriteBool(true)),
	}, nil
}

func (d *FriendsDispatcher) declineRequest(ctx context.Context, requester, target string) (*outcome, error) {
	if err := d.friendshipService.DeclineRequest(ctx, requester, target); err != nil {
		return nil, err
	}
	return &outcome{
		reply: protocol.NewMessage(protocol.DeclineRequestSuccess,
			protocol.NewWriter().WriteString(target).WriteBool(true)),
		target: target,
		push: protocol.NewMessage(protocol.DeclineRequestSuccess,
			protocol.NewWriter().WriteString(requester).WriteBool(false)),
	}, nil
}

func (d *FriendsDispatcher) removeFriend(ctx context.Context, requester, target string) (*outcome, error) {
	if err := d.friendshipService.RemoveFriend(ctx, requester, target); err != nil {
		return nil, err
	}
	return &outcome{
		reply: protocol.NewMessage(protocol.RemoveFriendSuccess,
			protocol.NewWriter().WriteString(target).WriteBool(true)),
		target: target,
		push: protocol.NewMessage(protocol.RemoveFriendSuccess,
			protocol.NewWriter().WriteString(requester).WriteBool(false)),
	}, nil
}

func (d *FriendsDispatcher) getAllFriends(ctx context.Context, requester string) (*outcome, error) {
	rel, err := d.friendshipService.ListRelationships(ctx, requester)
	if err != nil {
		return nil, err
	}
	w := protocol.NewWriter().
		WriteStrings(rel.OnlineFriends).
		WriteStrings(rel.OfflineFriends).
		WriteStrings(rel.OpenRequests).
		WriteStrings(rel.UnansweredRequests)
	return &outcome{reply: protocol.NewMessage(protocol.GetAllFriends, w)}, nil
}

// readTarget decodes and validates the single username payload.
func (d *FriendsDispatcher) readTarget(msg *protocol.Message, requester string) (string, error) {
	target, err := msg.Reader().ReadString()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if err := d.validate.Var(target, usernameRule); err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if target == requester {
		return "", fmt.Errorf("%w: target is the requester", errInvalidPayload)
	}
	return target, nil
}

func (d *FriendsDispatcher) reply(conn session.Conn, msg *protocol.Message) {
	if err := conn.Send(msg); err != nil {
		logger.Log.Debug("reply dropped", zap.String("conn", conn.ID()), zap.Stringer("subject", msg.Tag), zap.Error(err))
	}
}

// OnPresenceChange is the hub's presence callback: friends of a user who
// logs in or out are told about it.
func (d *FriendsDispatcher) OnPresenceChange(username string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), d.storeTimeout)
	defer cancel()
	if err := d.notifier.BroadcastPresence(ctx, username, online); err != nil {
		logger.Log.Error("presence broadcast failed",
			zap.String("username", username),
			zap.Bool("online", online),
			zap.Error(err))
	}
}

func failure(tag protocol.Tag, code protocol.ErrorCode) *protocol.Message {
	return protocol.NewMessage(tag, protocol.NewWriter().WriteUint8(byte(code)))
}

func errorCode(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, errInvalidPayload):
		return protocol.InvalidPayload
	case errors.Is(err, service.ErrTargetNotFound):
		return protocol.TargetNotFound
	case errors.Is(err, service.ErrAlreadyRelated):
		return protocol.AlreadyRelated
	case errors.Is(err, service.ErrNoPendingRequest):
		return protocol.NoPendingRequest
	default:
		// Store faults, timeouts and a missing requester record.
		return protocol.DatabaseError
	}
}
