package service

import (
	"context"
	"errors"
	"fmt"

	"friendserver/internal/logger"
	"friendserver/internal/monitoring"
	"friendserver/internal/protocol"
	"friendserver/internal/repository"
	"friendserver/internal/session"

	"go.uber.org/zap"
)

// Relay carries a notification to other server instances when the
// recipient is not connected here.
type Relay interface {
	Publish(ctx context.Context, username string, msg *protocol.Message) error
}

// NotificationService pushes messages to users who are online. Offline
// users get nothing; they see the new state on their next GetAllFriends.
type NotificationService interface {
	// Notify delivers msg to username if connected and reports whether a
	// local connection took it.
	Notify(ctx context.Context, username string, msg *protocol.Message) bool
	// BroadcastPresence tells username's online friends that username
	// logged in or out.
	BroadcastPresence(ctx context.Context, username string, online bool) error
	SetRelay(relay Relay)
}

type notificationService struct {
	friendListRepo repository.FriendListRepository
	presence       session.Presence
	relay          Relay
}

func NewNotificationService(
	friendListRepo repository.FriendListRepository,
	presence session.Presence,
) NotificationService {
	return &notificationService{
		friendListRepo: friendListRepo,
		presence:       presence,
	}
}

// SetRelay enables cross-instance delivery
func (s *notificationService) SetRelay(relay Relay) {
	s.relay = relay
}

func (s *notificationService) Notify(ctx context.Context, username string, msg *protocol.Message) bool {
	if conn, ok := s.presence.ConnectionOf(username); ok {
		if err := conn.Send(msg); err != nil {
			logger.Log.Warn("push failed",
				zap.String("username", username),
				zap.Stringer("subject", msg.Tag),
				zap.Error(err))
			return false
		}
		monitoring.Notifications.WithLabelValues(msg.Tag.String(), "local").Inc()
		return true
	}

	if s.relay != nil {
		if err := s.relay.Publish(ctx, username, msg); err != nil {
			logger.Log.Warn("relay publish failed", zap.String("username", username), zap.Error(err))
		} else {
			monitoring.Notifications.WithLabelValues(msg.Tag.String(), "relay").Inc()
		}
	}
	return false
}

func (s *notificationService) BroadcastPresence(ctx context.Context, username string, online bool) error {
	list, err := s.friendListRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load friend list of %s: %w", username, err)
	}

	tag := protocol.FriendLoggedOut
	if online {
		tag = protocol.FriendLoggedIn
	}
	msg := protocol.NewMessage(tag, protocol.NewWriter().WriteString(username))

	delivered := 0
	for _, friend := range list.Friends {
		if s.Notify(ctx, friend, msg) {
			delivered++
		}
	}

	logger.Log.Debug("presence broadcast",
		zap.String("username", username),
		zap.Bool("online", online),
		zap.Int("delivered", delivered))
	return nil
}
