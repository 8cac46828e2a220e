package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"friendserver/internal/logger"
	"friendserver/internal/model"
	"friendserver/internal/repository"
	"friendserver/internal/session"

	"go.uber.org/zap"
)

var (
	ErrTargetNotFound   = errors.New("target user not found")
	ErrAlreadyRelated   = errors.New("users are already friends or have an open request")
	ErrNoPendingRequest = errors.New("no pending friend request from target")
)

// Relationships is a user's friend graph as returned to the client.
type Relationships struct {
	OnlineFriends      []string
	OfflineFriends     []string
	OpenRequests       []string
	UnansweredRequests []string
}

// FriendshipService applies the request/accept/decline/remove transitions.
//
// Every mutation is a sequence of single-record updates with no
// compensation: if a later update fails the earlier ones stay applied and
// the caller gets the error. Operations on the same pair of users are
// serialized in-process.
type FriendshipService interface {
	SendRequest(ctx context.Context, requester, target string) error
	AcceptRequest(ctx context.Context, requester, target string) error
	DeclineRequest(ctx context.Context, requester, target string) error
	RemoveFriend(ctx context.Context, requester, target string) error
	ListRelationships(ctx context.Context, requester string) (*Relationships, error)

	// ForceFriends makes a and b friends without a request.
	ForceFriends(ctx context.Context, a, b string) error
	// ForceRemove clears every relationship between a and b.
	ForceRemove(ctx context.Context, a, b string) error
}

type friendshipService struct {
	friendListRepo repository.FriendListRepository
	presence       session.Presence
	locks          *pairLocker
}

func NewFriendshipService(
	friendListRepo repository.FriendListRepository,
	presence session.Presence,
) FriendshipService {
	return &friendshipService{
		friendListRepo: friendListRepo,
		presence:       presence,
		locks:          newPairLocker(),
	}
}

// SendRequest records a request from requester to target.
func (s *friendshipService) SendRequest(ctx context.Context, requester, target string) error {
	defer s.locks.Lock(requester, target)()

	targetList, err := s.friendListRepo.FindByUsername(ctx, target)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTargetNotFound
		}
		return fmt.Errorf("load friend list of %s: %w", target, err)
	}

	requesterList, err := s.friendListRepo.FindByUsername(ctx, requester)
	if err != nil {
		return fmt.Errorf("load friend list of %s: %w", requester, err)
	}

	requesterState := requesterList.Edge(target)
	targetState := targetList.Edge(requester)
	if requesterState != targetState.Mirror() {
		logger.Log.Warn("asymmetric relationship records",
			zap.String("requester", requester),
			zap.String("target", target),
			zap.Stringer("requester_state", requesterState),
			zap.Stringer("target_state", targetState))
	}
	if requesterState != model.EdgeNone || targetState != model.EdgeNone {
		logger.Log.Debug("friend request refused",
			zap.String("from", requester),
			zap.String("to", target),
			zap.Stringer("state", requesterState))
		return ErrAlreadyRelated
	}

	if err := s.addRequests(ctx, requester, target); err != nil {
		return err
	}

	logger.Log.Debug("friend request sent", zap.String("from", requester), zap.String("to", target))
	return nil
}

// AcceptRequest turns target's pending request to requester into a friendship.
func (s *friendshipService) AcceptRequest(ctx context.Context, requester, target string) error {
	defer s.locks.Lock(requester, target)()

	if err := s.requirePendingFrom(ctx, requester, target); err != nil {
		return err
	}
	if err := s.removeRequests(ctx, requester, target); err != nil {
		return err
	}
	if err := s.addFriends(ctx, requester, target); err != nil {
		return err
	}

	logger.Log.Debug("friend request accepted", zap.String("by", requester), zap.String("from", target))
	return nil
}

// DeclineRequest drops target's pending request to requester.
func (s *friendshipService) DeclineRequest(ctx context.Context, requester, target string) error {
	defer s.locks.Lock(requester, target)()

	if err := s.requirePendingFrom(ctx, requester, target); err != nil {
		return err
	}
	if err := s.removeRequests(ctx, requester, target); err != nil {
		return err
	}

	logger.Log.Debug("friend request declined", zap.String("by", requester), zap.String("from", target))
	return nil
}

// RemoveFriend clears any relationship between requester and target.
// Stale one-sided entries are cleared too, so it succeeds on any state.
func (s *friendshipService) RemoveFriend(ctx context.Context, requester, target string) error {
	defer s.locks.Lock(requester, target)()

	if err := s.clearPair(ctx, requester, target); err != nil {
		return err
	}

	logger.Log.Debug("friend removed", zap.String("by", requester), zap.String("target", target))
	return nil
}

// ListRelationships returns requester's friends split by presence plus
// both request lists. Every list is sorted.
func (s *friendshipService) ListRelationships(ctx context.Context, requester string) (*Relationships, error) {
	list, err := s.friendListRepo.FindByUsername(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("load friend list of %s: %w", requester, err)
	}

	rel := &Relationships{
		OnlineFriends:      []string{},
		OfflineFriends:     []string{},
		OpenRequests:       sortedCopy(list.OpenFriendRequests),
		UnansweredRequests: sortedCopy(list.UnansweredFriendRequests),
	}
	for _, friend := range list.Friends {
		if _, online := s.presence.ConnectionOf(friend); online {
			rel.OnlineFriends = append(rel.OnlineFriends, friend)
		} else {
			rel.OfflineFriends = append(rel.OfflineFriends, friend)
		}
	}
	sort.Strings(rel.OnlineFriends)
	sort.Strings(rel.OfflineFriends)

	logger.Log.Debug("listed friends", zap.String("username", requester), zap.Int("friends", len(list.Friends)))
	return rel, nil
}

func (s *friendshipService) ForceFriends(ctx context.Context, a, b string) error {
	defer s.locks.Lock(a, b)()

	for _, name := range []string{a, b} {
		if _, err := s.friendListRepo.FindByUsername(ctx, name); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTargetNotFound
			}
			return fmt.Errorf("load friend list of %s: %w", name, err)
		}
	}

	// Pending entries in either direction would leave the pair in two states.
	if err := s.removeRequests(ctx, a, b); err != nil {
		return err
	}
	if err := s.removeRequests(ctx, b, a); err != nil {
		return err
	}
	if err := s.addFriends(ctx, a, b); err != nil {
		return err
	}

	logger.Log.Info("friendship added by admin", zap.String("a", a), zap.String("b", b))
	return nil
}

func (s *friendshipService) ForceRemove(ctx context.Context, a, b string) error {
	defer s.locks.Lock(a, b)()

	if err := s.clearPair(ctx, a, b); err != nil {
		return err
	}

	logger.Log.Info("relationship cleared by admin", zap.String("a", a), zap.String("b", b))
	return nil
}

func (s *friendshipService) requirePendingFrom(ctx context.Context, requester, target string) error {
	list, err := s.friendListRepo.FindByUsername(ctx, requester)
	if err != nil {
		return fmt.Errorf("load friend list of %s: %w", requester, err)
	}
	if !list.Has(model.FieldOpen, target) {
		return ErrNoPendingRequest
	}
	return nil
}

// clearPair removes every entry that links a and b. It does not look at
// the records first: a cached snapshot may miss an entry the store still
// holds, and removing an absent value is a no-op. A missing record is
// treated as empty.
func (s *friendshipService) clearPair(ctx context.Context, a, b string) error {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		owner, other := pair[0], pair[1]
		for _, field := range model.Fields {
			err := s.friendListRepo.RemoveFromSet(ctx, owner, field, other)
			if errors.Is(err, repository.ErrNotFound) {
				break
			}
			if err != nil {
				return fmt.Errorf("remove %s from %s of %s: %w", other, field, owner, err)
			}
		}
	}
	return nil
}

// DB helpers. Each issues two single-record updates back to back.

func (s *friendshipService) addRequests(ctx context.Context, sender, receiver string) error {
	if err := s.friendListRepo.AddToSet(ctx, receiver, model.FieldOpen, sender); err != nil {
		return fmt.Errorf("add open request on %s: %w", receiver, err)
	}
	if err := s.friendListRepo.AddToSet(ctx, sender, model.FieldUnanswered, receiver); err != nil {
		return fmt.Errorf("add unanswered request on %s: %w", sender, err)
	}
	return nil
}

// removeRequests drops requester's pending request to answering.
func (s *friendshipService) removeRequests(ctx context.Context, answering, requester string) error {
	if err := s.friendListRepo.RemoveFromSet(ctx, answering, model.FieldOpen, requester); err != nil {
		return fmt.Errorf("remove open request on %s: %w", answering, err)
	}
	if err := s.friendListRepo.RemoveFromSet(ctx, requester, model.FieldUnanswered, answering); err != nil {
		return fmt.Errorf("remove unanswered request on %s: %w", requester, err)
	}
	return nil
}

func (s *friendshipService) addFriends(ctx context.Context, a, b string) error {
	if err := s.friendListRepo.AddToSet(ctx, b, model.FieldFriends, a); err != nil {
		return fmt.Errorf("add friend on %s: %w", b, err)
	}
	if err := s.friendListRepo.AddToSet(ctx, a, model.FieldFriends, b); err != nil {
		return fmt.Errorf("add friend on %s: %w", a, err)
	}
	return nil
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}
