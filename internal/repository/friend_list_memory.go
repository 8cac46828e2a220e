package repository

import (
	"context"
	"sync"

	"friendserver/internal/model"
)

type memoryFriendListRepository struct {
	mu    sync.Mutex
	lists map[string]*model.FriendList
}

// NewMemoryFriendListRepository returns a process-local store, used for
// development and tests.
func NewMemoryFriendListRepository() FriendListRepository {
	return &memoryFriendListRepository{
		lists: make(map[string]*model.FriendList),
	}
}

func (r *memoryFriendListRepository) Create(ctx context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lists[username]; !ok {
		r.lists[username] = model.NewFriendList(username)
	}
	return nil
}

func (r *memoryFriendListRepository) FindByUsername(ctx context.Context, username string) (*model.FriendList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.lists[username]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFriendList(list), nil
}

func (r *memoryFriendListRepository) AddToSet(ctx context.Context, username string, field model.Field, value string) error {
	return r.update(ctx, username, field, func(set []string) []string {
		for _, v := range set {
			if v == value {
				return set
			}
		}
		return append(set, value)
	})
}

func (r *memoryFriendListRepository) RemoveFromSet(ctx context.Context, username string, field model.Field, value string) error {
	return r.update(ctx, username, field, func(set []string) []string {
		out := set[:0]
		for _, v := range set {
			if v != value {
				out = append(out, v)
			}
		}
		return out
	})
}

func (r *memoryFriendListRepository) update(ctx context.Context, username string, field model.Field, fn func([]string) []string) error {
	if !field.Valid() {
		return ErrInvalidField
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.lists[username]
	if !ok {
		return ErrNotFound
	}
	switch field {
	case model.FieldFriends:
		list.Friends = fn(list.Friends)
	case model.FieldOpen:
		list.OpenFriendRequests = fn(list.OpenFriendRequests)
	case model.FieldUnanswered:
		list.UnansweredFriendRequests = fn(list.UnansweredFriendRequests)
	}
	return nil
}

func cloneFriendList(l *model.FriendList) *model.FriendList {
	return &model.FriendList{
		Username:                 l.Username,
		Friends:                  append([]string{}, l.Friends...),
		OpenFriendRequests:       append([]string{}, l.OpenFriendRequests...),
		UnansweredFriendRequests: append([]string{}, l.UnansweredFriendRequests...),
		CreatedAt:                l.CreatedAt,
	}
}
