package repository

import (
	"context"
	"errors"

	"friendserver/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for a username.
	ErrNotFound = errors.New("friend list not found")
	// ErrInvalidField is returned for a field outside model.Fields.
	ErrInvalidField = errors.New("invalid friend list field")
)

// FriendListRepository stores one FriendList per user. Every method is an
// atomic operation on a single record; there are no cross-record
// transactions. AddToSet and RemoveFromSet are idempotent and return
// ErrNotFound when the record does not exist.
type FriendListRepository interface {
	Create(ctx context.Context, username string) error
	FindByUsername(ctx context.Context, username string) (*model.FriendList, error)
	AddToSet(ctx context.Context, username string, field model.Field, value string) error
	RemoveFromSet(ctx context.Context, username string, field model.Field, value string) error
}
