package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"friendserver/internal/logger"
	"friendserver/internal/model"
	"friendserver/internal/util"

	"go.uber.org/zap"
)

const (
	friendListCachePrefix     = "friendlist:"
	friendListVersionPrefix   = "friendlistver:"
	friendListCacheExpiration = 15 * time.Minute
)

type cachedFriendListRepository struct {
	next  FriendListRepository
	redis *util.RedisClient
	ttl   time.Duration
}

// NewCachedFriendListRepository puts a read-through Redis cache in front of
// next. Mutations go to next first and then drop the cached record.
func NewCachedFriendListRepository(next FriendListRepository, redis *util.RedisClient, ttl time.Duration) FriendListRepository {
	if ttl <= 0 {
		ttl = friendListCacheExpiration
	}
	return &cachedFriendListRepository{
		next:  next,
		redis: redis,
		ttl:   ttl,
	}
}

func (r *cachedFriendListRepository) Create(ctx context.Context, username string) error {
	if err := r.next.Create(ctx, username); err != nil {
		return err
	}
	r.invalidate(ctx, username)
	return nil
}

func (r *cachedFriendListRepository) FindByUsername(ctx context.Context, username string) (*model.FriendList, error) {
	key := friendListCachePrefix + username
	if cached, err := r.redis.Get(ctx, key); err == nil {
		var list model.FriendList
		if err := json.Unmarshal([]byte(cached), &list); err == nil {
			return &list, nil
		}
	}

	// The version is read before the backing store so a write that lands
	// in between makes the fill below a no-op.
	version, versionErr := r.redis.Version(ctx, friendListVersionPrefix+username)

	list, err := r.next.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if versionErr != nil {
		logger.Log.Debug("friend list cache version read failed", zap.String("username", username), zap.Error(versionErr))
		return list, nil
	}
	err = r.redis.SetIfVersion(ctx, key, friendListVersionPrefix+username, version, list, r.ttl)
	switch {
	case errors.Is(err, util.ErrStaleWrite):
		logger.Log.Debug("skipped stale friend list cache fill", zap.String("username", username))
	case err != nil:
		logger.Log.Debug("friend list cache write failed", zap.String("username", username), zap.Error(err))
	}
	return list, nil
}

func (r *cachedFriendListRepository) AddToSet(ctx context.Context, username string, field model.Field, value string) error {
	err := r.next.AddToSet(ctx, username, field, value)
	r.invalidate(ctx, username)
	return err
}

func (r *cachedFriendListRepository) RemoveFromSet(ctx context.Context, username string, field model.Field, value string) error {
	err := r.next.RemoveFromSet(ctx, username, field, value)
	r.invalidate(ctx, username)
	return err
}

func (r *cachedFriendListRepository) invalidate(ctx context.Context, username string) {
	if err := r.redis.Invalidate(ctx, friendListCachePrefix+username, friendListVersionPrefix+username); err != nil {
		logger.Log.Warn("friend list cache invalidation failed", zap.String("username", username), zap.Error(err))
	}
}
