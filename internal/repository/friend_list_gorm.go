package repository

import (
	"context"
	"errors"
	"time"

	"friendserver/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FriendListRow marks that a user has a relationship record.
type FriendListRow struct {
	Username  string    `gorm:"primaryKey;size:64"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (FriendListRow) TableName() string {
	return "friend_lists"
}

// FriendListEntry is one member of one set of one record.
type FriendListEntry struct {
	Username  string    `gorm:"primaryKey;size:64"`
	Field     string    `gorm:"primaryKey;size:32"`
	Value     string    `gorm:"primaryKey;size:64;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (FriendListEntry) TableName() string {
	return "friend_list_entries"
}

type gormFriendListRepository struct {
	db *gorm.DB
}

func NewGormFriendListRepository(db *gorm.DB) FriendListRepository {
	return &gormFriendListRepository{db: db}
}

// MigrateGorm creates the friend list tables.
func MigrateGorm(db *gorm.DB) error {
	return db.AutoMigrate(&FriendListRow{}, &FriendListEntry{})
}

func (r *gormFriendListRepository) Create(ctx context.Context, username string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&FriendListRow{Username: username}).Error
}

func (r *gormFriendListRepository) FindByUsername(ctx context.Context, username string) (*model.FriendList, error) {
	db := r.db.WithContext(ctx)

	var row FriendListRow
	if err := db.Where("username = ?", username).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var entries []FriendListEntry
	if err := db.Where("username = ?", username).
		Order("created_at ASC, value ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	list := model.NewFriendList(username)
	list.CreatedAt = row.CreatedAt
	for _, e := range entries {
		switch model.Field(e.Field) {
		case model.FieldFriends:
			list.Friends = append(list.Friends, e.Value)
		case model.FieldOpen:
			list.OpenFriendRequests = append(list.OpenFriendRequests, e.Value)
		case model.FieldUnanswered:
			list.UnansweredFriendRequests = append(list.UnansweredFriendRequests, e.Value)
		}
	}
	return list, nil
}

func (r *gormFriendListRepository) AddToSet(ctx context.Context, username string, field model.Field, value string) error {
	if !field.Valid() {
		return ErrInvalidField
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRow(tx, username); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&FriendListEntry{
			Username: username,
			Field:    string(field),
			Value:    value,
		}).Error
	})
}

func (r *gormFriendListRepository) RemoveFromSet(ctx context.Context, username string, field model.Field, value string) error {
	if !field.Valid() {
		return ErrInvalidField
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRow(tx, username); err != nil {
			return err
		}
		return tx.Where("username = ? AND field = ? AND value = ?", username, string(field), value).
			Delete(&FriendListEntry{}).Error
	})
}

func requireRow(tx *gorm.DB, username string) error {
	var count int64
	if err := tx.Model(&FriendListRow{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
