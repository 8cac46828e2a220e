package repository

import (
	"context"
	"errors"
	"fmt"

	"friendserver/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoFriendListRepository struct {
	collection *mongo.Collection
}

// NewMongoFriendListRepository stores one document per user in collectionName.
func NewMongoFriendListRepository(db *mongo.Database, collectionName string) FriendListRepository {
	return &mongoFriendListRepository{
		collection: db.Collection(collectionName),
	}
}

// EnsureMongoIndexes creates the unique username index the updates filter on.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database, collectionName string) error {
	_, err := db.Collection(collectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *mongoFriendListRepository) Create(ctx context.Context, username string) error {
	_, err := r.collection.InsertOne(ctx, model.NewFriendList(username))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *mongoFriendListRepository) FindByUsername(ctx context.Context, username string) (*model.FriendList, error) {
	var list model.FriendList
	err := r.collection.FindOne(ctx, bson.M{"username": username}).Decode(&list)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &list, nil
}

func (r *mongoFriendListRepository) AddToSet(ctx context.Context, username string, field model.Field, value string) error {
	return r.update(ctx, username, field, bson.M{"$addToSet": bson.M{string(field): value}})
}

func (r *mongoFriendListRepository) RemoveFromSet(ctx context.Context, username string, field model.Field, value string) error {
	return r.update(ctx, username, field, bson.M{"$pull": bson.M{string(field): value}})
}

func (r *mongoFriendListRepository) update(ctx context.Context, username string, field model.Field, update bson.M) error {
	if !field.Valid() {
		return ErrInvalidField
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"username": username}, update)
	if err != nil {
		return fmt.Errorf("update %s of %s: %w", field, username, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
