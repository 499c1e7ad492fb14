package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoMessageRepository struct {
	mongoBase
	coll *mongo.Collection
}

var activeOnly = bson.M{"$ne": models.MessageDeleted}

func (r *MongoMessageRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var m models.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, wrap(err)
	}
	return &m, nil
}

func (r *MongoMessageRepository) ListMessages(ctx context.Context, roomID string, before *models.Message, limit int) ([]*models.Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	filter := bson.M{"room_id": roomID, "state": activeOnly}
	if before != nil {
		filter["$or"] = []bson.M{
			{"created_at": bson.M{"$lt": before.CreatedAt}},
			{"created_at": before.CreatedAt, "_id": bson.M{"$lt": before.ID}},
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrap(err)
	}
	defer cur.Close(ctx)

	out := []*models.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

func (r *MongoMessageRepository) CountMessages(ctx context.Context, roomID string) (int64, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	n, err := r.coll.CountDocuments(ctx, bson.M{"room_id": roomID, "state": activeOnly})
	return n, wrap(err)
}

func (r *MongoMessageRepository) LatestActive(ctx context.Context, roomID string) (*models.Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var m models.Message
	if err := r.coll.FindOne(ctx, bson.M{"room_id": roomID, "state": activeOnly}, opts).Decode(&m); err != nil {
		return nil, wrap(err)
	}
	return &m, nil
}

func (r *MongoMessageRepository) AddReader(ctx context.Context, messageID, userID string) error {
	return r.update(ctx, messageID, bson.M{"$addToSet": bson.M{"read_by": userID}})
}

func (r *MongoMessageRepository) MarkRead(ctx context.Context, messageID string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	// only the first read stamps read_at
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": messageID, "read": bson.M{"$ne": true}}, bson.M{
		"$set": bson.M{"read": true, "read_at": time.Now().UTC().Truncate(time.Millisecond)},
	})
	return wrap(err)
}

func (r *MongoMessageRepository) SoftDelete(ctx context.Context, messageID string) error {
	return r.update(ctx, messageID, bson.M{"$set": bson.M{
		"state":      models.MessageDeleted,
		"deleted_at": time.Now().UTC().Truncate(time.Millisecond),
	}})
}

func (r *MongoMessageRepository) update(ctx context.Context, id string, update bson.M) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return wrap(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
