package repository

import (
	"context"

	"github.com/fathima-sithara/sortie-chat/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoPollRepository struct {
	mongoBase
	coll *mongo.Collection
}

func (r *MongoPollRepository) InsertPoll(ctx context.Context, p *models.Poll) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	if p.Votes == nil {
		p.Votes = []models.Ballot{}
	}
	_, err := r.coll.InsertOne(ctx, p)
	return wrap(err)
}

func (r *MongoPollRepository) DeletePoll(ctx context.Context, id string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrap(err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoPollRepository) GetPoll(ctx context.Context, id string) (*models.Poll, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var p models.Poll
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, wrap(err)
	}
	return &p, nil
}

func (r *MongoPollRepository) ListPolls(ctx context.Context, chatID string, skip, limit int) ([]*models.Poll, int64, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	filter := bson.M{"chat_id": chatID}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, wrap(err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, wrap(err)
	}
	defer cur.Close(ctx)

	out := []*models.Poll{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, wrap(err)
	}
	return out, total, nil
}

func (r *MongoPollRepository) UpdatePoll(ctx context.Context, p *models.Poll, expected int64) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	p.Version = expected + 1
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": p.ID, "version": expected}, p)
	if err != nil {
		p.Version = expected
		return wrap(err)
	}
	if res.MatchedCount == 0 {
		p.Version = expected
		return ErrVersionConflict
	}
	return nil
}
