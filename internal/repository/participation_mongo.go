package repository

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoParticipationDirectory reads the activity service's participation
// records: {activity_id, user_id, status}.
type MongoParticipationDirectory struct {
	mongoBase
	coll *mongo.Collection
}

func (d *MongoParticipationDirectory) IsAccepted(ctx context.Context, activityID, userID string) (bool, error) {
	ctx, cancel := d.ctx(ctx)
	defer cancel()
	err := d.coll.FindOne(ctx, bson.M{
		"activity_id": activityID,
		"user_id":     userID,
		"status":      "accepted",
	}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	return true, nil
}
