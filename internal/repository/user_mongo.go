package repository

import (
	"context"

	"github.com/fathima-sithara/sortie-chat/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoUserDirectory reads profiles from the users collection maintained by
// the user service. It never writes.
type MongoUserDirectory struct {
	mongoBase
	coll *mongo.Collection
}

func (d *MongoUserDirectory) Profiles(ctx context.Context, ids []string) (map[string]models.UserSummary, error) {
	out := make(map[string]models.UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	proj := options.Find().SetProjection(bson.M{"first_name": 1, "last_name": 1, "email": 1, "avatar": 1})
	cur, err := d.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, proj)
	if err != nil {
		return nil, wrap(err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var u models.UserSummary
		if err := cur.Decode(&u); err != nil {
			return nil, wrap(err)
		}
		out[u.ID] = u
	}
	return out, wrap(cur.Err())
}
