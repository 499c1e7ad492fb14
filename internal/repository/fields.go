package repository

import (
	"context"
	"fmt"

	"github.com/fathima-sithara/sortie-chat/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// userField builds the path of a per-user map entry such as
// unread_count.<id>. Ids that could change the path are refused.
func userField(field, userID string) (string, error) {
	if !models.ValidUserID(userID) {
		return "", fmt.Errorf("%w: user id %q", ErrInvalidID, userID)
	}
	return field + "." + userID, nil
}

// advanceLast moves the room's last message pointer to m when m sorts after
// the message it holds. Rooms already pointing at a newer message are left
// alone.
func advanceLast(ctx context.Context, coll *mongo.Collection, m *models.Message) error {
	filter := bson.M{
		"_id": m.RoomID,
		"$or": bson.A{
			bson.M{"last_message_id": bson.M{"$exists": false}},
			bson.M{"last_message_at": bson.M{"$exists": false}},
			bson.M{"last_message_at": bson.M{"$lt": m.CreatedAt}},
			bson.M{"last_message_at": m.CreatedAt, "last_message_id": bson.M{"$lt": m.ID}},
		},
	}
	_, err := coll.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{"last_message_id": m.ID, "last_message_at": m.CreatedAt},
	})
	return wrap(err)
}

func lastMessageUpdate(m *models.Message) bson.M {
	if m == nil {
		return bson.M{"$unset": bson.M{"last_message_id": "", "last_message_at": ""}}
	}
	return bson.M{"$set": bson.M{"last_message_id": m.ID, "last_message_at": m.CreatedAt}}
}
