package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoChatRepository struct {
	mongoBase
	chats    *mongo.Collection
	messages *mongo.Collection
	polls    *mongo.Collection
}

func (r *MongoChatRepository) CreateChat(ctx context.Context, c *models.ChatRoom) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	if c.Members == nil {
		c.Members = []string{}
	}
	_, err := r.chats.InsertOne(ctx, c)
	return wrap(err)
}

func (r *MongoChatRepository) GetChat(ctx context.Context, id string) (*models.ChatRoom, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoChatRepository) GetChatByActivity(ctx context.Context, activityID string) (*models.ChatRoom, error) {
	return r.findOne(ctx, bson.M{"activity_id": activityID})
}

func (r *MongoChatRepository) findOne(ctx context.Context, filter bson.M) (*models.ChatRoom, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var c models.ChatRoom
	if err := r.chats.FindOne(ctx, filter).Decode(&c); err != nil {
		return nil, wrap(err)
	}
	return &c, nil
}

func (r *MongoChatRepository) ListChatsForUser(ctx context.Context, userID string) ([]*models.ChatRoom, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	cur, err := r.chats.Find(ctx, bson.M{"members": userID},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, wrap(err)
	}
	defer cur.Close(ctx)

	out := []*models.ChatRoom{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

func (r *MongoChatRepository) AddMember(ctx context.Context, chatID, userID string) (bool, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.chats.UpdateOne(ctx, bson.M{"_id": chatID, "members": bson.M{"$ne": userID}}, bson.M{
		"$addToSet": bson.M{"members": userID},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return false, wrap(err)
	}
	if res.MatchedCount == 0 {
		// either missing or already a member
		if _, err := r.GetChat(ctx, chatID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *MongoChatRepository) RemoveMember(ctx context.Context, chatID, userID string) (bool, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.chats.UpdateOne(ctx, bson.M{"_id": chatID, "members": userID}, bson.M{
		"$pull": bson.M{"members": userID},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return false, wrap(err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.GetChat(ctx, chatID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *MongoChatRepository) AppendMessage(ctx context.Context, m *models.Message) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	return r.inTx(ctx, func(ctx context.Context) error {
		if _, err := r.messages.InsertOne(ctx, m); err != nil {
			return wrap(err)
		}
		res, err := r.chats.UpdateOne(ctx, bson.M{"_id": m.RoomID}, bson.M{
			"$max": bson.M{"updated_at": m.CreatedAt},
		})
		if err != nil {
			return wrap(err)
		}
		if res.MatchedCount == 0 {
			return ErrNotFound
		}
		return advanceLast(ctx, r.chats, m)
	})
}

func (r *MongoChatRepository) SetLastMessage(ctx context.Context, chatID string, m *models.Message) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	_, err := r.chats.UpdateOne(ctx, bson.M{"_id": chatID}, lastMessageUpdate(m))
	return wrap(err)
}

func (r *MongoChatRepository) DeleteChatCascade(ctx context.Context, chatID string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	return r.inTx(ctx, func(ctx context.Context) error {
		if _, err := r.messages.DeleteMany(ctx, bson.M{"room_id": chatID}); err != nil {
			return wrap(err)
		}
		if _, err := r.polls.DeleteMany(ctx, bson.M{"chat_id": chatID}); err != nil {
			return wrap(err)
		}
		res, err := r.chats.DeleteOne(ctx, bson.M{"_id": chatID})
		if err != nil {
			return wrap(err)
		}
		if res.DeletedCount == 0 {
			return ErrNotFound
		}
		return nil
	})
}
