package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoConversationRepository struct {
	mongoBase
	convs    *mongo.Collection
	messages *mongo.Collection
}

func (r *MongoConversationRepository) InsertConversation(ctx context.Context, c *models.Conversation) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	_, err := r.convs.InsertOne(ctx, c)
	return wrap(err)
}

func (r *MongoConversationRepository) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoConversationRepository) FindByPair(ctx context.Context, pairKey string) (*models.Conversation, error) {
	return r.findOne(ctx, bson.M{"pair_key": pairKey})
}

func (r *MongoConversationRepository) findOne(ctx context.Context, filter bson.M) (*models.Conversation, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var c models.Conversation
	if err := r.convs.FindOne(ctx, filter).Decode(&c); err != nil {
		return nil, wrap(err)
	}
	normalize(&c)
	return &c, nil
}

func (r *MongoConversationRepository) ListConversationsForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	cur, err := r.convs.Find(ctx, bson.M{"participants": userID},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, wrap(err)
	}
	defer cur.Close(ctx)

	out := []*models.Conversation{}
	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, wrap(err)
		}
		normalize(&c)
		out = append(out, &c)
	}
	return out, wrap(cur.Err())
}

func (r *MongoConversationRepository) AppendMessage(ctx context.Context, m *models.Message, recipient string) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	return r.inTx(ctx, func(ctx context.Context) error {
		if _, err := r.messages.InsertOne(ctx, m); err != nil {
			return wrap(err)
		}
		unread, err := userField("unread_count", recipient)
		if err != nil {
			return err
		}
		hidden, err := userField("deleted_by", recipient)
		if err != nil {
			return err
		}
		res, err := r.convs.UpdateOne(ctx, bson.M{"_id": m.RoomID}, bson.M{
			"$max":   bson.M{"updated_at": m.CreatedAt},
			"$inc":   bson.M{unread: 1},
			"$unset": bson.M{hidden: ""},
		})
		if err != nil {
			return wrap(err)
		}
		if res.MatchedCount == 0 {
			return ErrNotFound
		}
		return advanceLast(ctx, r.convs, m)
	})
}

func (r *MongoConversationRepository) SetLastMessage(ctx context.Context, conversationID string, m *models.Message) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	_, err := r.convs.UpdateOne(ctx, bson.M{"_id": conversationID}, lastMessageUpdate(m))
	return wrap(err)
}

func (r *MongoConversationRepository) MarkAllRead(ctx context.Context, conversationID, userID string) error {
	unread, err := userField("unread_count", userID)
	if err != nil {
		return err
	}
	readAt, err := userField("last_read_at", userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	return r.update(ctx, conversationID, bson.M{"$set": bson.M{unread: 0, readAt: now}})
}

func (r *MongoConversationRepository) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	return r.toggle(ctx, conversationID, "muted_by", userID, muted)
}

func (r *MongoConversationRepository) SetHidden(ctx context.Context, conversationID, userID string, hidden bool) error {
	return r.toggle(ctx, conversationID, "deleted_by", userID, hidden)
}

func (r *MongoConversationRepository) toggle(ctx context.Context, id, name, userID string, on bool) error {
	field, err := userField(name, userID)
	if err != nil {
		return err
	}
	if on {
		return r.update(ctx, id, bson.M{"$set": bson.M{field: true}})
	}
	return r.update(ctx, id, bson.M{"$unset": bson.M{field: ""}})
}

func (r *MongoConversationRepository) update(ctx context.Context, id string, update bson.M) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	res, err := r.convs.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return wrap(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func normalize(c *models.Conversation) {
	if c.UnreadCount == nil {
		c.UnreadCount = map[string]int{}
	}
	if c.MutedBy == nil {
		c.MutedBy = map[string]bool{}
	}
	if c.DeletedBy == nil {
		c.DeletedBy = map[string]bool{}
	}
	if c.LastReadAt == nil {
		c.LastReadAt = map[string]time.Time{}
	}
}
