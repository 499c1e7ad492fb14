package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collections names the collections used by the Mongo repositories.
type Collections struct {
	Chats          string
	Conversations  string
	Messages       string
	DirectMessages string
	Polls          string
	Users          string
	Participations string
}

type mongoBase struct {
	client  *mongo.Client
	timeout time.Duration
	useTx   bool
}

func (b *mongoBase) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, b.timeout)
}

// inTx runs fn inside a transaction when enabled. Standalone servers do not
// support transactions, so the writes then run sequentially.
func (b *mongoBase) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.useTx {
		return fn(ctx)
	}
	sess, err := b.client.StartSession()
	if err != nil {
		return wrap(err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// NewMongoStore builds every repository over db and ensures the indexes the
// uniqueness and ordering rules rely on.
func NewMongoStore(ctx context.Context, client *mongo.Client, db *mongo.Database, cols Collections, timeout time.Duration, useTx bool) (*Store, error) {
	base := mongoBase{client: client, timeout: timeout, useTx: useTx}

	chats := db.Collection(cols.Chats)
	convs := db.Collection(cols.Conversations)
	msgs := db.Collection(cols.Messages)
	direct := db.Collection(cols.DirectMessages)
	polls := db.Collection(cols.Polls)

	if err := ensureIndexes(ctx, timeout, map[*mongo.Collection][]mongo.IndexModel{
		chats: {
			{Keys: bson.D{{Key: "activity_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "members", Value: 1}}},
		},
		convs: {
			{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}}},
		},
		msgs: {
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		},
		direct: {
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		},
		polls: {
			{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}); err != nil {
		return nil, err
	}

	return &Store{
		Chats:          &MongoChatRepository{mongoBase: base, chats: chats, messages: msgs, polls: polls},
		Conversations:  &MongoConversationRepository{mongoBase: base, convs: convs, messages: direct},
		Messages:       &MongoMessageRepository{mongoBase: base, coll: msgs},
		Direct:         &MongoMessageRepository{mongoBase: base, coll: direct},
		Polls:          &MongoPollRepository{mongoBase: base, coll: polls},
		Users:          &MongoUserDirectory{mongoBase: base, coll: db.Collection(cols.Users)},
		Participations: &MongoParticipationDirectory{mongoBase: base, coll: db.Collection(cols.Participations)},
	}, nil
}

func ensureIndexes(ctx context.Context, timeout time.Duration, specs map[*mongo.Collection][]mongo.IndexModel) error {
	for coll, models := range specs {
		ictx, cancel := context.WithTimeout(ctx, timeout)
		_, err := coll.Indexes().CreateMany(ictx, models)
		cancel()
		if err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}
