package kafka

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// roomFrame is a room broadcast shipped between instances.
type roomFrame struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Except string          `json:"except,omitempty"`
	Evict  string          `json:"evict,omitempty"`
	Frame  json.RawMessage `json:"frame,omitempty"`
}

// Receiver applies frames relayed from other instances.
type Receiver interface {
	DeliverRemote(room, except string, frame []byte)
	EvictRemote(room, userID string)
}

// RoomRelay forwards room broadcasts to every other instance. Each instance
// reads with its own consumer group so all of them see every frame.
type RoomRelay struct {
	instance string
	producer *Producer
	consumer *Consumer
	log      *zap.SugaredLogger
}

func NewRoomRelay(brokers []string, topic, groupPrefix, instanceID string, log *zap.SugaredLogger) *RoomRelay {
	return &RoomRelay{
		instance: instanceID,
		producer: NewProducer(brokers, topic, true),
		consumer: NewConsumer(brokers, topic, groupPrefix+"-relay-"+instanceID, log),
		log:      log,
	}
}

// Publish ships an encoded frame keyed by room so per-room order holds.
func (r *RoomRelay) Publish(ctx context.Context, room, except string, frame []byte) error {
	return r.producer.Publish(ctx, room, roomFrame{
		Origin: r.instance,
		Room:   room,
		Except: except,
		Frame:  frame,
	})
}

// PublishEvict asks the other instances to drop userID's sessions from room.
func (r *RoomRelay) PublishEvict(ctx context.Context, room, userID string) error {
	return r.producer.Publish(ctx, room, roomFrame{
		Origin: r.instance,
		Room:   room,
		Evict:  userID,
	})
}

// Run hands frames published by other instances to recv until ctx ends.
func (r *RoomRelay) Run(ctx context.Context, recv Receiver) error {
	return r.consumer.Start(ctx, func(_ context.Context, _, value []byte) error {
		return r.dispatch(recv, value)
	})
}

func (r *RoomRelay) dispatch(recv Receiver, value []byte) error {
	var f roomFrame
	if err := json.Unmarshal(value, &f); err != nil {
		return err
	}
	if f.Origin == r.instance {
		return nil
	}
	if f.Evict != "" {
		recv.EvictRemote(f.Room, f.Evict)
		return nil
	}
	recv.DeliverRemote(f.Room, f.Except, f.Frame)
	return nil
}

func (r *RoomRelay) Close() error {
	perr := r.producer.Close()
	if err := r.consumer.Close(); err != nil {
		return err
	}
	return perr
}
