package data

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// EventStream is the redis stream real-time consumers read from.
const EventStream = "radio.events"

// StreamPublisher pushes engine events onto the redis stream.
type StreamPublisher struct {
	rdb *redis.Client
}

func NewStreamPublisher(rdb *redis.Client) *StreamPublisher {
	return &StreamPublisher{rdb: rdb}
}

func (p *StreamPublisher) Publish(ctx context.Context, event string, fields map[string]interface{}) error {
	payload := map[string]interface{}{"event": event}
	for k, v := range fields {
		payload[k] = v
	}
	_, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: EventStream,
		MaxLen: 10000,
		Approx: true,
		Values: payload,
	}).Result()
	return err
}
