package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/1ureka/meshcall/internal/broadcast"
	"github.com/1ureka/meshcall/internal/util"
)

// RedisBridge lets several relay instances serve one topic. Local publishes
// go to redis only; every instance, this one included, fans out what it
// receives from redis.
type RedisBridge struct {
	client *redis.Client
}

// NewRedisBridge wraps a connected redis client.
func NewRedisBridge(client *redis.Client) *RedisBridge {
	return &RedisBridge{client: client}
}

func (b *RedisBridge) publish(ctx context.Context, topic string, data []byte) error {
	return b.client.Publish(ctx, broadcast.ChannelName(topic), data).Err()
}

// run pattern-subscribes to every topic channel and hands each message to
// deliver until ctx is done.
func (b *RedisBridge) run(ctx context.Context, deliver func(topic string, data []byte)) error {
	pattern := broadcast.ChannelName("*")
	ps := b.client.PSubscribe(ctx, pattern)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	util.LogInfo("relay bridged through redis (%s)", pattern)

	prefix := broadcast.ChannelName("")
	msgs := ps.Channel()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			topic, found := strings.CutPrefix(msg.Channel, prefix)
			if !found {
				continue
			}
			deliver(topic, []byte(msg.Payload))
		case <-ctx.Done():
			return nil
		}
	}
}
