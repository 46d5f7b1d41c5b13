package fanout

import (
	"context"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Uriel-Ondo/agro/internal/logging"
)

// NewRedisBridge builds a Bridge over a Redis stream. The subscriber has no
// consumer group, so every instance reads every event.
func NewRedisBridge(ctx context.Context, addr string, stream string, local Deliverer) (*Bridge, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}

	marshaler := redisstream.DefaultMarshallerUnmarshaller{}
	logger := newWatermillLogger(logging.Component("watermill"))

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis publisher")
	}

	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:       client,
		Unmarshaller: marshaler,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis subscriber")
	}

	bridge := NewBridge(publisher, subscriber, stream, local)
	bridge.closers = append(bridge.closers, func() error {
		// the publisher may already have closed the shared client
		if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return errors.Wrap(err, "close redis client")
		}
		return nil
	})
	return bridge, nil
}
