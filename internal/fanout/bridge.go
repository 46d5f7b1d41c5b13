// Package fanout relays router events between relay instances so a user
// connected to one instance receives events published on another.
package fanout

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Uriel-Ondo/agro/internal/logging"
	chatws "github.com/Uriel-Ondo/agro/internal/websocket"
)

const defaultQueueSize = 256

// Deliverer writes a relayed envelope to local subscribers only.
type Deliverer interface {
	DeliverLocal(envelope chatws.Envelope) int
}

type wireEnvelope struct {
	Origin   string          `json:"origin"`
	Envelope chatws.Envelope `json:"envelope"`
}

// Bridge publishes local envelopes to a topic and delivers envelopes from
// other instances to the local hub. Forward never blocks; envelopes that do
// not fit the queue are dropped, matching the router's best-effort contract.
type Bridge struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	origin     string
	local      Deliverer
	queue      chan chatws.Envelope
	ready      chan struct{}
	readyOnce  sync.Once
	closers    []func() error
	log        zerolog.Logger
}

func NewBridge(publisher message.Publisher, subscriber message.Subscriber, topic string, local Deliverer) *Bridge {
	return &Bridge{
		publisher:  publisher,
		subscriber: subscriber,
		topic:      topic,
		origin:     uuid.NewString(),
		local:      local,
		queue:      make(chan chatws.Envelope, defaultQueueSize),
		ready:      make(chan struct{}),
		log:        logging.Component("fanout"),
	}
}

func (b *Bridge) Origin() string {
	return b.origin
}

// Ready is closed once the bridge is subscribed to its topic.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bridge) Forward(envelope chatws.Envelope) {
	select {
	case b.queue <- envelope:
	default:
		b.log.Warn().Str("event", envelope.Event).Str("scope", envelope.Scope).Msg("fanout queue full, dropping event")
	}
}

// Run publishes and consumes until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	messages, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe to %s", b.topic)
	}
	b.readyOnce.Do(func() { close(b.ready) })
	b.log.Info().Str("topic", b.topic).Str("origin", b.origin).Msg("fanout bridge running")

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return b.publishLoop(ctx)
	})
	group.Go(func() error {
		return b.consume(ctx, messages)
	})
	return group.Wait()
}

func (b *Bridge) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case envelope := <-b.queue:
			if err := b.publish(envelope); err != nil {
				b.log.Error().Err(err).Str("event", envelope.Event).Msg("fanout publish failed")
			}
		}
	}
}

func (b *Bridge) publish(envelope chatws.Envelope) error {
	payload, err := json.Marshal(wireEnvelope{Origin: b.origin, Envelope: envelope})
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	return errors.Wrap(b.publisher.Publish(b.topic, msg), "publish envelope")
}

func (b *Bridge) consume(ctx context.Context, messages <-chan *message.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(msg)
			msg.Ack()
		}
	}
}

func (b *Bridge) handle(msg *message.Message) {
	var wire wireEnvelope
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		b.log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("discarding malformed fanout message")
		return
	}
	if wire.Origin == b.origin {
		return
	}
	b.local.DeliverLocal(wire.Envelope)
}

// Close releases the publisher, the subscriber and any clients the bridge
// was built with.
func (b *Bridge) Close() error {
	var errs []error
	if err := b.publisher.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close publisher"))
	}
	if err := b.subscriber.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close subscriber"))
	}
	for _, closer := range b.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
