package stream

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// Publisher publishes events onto one stream, JSON-encoding the payload
// the same way the teacher's eventDispatcher encodes outgoing AMQP events.
type Publisher struct {
	streamID string
	pub      message.Publisher
}

func newPublisher(streamID string, pub message.Publisher) *Publisher {
	return &Publisher{streamID: streamID, pub: pub}
}

// Publish encodes event as JSON and publishes it onto the stream's topic.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return titanerr.Wrap(titanerr.InvalidInput, err, "stream: %s: event encode failed", p.streamID)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.pub.Publish(p.streamID, msg); err != nil {
		return titanerr.Wrap(titanerr.Transient, err, "stream: %s: publish failed", p.streamID)
	}
	return nil
}
