package stream

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// amqpProvider is the durable provider: a topic exchange per stream,
// backed by watermill-amqp/v3, matching the teacher's own choice of AMQP
// for its im_message.events exchange.
type amqpProvider struct {
	uri       string
	publisher message.Publisher
	logger    watermill.LoggerAdapter
}

// NewAMQPProvider dials amqpURI once for the shared publisher; subscribers
// are built lazily per consumer by NewSubscriber.
func NewAMQPProvider(amqpURI string, logger *slog.Logger) (Provider, error) {
	wmLogger := watermill.NewSlogLogger(logger)
	pub, err := amqp.NewPublisher(amqp.NewDurablePubSubConfig(amqpURI, nil), wmLogger)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.Fatal, err, "stream: amqp publisher dial failed")
	}
	return &amqpProvider{uri: amqpURI, publisher: pub, logger: wmLogger}, nil
}

func (p *amqpProvider) Publisher() message.Publisher { return p.publisher }

// NewSubscriber binds a queue named after queueSuffix so each node's
// subscriber owns its own durable queue — a stream message is fanned out
// to every node rather than load-balanced across them, mirroring the
// teacher's `fmt.Sprintf("%s.%s", queue, nodeID)` per-node queue pattern.
func (p *amqpProvider) NewSubscriber(queueSuffix string) (message.Subscriber, error) {
	cfg := amqp.NewDurablePubSubConfig(p.uri, func(topic string) string {
		return topic + "." + queueSuffix
	})
	sub, err := amqp.NewSubscriber(cfg, p.logger)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.Fatal, err, "stream: amqp subscriber dial failed for %s", queueSuffix)
	}
	return sub, nil
}

func (p *amqpProvider) Durable() bool { return true }

func (p *amqpProvider) Close() error { return p.publisher.Close() }
