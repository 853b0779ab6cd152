package stream

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// memoryProvider is the non-durable provider backed by an in-process
// watermill gochannel pub/sub: a connected subscriber receives every
// message published while it is connected, and nothing is retained once
// delivered (spec.md §4.5's non-durable stream class).
type memoryProvider struct {
	pubsub *gochannel.GoChannel
}

// NewMemoryProvider builds the non-durable stream provider.
func NewMemoryProvider(logger *slog.Logger) Provider {
	return &memoryProvider{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 1024,
		}, watermill.NewSlogLogger(logger)),
	}
}

func (p *memoryProvider) Publisher() message.Publisher { return p.pubsub }

// NewSubscriber ignores queueSuffix: gochannel already delivers to every
// distinct Subscribe call, which is exactly the per-node fan-out a named
// queue exists to simulate on a durable broker.
func (p *memoryProvider) NewSubscriber(queueSuffix string) (message.Subscriber, error) {
	return p.pubsub, nil
}

func (p *memoryProvider) Durable() bool { return false }

func (p *memoryProvider) Close() error { return p.pubsub.Close() }
