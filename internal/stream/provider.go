// Package stream implements Titan's stream substrate (spec.md §4.5):
// publish/subscribe channels that cells use for cross-cell fan-out, with a
// non-durable in-process provider and a durable AMQP-backed one sharing
// the same Provider/Publisher/Subscription surface.
package stream

import "github.com/ThreeDotsLabs/watermill/message"

// Provider is the transport Titan's stream substrate runs on. It plays the
// role the teacher's infra/pubsub.Provider + infra/pubsub/factory.Factory
// pair played upstream — neither package was retrievable from the
// reference pack, so this is a from-scratch equivalent shaped the way the
// teacher's call sites (PublisherProvider.Build, SubscriberProvider.Build)
// expect: one shared Publisher per provider, and a Subscriber built per
// consumer under its own queue identity.
type Provider interface {
	// Publisher returns the provider's shared message.Publisher.
	Publisher() message.Publisher
	// NewSubscriber builds a Subscriber bound to queueSuffix, a
	// per-consumer identity. Durable providers use it to give every
	// consuming node its own queue, so a published message fans out to
	// all of them instead of being load-balanced across them — the same
	// effect the teacher gets from `fmt.Sprintf("%s.%s", queue, nodeID)`.
	NewSubscriber(queueSuffix string) (message.Subscriber, error)
	// Durable reports whether a message published while a subscriber is
	// disconnected is still delivered once it reconnects.
	Durable() bool
	Close() error
}
