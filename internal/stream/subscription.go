package stream

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/titan-mmo/titan/internal/cell"
)

// Handler processes one delivered message's payload. Returning an error
// Nacks the message so the provider redelivers it; returning nil Acks it.
type Handler func(ctx context.Context, payload []byte) error

// Subscription is one consumer's live connection to a stream. When the
// subscriber is a cell, delivery runs through its own mailbox via
// cell.Runtime.Invoke so a stream handler observes the same per-identity
// serialization any other cell operation does (spec.md §4.5). Non-cell
// subscribers — C6's gateway connection groups, which fan events out to
// raw network connections rather than cell state — get a direct
// Subscription via SubscribeRaw instead, skipping mailbox dispatch and
// durable bookkeeping (there is no cell identity to bind either to).
type Subscription struct {
	manager    *Manager
	streamID   string
	subscriber cell.Identity
	direct     bool
	sub        message.Subscriber
	msgs       <-chan *message.Message
	policy     BackpressurePolicy
	maxPending int32
	handler    Handler

	pending atomic.Int32
	done    chan struct{}
}

func (s *Subscription) run() {
	defer close(s.done)
	for msg := range s.msgs {
		s.deliver(msg)
	}
}

func (s *Subscription) deliver(msg *message.Message) {
	if s.policy == DropOldest && s.maxPending > 0 && s.pending.Load() >= s.maxPending {
		s.manager.logger.Debug("STREAM_MESSAGE_DROPPED",
			slog.String("stream", s.streamID), slog.String("subscriber", s.label()))
		msg.Ack()
		return
	}

	s.pending.Add(1)
	ctx := msg.Context()
	var err error
	if s.direct {
		err = s.handler(ctx, msg.Payload)
	} else {
		_, err = s.manager.runtime.Invoke(ctx, s.subscriber, "stream:"+s.streamID, func(ctx context.Context, self cell.Cell) (any, error) {
			return nil, s.handler(ctx, msg.Payload)
		})
	}
	s.pending.Add(-1)

	if err != nil {
		s.manager.logger.Warn("STREAM_HANDLER_FAILED",
			slog.String("stream", s.streamID), slog.String("subscriber", s.label()), slog.Any("err", err))
		msg.Nack()
		return
	}
	msg.Ack()
}

func (s *Subscription) label() string {
	if s.direct {
		return "raw"
	}
	return s.subscriber.String()
}

// Unsubscribe tears down the underlying provider subscriber. For a
// cell-bound subscription it also clears the stream from the subscriber's
// durable bookkeeping record.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	if err := s.sub.Close(); err != nil {
		return err
	}
	<-s.done
	if s.direct {
		return nil
	}
	return s.manager.recordBookkeeping(ctx, s.subscriber, s.streamID, false)
}
