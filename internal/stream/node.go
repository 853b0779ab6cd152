package stream

import (
	"os"

	"github.com/ThreeDotsLabs/watermill"
)

// nodeID returns a per-process identity used to build this node's unique
// queue name against a durable provider, mirroring the teacher's
// os.Hostname()-with-fallback pattern from internal/handler/amqp/router.go.
func nodeID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return watermill.NewShortUUID()
}
