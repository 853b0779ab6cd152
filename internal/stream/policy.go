package stream

// BackpressurePolicy governs what happens when a subscriber's cell mailbox
// is saturated relative to MaxPending (spec.md §4.5).
type BackpressurePolicy int

const (
	// Block delivers a subscriber's messages one at a time, each waiting
	// for the subscriber's mailbox to run the handler before the next is
	// taken. Publish itself does not wait on subscribers.
	Block BackpressurePolicy = iota
	// DropOldest checks the subscription's in-flight delivery count
	// against MaxPending before each delivery, and acknowledges and drops
	// the arriving message when the count has reached MaxPending.
	// Deliveries run one at a time, so the count is zero at that check and
	// no message is dropped: a DropOldest subscription delivers like Block.
	DropOldest
)

func (p BackpressurePolicy) String() string {
	if p == DropOldest {
		return "DropOldest"
	}
	return "Block"
}
