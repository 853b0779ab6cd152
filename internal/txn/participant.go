package txn

import "context"

// Participant is implemented by the cell logic that enrolled in a
// transaction via a CreateOrJoin/Join operation. Execute-phase staging
// (the journal write + slot lock) happens inline in the cell's own
// operation before it calls Coordinator.Join — Participant only covers the
// two phases the coordinator itself drives.
type Participant interface {
	// Prepare validates there is no conflicting concurrent prepare on the
	// same slots and durably records "prepared" in the participant's own
	// transaction store. An error here votes abort.
	Prepare(ctx context.Context, tx TxId) error

	// Commit applies the journaled mutations to primary state and releases
	// the participant's locks. Called only after every participant
	// returned a successful Prepare.
	Commit(ctx context.Context, tx TxId) error

	// Abort discards the journal and releases locks. Called if any
	// participant's Prepare failed, timed out, or the coordinator itself
	// failed before reaching a commit decision.
	Abort(ctx context.Context, tx TxId) error
}
