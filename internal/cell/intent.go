package cell

// Intent annotates an operation's transactional relationship to an ambient
// transaction inherited from the caller (spec.md §4.2, §4.4). Runtime.Invoke
// takes no Intent and nothing in the runtime reads or enforces these values.
type Intent uint8

const (
	// NotTransactional operations never enroll in a transaction, even if
	// the caller is inside one.
	NotTransactional Intent = iota + 1
	// CreateOrJoin starts a new transaction if none is ambient, or joins
	// the caller's.
	CreateOrJoin
	// Join requires an ambient transaction and enrolls in it.
	Join
	// Suppress temporarily detaches from any ambient transaction for the
	// duration of the call — the call's effects are NOT part of the
	// caller's transaction even if one is active.
	Suppress
)
