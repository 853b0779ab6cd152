package cell

import "github.com/titan-mmo/titan/internal/titanerr"

func errActivationStopped(id Identity) error {
	return titanerr.New(titanerr.Transient, "cell: %s is being passivated, retry", id)
}

func errActivationAborted(id Identity, cause error) error {
	return titanerr.Wrap(titanerr.Transient, cause, "cell: %s activation aborted", id)
}

func errTimeout(id Identity, cause error) error {
	return titanerr.Wrap(titanerr.Timeout, cause, "cell: call to %s exceeded its deadline", id)
}

func errReentrant(id Identity, op string) error {
	return titanerr.New(titanerr.Fatal, "cell: reentrant call into %s (operation %q is not interleavable)", id, op)
}
