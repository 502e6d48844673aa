package main

// exitCodeError carries the exact process exit code a command should
// report, used by `run` without --detach to propagate the box's own exit
// code (§6.1: "0 success, 1 on any error surfaced to the user, the box's
// own exit code for run without detach").
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string { return "" }

// exitCodeFor resolves the process exit code for a top-level command
// error: an *exitCodeError's code verbatim, 1 for any other error, 0 for
// nil (app.Run never calls this path on success).
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if ec, ok := err.(*exitCodeError); ok {
		return ec.code
	}
	return 1
}
