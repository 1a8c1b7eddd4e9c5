package contract

import (
	"errors"
	"strings"
)

var (
	// ErrRejected marks a transaction the ledger refused: the call reverted
	// during submission or the mined receipt carries a failure status.
	ErrRejected = errors.New("transaction rejected")

	// ErrNoTaskCreated is returned when a createTask receipt lacks a TaskCreated log.
	ErrNoTaskCreated = errors.New("receipt has no TaskCreated log")
)

// IsRejected reports whether err is a ledger-side rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

func isRevert(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}
