package ledger

import (
	"errors"
	"fmt"
)

// Error is any failure observed while talking to the ledger: transport
// faults, terminal transaction statuses, error query responses. The outgoing
// engine treats it as retryable.
type Error struct {
	Op     string
	Status string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != "" && e.Err != nil:
		return fmt.Sprintf("ledger %s: status %s: %v", e.Op, e.Status, e.Err)
	case e.Status != "":
		return fmt.Sprintf("ledger %s: status %s", e.Op, e.Status)
	default:
		return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsLedgerError reports whether err originated from the ledger adapter.
func IsLedgerError(err error) bool {
	var lerr *Error
	return errors.As(err, &lerr)
}
