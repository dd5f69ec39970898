package event

import "github.com/google/uuid"

// TxnTracker mints and tracks the process-generated transaction identifier
// attached to every event produced within one source transaction (spec §3).
// Not safe for concurrent use; each decode loop owns one tracker.
type TxnTracker struct {
	current string
	open    bool
}

// Begin mints a new transaction id and marks a transaction open.
func (t *TxnTracker) Begin() string {
	t.current = uuid.NewString()
	t.open = true
	return t.current
}

// Current returns the id for the in-flight transaction, minting one via an
// implicit BEGIN if a row event arrives outside any transaction (spec §3:
// "assigned at BEGIN, or at first row event outside a transaction").
func (t *TxnTracker) Current() string {
	if !t.open {
		return t.Begin()
	}
	return t.current
}

// End closes the current transaction; the next Current() call starts a new
// implicit one.
func (t *TxnTracker) End() {
	t.open = false
}

// IsOpen reports whether a transaction is currently tracked as open.
func (t *TxnTracker) IsOpen() bool {
	return t.open
}
