package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies queue engine failures so callers can map them to a
// response without inspecting messages.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindAlreadyQueued
	KindInvalidState
	KindInvalidStatus
	KindRefundFailed
	KindTransactionAborted
	KindDeviceError
	KindRateLimited
	KindInvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyQueued:
		return "already_queued"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidStatus:
		return "invalid_status"
	case KindRefundFailed:
		return "refund_failed"
	case KindTransactionAborted:
		return "transaction_aborted"
	case KindDeviceError:
		return "device_error"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is. A *QueueError matches the sentinel of its kind.
var (
	ErrNotFound           = &QueueError{Kind: KindNotFound}
	ErrAlreadyQueued      = &QueueError{Kind: KindAlreadyQueued}
	ErrInvalidState       = &QueueError{Kind: KindInvalidState}
	ErrInvalidStatus      = &QueueError{Kind: KindInvalidStatus}
	ErrRefundFailed       = &QueueError{Kind: KindRefundFailed}
	ErrTransactionAborted = &QueueError{Kind: KindTransactionAborted}
	ErrDeviceError        = &QueueError{Kind: KindDeviceError}
	ErrRateLimited        = &QueueError{Kind: KindRateLimited}
	ErrInvalidInput       = &QueueError{Kind: KindInvalidInput}
)

// QueueError wraps a failure with the operation and job it concerns.
type QueueError struct {
	Kind  ErrorKind
	Op    string
	JobID string
	Msg   string
	Err   error
}

func (e *QueueError) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.JobID != "" {
		msg = fmt.Sprintf("%s (job %s)", msg, e.JobID)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

func (e *QueueError) Is(target error) bool {
	t, ok := target.(*QueueError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.JobID == "" && t.Err == nil
}

func newError(kind ErrorKind, op, jobID, msg string, err error) *QueueError {
	return &QueueError{Kind: kind, Op: op, JobID: jobID, Msg: msg, Err: err}
}

// KindOf returns the kind of the first QueueError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var qe *QueueError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindInternal
}
