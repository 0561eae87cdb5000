package werror

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies the errors this module produces or propagates, per
// the error handling design: validation and partition-selection errors
// are always per-event, everything else is batch-wide.
type Kind int

const (
	// KindValidation surfaces a Validator rejection, per event.
	KindValidation Kind = iota
	// KindPartitionSelection surfaces a TargetSelector failure, per event.
	KindPartitionSelection
	// KindTransportExposure means the batch could not be exposed as a
	// bulk handle; batch-wide.
	KindTransportExposure
	// KindRPC means the send_batch/request_events RPC itself failed;
	// batch-wide.
	KindRPC
	// KindServerReported means the server replied with a non-success
	// result for the batch; batch-wide.
	KindServerReported
	// KindShutdown is benign: queues drain and stop, never abandoning a
	// promise unfulfilled.
	KindShutdown
)

// Error is a classified, framed error delivered through a Promise.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

// NewValidationError frames a Validator rejection.
func NewValidationError(err error) error {
	return &Error{Kind: KindValidation, err: Wrap(err)}
}

// NewPartitionSelectionError frames a TargetSelector failure.
func NewPartitionSelectionError(err error) error {
	return &Error{Kind: KindPartitionSelection, err: Wrap(err)}
}

// NewTransportExposureError frames a failure to expose a batch as a
// bulk handle.
func NewTransportExposureError(err error) error {
	return &Error{Kind: KindTransportExposure, err: Wrap(err)}
}

// NewRPCError frames a transport-level RPC failure. The wrapped error
// carries a gRPC status so callers can tell retryable conditions
// (Unavailable, Aborted) from permanent ones.
func NewRPCError(err error) error {
	if status.Code(err) == codes.Unknown {
		err = status.Error(codes.Unavailable, err.Error())
	}
	return &Error{Kind: KindRPC, err: Wrap(err)}
}

// NewServerReportedError frames a non-success Result returned by the
// server for an otherwise successful RPC.
func NewServerReportedError(message string) error {
	return &Error{Kind: KindServerReported, err: Wrap(status.Error(codes.FailedPrecondition, message))}
}

// ErrStreamRestarting is returned by a stream writer whose underlying
// stream is being torn down and restarted; callers should retry against
// the next writer.
var ErrStreamRestarting = status.Error(codes.Aborted, "stream is restarting")

// KindOf reports the Kind of err, or false if err was not produced by
// this package.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	for e := err; e != nil; {
		if k, ok := e.(*Error); ok {
			fe = k
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if fe == nil {
		return 0, false
	}
	return fe.Kind, true
}
