// Package errors defines the worker's error taxonomy: sentinel errors
// usable with errors.Is, and a CodedError wrapper carrying category and
// retryability for structured logging.
package errors

import "errors"

// Sentinel errors. Compare with errors.Is, never string matching.
var (
	// ErrAbiEncode is returned when an argument cannot be ABI-encoded.
	ErrAbiEncode = errors.New("abi encode error")

	// ErrAbiDecode is returned when ABI return data is truncated,
	// carries an out-of-range offset, or contains non-UTF-8 string data.
	ErrAbiDecode = errors.New("abi decode error")

	// ErrHostUnavailable is returned when the host-runtime socket
	// cannot be dialed or the call could not be dispatched at all.
	ErrHostUnavailable = errors.New("host runtime unavailable")

	// ErrHostError wraps a JSON-RPC-shaped error returned by the host.
	ErrHostError = errors.New("host runtime error")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = errors.New("operation timeout")

	// ErrInsufficientData is returned when a dataset has fewer than
	// the minimum retained SNP records required for analysis.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInsufficientOverlap is returned when two datasets share fewer
	// than the minimum required common rsIDs.
	ErrInsufficientOverlap = errors.New("insufficient overlap")

	// ErrMalformedInput is returned when neither dataset yields a
	// single parseable record.
	ErrMalformedInput = errors.New("malformed input")

	// ErrContractStateRejection is returned when the contract rejects
	// a submission because the request is no longer pending; the
	// worker treats this as already processed, not a failure.
	ErrContractStateRejection = errors.New("contract state rejection")
)
