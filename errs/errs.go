// Package errs defines the closed set of error kinds the block-exchange
// core returns to callers.
package errs

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
)

// Sentinel kinds. Callers match with errors.Is; wrapped context travels
// alongside via fmt.Errorf("...: %w", kind).
var (
	// ErrBlockTooLarge is returned by Put when the payload exceeds the
	// store's configured MaxBlockSize.
	ErrBlockTooLarge = errors.New("block too large")

	// ErrCorruptBlock is returned on read when the stored bytes no
	// longer hash to the key they were filed under.
	ErrCorruptBlock = errors.New("corrupt block: digest mismatch")

	// ErrCancelled is returned when a cooperative cancellation signal
	// fires before an operation completes.
	ErrCancelled = errors.New("operation cancelled")

	// ErrAlreadyStarted is returned by a second Start on a running
	// engine facade.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrNotStarted is reported, wrapped in a RouterError, when the
	// facade has to dial a peer but no Swarm is configured.
	ErrNotStarted = errors.New("engine not started")
)

// NotFound reports a Store miss on a non-ignoring caller.
type NotFound struct {
	CID cid.Cid
}

func (e *NotFound) Error() string { return fmt.Sprintf("block not found: %s", e.CID) }

// IsNotFound reports whether err (or anything it wraps) is a NotFound.
func IsNotFound(err error) bool {
	var nf *NotFound
	return errors.As(err, &nf)
}

// Unsupported reports a feature the implementation deliberately does
// not provide (e.g. trickle layout, writes to a ChunkedReader).
type Unsupported struct {
	Feature string
}

func (e *Unsupported) Error() string { return fmt.Sprintf("unsupported: %s", e.Feature) }

// ProtocolError reports a malformed frame on a wire stream. It closes
// the offending stream but must never propagate beyond it.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %s", e.Reason) }

// RouterError wraps a failure from the external Router contract
// (FindProviders/Provide).
type RouterError struct {
	Op  string
	Err error
}

func (e *RouterError) Error() string { return fmt.Sprintf("router %s: %v", e.Op, e.Err) }
func (e *RouterError) Unwrap() error { return e.Err }

// IoError wraps an underlying disk/socket failure with the operation
// that triggered it.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("io error during %s: %v", e.Op, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }
