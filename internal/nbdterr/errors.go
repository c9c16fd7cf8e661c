// Package nbdterr defines the error taxonomy shared across the Merkle-verified
// transport: every exported operation in geometry, merkletree, refsync, painter,
// shadow and channel returns an error that can be inspected with errors.As against
// *Error to recover its Kind without string matching.
package nbdterr

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure into one of the categories a caller
// is expected to branch on.
type Kind int

const (
	// InvalidArgument covers out-of-range indices/positions, wrong chunk
	// sizes, and malformed URLs.
	InvalidArgument Kind = iota + 1
	// Corrupt covers footer digest mismatches, size inconsistencies, and
	// magic/version mismatches.
	Corrupt
	// Io covers local filesystem or memory-mapping failures.
	Io
	// Transport covers HTTP errors, network failures, unexpected statuses,
	// and short bodies.
	Transport
	// ChunkVerificationFailed covers a computed hash that disagrees with
	// the reference hash after exhausting retries.
	ChunkVerificationFailed
	// ReferenceUnavailable covers an unreachable origin or a reference
	// file that repeatedly failed to load or validate.
	ReferenceUnavailable
	// ReferenceMissing covers a reference tree lacking a valid hash for a
	// requested leaf.
	ReferenceMissing
	// Cancelled covers an operation aborted by channel close.
	Cancelled
	// Unsupported covers write/lock/truncate attempts on a read-only
	// channel.
	Unsupported
	// NotVerified covers a read of a chunk that has not been
	// shadow-verified.
	NotVerified
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case Corrupt:
		return "corrupt"
	case Io:
		return "io"
	case Transport:
		return "transport"
	case ChunkVerificationFailed:
		return "chunk_verification_failed"
	case ReferenceUnavailable:
		return "reference_unavailable"
	case ReferenceMissing:
		return "reference_missing"
	case Cancelled:
		return "cancelled"
	case Unsupported:
		return "unsupported"
	case NotVerified:
		return "not_verified"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is the concrete error type returned by this module's packages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// ChunkIndex, Expected and Actual are populated only for
	// ChunkVerificationFailed errors.
	ChunkIndex int64
	Expected   []byte
	Actual     []byte
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// VerificationFailed builds a ChunkVerificationFailed error carrying both
// hashes for diagnostics.
func VerificationFailed(chunkIndex int64, expected, actual []byte) *Error {
	return &Error{
		Kind:       ChunkVerificationFailed,
		Message:    fmt.Sprintf("chunk %d failed verification", chunkIndex),
		ChunkIndex: chunkIndex,
		Expected:   append([]byte(nil), expected...),
		Actual:     append([]byte(nil), actual...),
	}
}

// KindOf returns the Kind carried by err, or 0 if err does not wrap *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
