// Package luerrors defines the typed error hierarchy Logical Units
// raise: a thin layer over fmt.Errorf("...: %w", err) wrapping that
// classifies each failure with a Kind that callers can test with Is. The
// processor (pkg/processor) does not branch on the kind: any error an
// opcode step returns fails the whole job.
package luerrors

import "fmt"

// Kind classifies why a Logical Unit step failed.
type Kind int

const (
	// KindPrereq means CheckPrereq rejected the opcode's inputs or the
	// current cluster state; Exec was never entered.
	KindPrereq Kind = iota
	// KindExec means Exec began mutating state and then failed.
	KindExec
	// KindHypervisor means a hypervisor-level operation failed (start,
	// shutdown, migrate).
	KindHypervisor
	// KindBlockDevice means a block-device layer operation failed
	// (Create/Assemble/Open/Grow/...).
	KindBlockDevice
	// KindRPC means the transport itself failed: timeout, TLS failure,
	// non-200, or the node was offline.
	KindRPC
	// KindRetryRequired means the operation is safe to retry as-is — a
	// transient condition such as a DRBD resync still in progress or a
	// lock-acquire timeout.
	KindRetryRequired
)

func (k Kind) String() string {
	switch k {
	case KindPrereq:
		return "prereq"
	case KindExec:
		return "exec"
	case KindHypervisor:
		return "hypervisor"
	case KindBlockDevice:
		return "blockdevice"
	case KindRPC:
		return "rpc"
	case KindRetryRequired:
		return "retry_required"
	default:
		return "unknown"
	}
}

// Error is the typed error every Logical Unit and lower layer should raise
// instead of a bare error, so the processor can classify failures without
// string matching.
type Error struct {
	Kind Kind
	Op   string // the opcode or procedure name, e.g. "OP_CREATE_INSTANCE"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error, wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Prereqf builds a KindPrereq error, the error CheckPrereq should return
// when opcode inputs or cluster state forbid the operation.
func Prereqf(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindPrereq, Op: op, Err: fmt.Errorf(format, args...)}
}

// Execf builds a KindExec error, raised once Exec has begun mutating
// state.
func Execf(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindExec, Op: op, Err: fmt.Errorf(format, args...)}
}

// Hypervisorf builds a KindHypervisor error.
func Hypervisorf(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindHypervisor, Op: op, Err: fmt.Errorf(format, args...)}
}

// BlockDevicef builds a KindBlockDevice error.
func BlockDevicef(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindBlockDevice, Op: op, Err: fmt.Errorf(format, args...)}
}

// RPCf builds a KindRPC error.
func RPCf(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindRPC, Op: op, Err: fmt.Errorf(format, args...)}
}

// RetryRequiredf builds a KindRetryRequired error.
func RetryRequiredf(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindRetryRequired, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err is a *Error of the given kind, unwrapping
// through fmt.Errorf("%w", ...) chains.
func Is(err error, kind Kind) bool {
	for err != nil {
		if le, ok := err.(*Error); ok {
			return le.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
