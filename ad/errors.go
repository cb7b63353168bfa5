package ad

// Error kinds. A recording-time or replay-time failure is always one of
// these six sentinels, wrapped with call-site context via
// github.com/pkg/errors so that Cause(err) recovers the sentinel and the
// formatted message still carries a stack-free "what/where".

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrBadUsage is a contract violation: out-of-range indexed-vector
	// index, reverse before forward, mixing tapes, driving one Function
	// from two goroutines, and similar internal-invariant breaks. The
	// checks made through assertf run only while DebugChecks is set;
	// the others (argument checks of Forward, Reverse and friends)
	// always run.
	ErrBadUsage = stderrors.New("bad usage")

	// ErrBadOption is an unknown optimizer option token, or a numeric
	// option out of its accepted range.
	ErrBadOption = stderrors.New("bad option")

	// ErrCapacityExceeded means more distinct tape slots were recorded
	// than the chosen address width can represent.
	ErrCapacityExceeded = stderrors.New("capacity exceeded")

	// ErrCrossTape is returned when an operation mixes operands from
	// two different live tapes (including a variable escaped from
	// another goroutine's tape).
	ErrCrossTape = stderrors.New("operand belongs to a different tape")

	// ErrNumeric is returned by a forward sweep that finished with a
	// NaN/Inf while CheckForNaN is set.
	ErrNumeric = stderrors.New("numeric anomaly")

	// ErrAtomicFailed is returned when a registered atomic callback
	// reports failure; the Function remains usable for other calls.
	ErrAtomicFailed = stderrors.New("atomic callback failed")
)

// Kind unwraps err to the sentinel error kind it was wrapped from, or
// nil if err does not originate from this package's error taxonomy.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, ErrBadUsage):
		return ErrBadUsage
	case stderrors.Is(err, ErrBadOption):
		return ErrBadOption
	case stderrors.Is(err, ErrCapacityExceeded):
		return ErrCapacityExceeded
	case stderrors.Is(err, ErrCrossTape):
		return ErrCrossTape
	case stderrors.Is(err, ErrNumeric):
		return ErrNumeric
	case stderrors.Is(err, ErrAtomicFailed):
		return ErrAtomicFailed
	default:
		return nil
	}
}

// wrapf wraps one of the sentinel kinds above with a formatted
// call-site message, preserving it under errors.Is/errors.Cause.
func wrapf(kind error, format string, args ...interface{}) error {
	return errors.Wrap(kind, fmt.Sprintf(format, args...))
}

// DebugChecks gates the internal contract assertions that spec.md §7
// calls "raised immediately" in debug builds. Release-mode callers that
// have already validated their usage can turn this off to skip the
// extra bookkeeping (index bounds, tape-identity checks) on the hot
// sweep paths.
var DebugChecks = true

// assertf panics with an ErrBadUsage-wrapped message when cond is false
// and DebugChecks is enabled. It is a no-op otherwise, matching the
// "debug-only contract assertions" design note in spec.md §9.
func assertf(cond bool, format string, args ...interface{}) {
	if !DebugChecks || cond {
		return
	}
	panic(wrapf(ErrBadUsage, format, args...))
}
