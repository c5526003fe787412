package scan

import "errors"

var (
	// ErrMissingBaseline is returned when a predicate comparing against the
	// previous value is used before a previous value exists.
	ErrMissingBaseline = errors.New("predicate needs a previous value")

	// ErrInvalidRange is returned for a range whose low bound is greater
	// than its high bound.
	ErrInvalidRange = errors.New("invalid range")

	// ErrPatternLengthMismatch is returned when a byte pattern, its mask or
	// the value it is compared with have different lengths.
	ErrPatternLengthMismatch = errors.New("pattern length mismatch")

	// ErrInvalidPredicate is returned for predicates that can not be
	// applied to the scan type, like ordering comparisons of byte patterns.
	ErrInvalidPredicate = errors.New("invalid predicate")

	// ErrValueType is returned when a value does not match the scan type.
	ErrValueType = errors.New("invalid value for scan type")

	// ErrSessionStale is returned by a refine issued against a generation
	// that is not the current one, or against a reset session.
	ErrSessionStale = errors.New("scan session is stale")

	// ErrScanInProgress is returned when a scan is started while another
	// scan of the same session is running.
	ErrScanInProgress = errors.New("scan in progress")

	// ErrNotCandidate is returned when writing to an address that is not a
	// candidate of the session.
	ErrNotCandidate = errors.New("address is not a candidate")

	// ErrPointerWidth is returned for pointer sizes other than 4 and 8.
	ErrPointerWidth = errors.New("pointer width must be 4 or 8")
)
