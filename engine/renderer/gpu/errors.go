package gpu

import "github.com/cockroachdb/errors"

// The two surfaced error classes of the core. Stale surfaces/swapchains are
// never errors; they are reported through boolean returns on acquire and
// present. Lifetime violations (double free, use after free) panic instead.
var (
	// ErrDevice wraps any device-object-creation or allocation failure.
	ErrDevice = errors.New("device error")

	// ErrInvalidArgument reports a request the device can never satisfy,
	// such as a zero-length buffer.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrImmutableBuffer reports a write to a buffer that is no longer
	// host-mappable.
	ErrImmutableBuffer = errors.New("buffer is not host-mappable")
)
