// Package errs defines the status taxonomy shared by every kernel
// subsystem and syscall boundary. There are no exceptions in this kernel:
// every fallible call returns one of these statuses, and callers either
// propagate it verbatim or translate it explicitly at a boundary.
package errs

// Status is a kernel-wide result code. The zero value is Ok.
type Status int

const (
	Ok Status = iota
	InvalidArgument
	TemporaryOutage
	PermanentOutage
	Unsupported
	NoSuchResource
	AlreadyInProgress
	Cancelled
	TooBig
	TooSmall
	InvalidChecksum
	ShouldRestart
	Forbidden
	ResourceUnavailable
	NoWait
	TimedOut
	Signalled
	Aborted
)

var names = [...]string{
	Ok:                  "ok",
	InvalidArgument:     "invalid-argument",
	TemporaryOutage:     "temporary-outage",
	PermanentOutage:     "permanent-outage",
	Unsupported:         "unsupported",
	NoSuchResource:      "no-such-resource",
	AlreadyInProgress:   "already-in-progress",
	Cancelled:           "cancelled",
	TooBig:              "too-big",
	TooSmall:            "too-small",
	InvalidChecksum:     "invalid-checksum",
	ShouldRestart:       "should-restart",
	Forbidden:           "forbidden",
	ResourceUnavailable: "resource-unavailable",
	NoWait:              "no-wait",
	TimedOut:            "timed-out",
	Signalled:           "signalled",
	Aborted:             "aborted",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(names) || names[s] == "" {
		return "status(unknown)"
	}
	return names[s]
}

// Error implements the error interface so a Status can be returned and
// compared anywhere Go code expects an error (errors.Is, fmt.Errorf %w),
// without losing its identity as a taxonomy member.
func (s Status) Error() string {
	return s.String()
}

// Ok reports whether the status represents success.
func (s Status) Ok() bool {
	return s == Ok
}

// AsStatus extracts a Status from err, if err is (or wraps) one.
func AsStatus(err error) (Status, bool) {
	if err == nil {
		return Ok, true
	}
	type statusLike interface {
		Error() string
	}
	if s, ok := err.(Status); ok {
		return s, true
	}
	var s Status
	if ok := asStatus(err, &s); ok {
		return s, true
	}
	return Aborted, false
}

func asStatus(err error, out *Status) bool {
	for err != nil {
		if s, ok := err.(Status); ok {
			*out = s
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
