package serial

import "strconv"

// Status is the completion code a native handle passes to a write callback.
type Status uint32

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusIOBlock
	StatusNotOpen
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusIOBlock:
		return "io blocked"
	case StatusNotOpen:
		return "not open"
	default:
		return "status " + strconv.FormatUint(uint64(s), 10)
	}
}

// Handle is the native, event-driven serial device the Port sits in front of.
//
// Implementations deliver received bytes through the data callback and write
// completions through the done callback, both from goroutines they own. Write
// must not block on the transfer, and must call done exactly once. A Handle
// that is not open completes writes with StatusNotOpen, possibly before Write
// returns.
type Handle interface {
	Open() error
	Close() error
	Write(data []byte, done func(Status))
	SetDataCallback(fn func(data []byte))
}

// ErrorReporter is implemented by handles that report asynchronous receive
// failures, such as the device going away. The handle delivers no more data
// after reporting an error.
type ErrorReporter interface {
	SetErrorCallback(fn func(err error))
}
