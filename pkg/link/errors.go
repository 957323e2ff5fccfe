package link

import (
	"errors"
	"fmt"

	"avaneesh/ipixel-go/pkg/codec"
)

// ConnectErrorKind classifies connection failures
type ConnectErrorKind int

const (
	DeviceUnreachable ConnectErrorKind = iota
	ServiceNotFound
	ConnectTimeout
)

// String returns string representation of ConnectErrorKind
func (k ConnectErrorKind) String() string {
	switch k {
	case DeviceUnreachable:
		return "DeviceUnreachable"
	case ServiceNotFound:
		return "ServiceNotFound"
	case ConnectTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// ConnectError is returned by Session.Connect
type ConnectError struct {
	Kind    ConnectErrorKind
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect %s: %s", e.Address, e.Kind)
	}
	return fmt.Sprintf("connect %s: %s: %v", e.Address, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// WriteErrorKind classifies chunk delivery failures
type WriteErrorKind int

const (
	WriteTimeout WriteErrorKind = iota
	WriteRejected
	WriteLinkLost
)

// String returns string representation of WriteErrorKind
func (k WriteErrorKind) String() string {
	switch k {
	case WriteTimeout:
		return "Timeout"
	case WriteRejected:
		return "Rejected"
	case WriteLinkLost:
		return "LinkLost"
	default:
		return "Unknown"
	}
}

// WriteError is returned when a chunk was not acknowledged.
// Status is set for Rejected errors caused by a negative ack.
type WriteError struct {
	Kind   WriteErrorKind
	Index  uint16
	Status codec.AckStatus
	Err    error
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("chunk %d: %s", e.Index, e.Kind)
	if e.Kind == WriteRejected && e.Err == nil {
		msg += " (" + e.Status.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsLinkLost reports whether err is a WriteError of kind LinkLost
func IsLinkLost(err error) bool {
	var we *WriteError
	return errors.As(err, &we) && we.Kind == WriteLinkLost
}

// IsRejected reports whether err is a WriteError of kind Rejected
func IsRejected(err error) bool {
	var we *WriteError
	return errors.As(err, &we) && we.Kind == WriteRejected
}
