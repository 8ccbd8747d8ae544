package entity

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrConnectionTimeout   = errors.New("connection timeout")
	ErrServerNotFound      = errors.New("server not found")
	ErrNoServerSelected    = errors.New("no server selected for this tool")
	ErrAlreadyCalled       = errors.New("tool already called")
	ErrInputNotFound       = errors.New("unable to send message to chat")
)

// ConnectionError is a failure to reach a tool server: bad scheme, network, timeout.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ToolError is a rejected or failed remote tool invocation.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ValidationError marks an item that failed schema checks. It is never fatal
// to the batch the item came from.
type ValidationError struct {
	Item string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %q: %v", e.Item, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DeliveryError means a result was computed but could not be written back
// into the chat.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver result: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
