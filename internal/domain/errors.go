package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParam = errors.New("invalid param")
	ErrNullValue    = errors.New("required collaborator not wired")
	ErrNullListener = errors.New("listener is nil")

	ErrTransport      = errors.New("transport error")
	ErrOpenFailed     = fmt.Errorf("%w: open session failed", ErrTransport)
	ErrSendFailed     = fmt.Errorf("%w: send failed", ErrTransport)
	ErrSessionNotOpen = fmt.Errorf("%w: session not open", ErrTransport)

	ErrQueueFull        = errors.New("queue full")
	ErrStatus           = errors.New("operation invalid in current state")
	ErrListenerNotFound = errors.New("listener not found")
	ErrCallbackNull     = errors.New("event callback is nil")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrMalformed        = errors.New("malformed payload")
	ErrTimeout          = errors.New("timed out")

	ErrProviderUnavailable = errors.New("audio provider unavailable")
)
