// Package domain contains the values exchanged between devices: events, frames, parameters.
package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	MaxDeviceIDLen = 64
	MaxDhIDLen     = 36
)

var (
	ErrDeviceIDTooLong = fmt.Errorf("%w: device id too long", ErrInvalidParam)
	ErrDeviceIDEmpty   = fmt.Errorf("%w: device id empty", ErrInvalidParam)
	ErrDhIDInvalid     = errors.New("dh id must be 1-36 of [A-Za-z0-9_-]")
)

// DeviceID identifies a networked device (the "peer" of a session).
type DeviceID string

// NewDeviceID is used when the config does not pin an id.
func NewDeviceID() DeviceID {
	return DeviceID(uuid.NewString())
}

func (d DeviceID) Validate() error {
	if len(d) == 0 {
		return ErrDeviceIDEmpty
	}
	if len(d) > MaxDeviceIDLen {
		return ErrDeviceIDTooLong
	}
	return nil
}

func (d DeviceID) String() string { return string(d) }

// ValidateDhID checks a device handle id. Handle ids end up in channel and
// file names, so only [A-Za-z0-9_-] is accepted.
func ValidateDhID(dhID string) error {
	if len(dhID) == 0 || len(dhID) > MaxDhIDLen {
		return fmt.Errorf("%w: %w: %q", ErrInvalidParam, ErrDhIDInvalid, dhID)
	}
	for i := 0; i < len(dhID); i++ {
		switch c := dhID[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: %w: %q", ErrInvalidParam, ErrDhIDInvalid, dhID)
		}
	}
	return nil
}
