package alarms

import "errors"

var (
	// ErrNotFound indicates a missing alarm record.
	ErrNotFound = errors.New("alarms: not found")
	// ErrProtected is returned when plain dismissal is refused for a
	// protected alarm that still carries a real challenge.
	ErrProtected = errors.New("alarms: protected alarm cannot be dismissed")
)
