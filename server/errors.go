package server

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when a session is active.
	ErrAlreadyRunning = errors.New("login session already running")

	// ErrBind wraps listener bind failures; Start guarantees no partial
	// session is left running when it is returned.
	ErrBind = errors.New("failed to bind listener")
)
