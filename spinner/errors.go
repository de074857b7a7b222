/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spinner

import "errors"

var (
	ErrValidation         = errors.New("invalid input")
	ErrNotFound           = errors.New("room not found")
	ErrPersistence        = errors.New("failed to save spin result")
	ErrChannelUnavailable = errors.New("realtime connection unavailable")

	ErrNotAuthority = errors.New("only the room creator can spin the wheel")
	ErrBusy         = errors.New("a spin is already in progress")
	ErrComplete     = errors.New("all materials have been assigned")
	ErrNoNames      = errors.New("no names left on the wheel")
	ErrRefreshing   = errors.New("room state is being refreshed, try again")
	ErrClosed       = errors.New("coordinator is not running")
)
