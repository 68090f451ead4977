package domain

import "errors"

var (
	ErrVideoNotFound      = errors.New("video not found")
	ErrChannelNotFound    = errors.New("channel not found")
	ErrSegmentNotFound    = errors.New("segment not found")
	ErrNoAccount          = errors.New("no account for username")
	ErrWrongPassword      = errors.New("wrong password")
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrValidation         = errors.New("validation failed")
)
