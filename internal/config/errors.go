package config

import "errors"

var (
	ErrNoCredentials      = errors.New("no upstream credentials configured")
	ErrInvalidUpstreamURL = errors.New("invalid upstream url")
	ErrInvalidLimit       = errors.New("invalid limit")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrEnvFile            = errors.New("unreadable env file")
)
