package hypervisor

import "errors"

// Runtime errors
var (
	ErrGuestNotFound = errors.New("hypervisor: guest not found")
	ErrCommandFailed = errors.New("hypervisor: toolstack command failed")
)

// Platform errors
var (
	ErrUnsupportedPlatform = errors.New("hypervisor: platform not supported")
	ErrToolstackMissing    = errors.New("hypervisor: xl toolstack not found")
)
