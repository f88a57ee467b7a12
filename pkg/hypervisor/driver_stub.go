//go:build !linux

package hypervisor

// NewDriver returns an error on unsupported platforms.
func NewDriver(xlPath string) (Driver, error) {
	return nil, ErrUnsupportedPlatform
}

// NewHostPower returns an error on unsupported platforms.
func NewHostPower(statePath, state string) (HostPower, error) {
	return nil, ErrUnsupportedPlatform
}
