package hypervisor

import "runtime"

// SupportedPlatform reports whether NewDriver and NewHostPower have a
// real implementation here. Elsewhere they return ErrUnsupportedPlatform.
func SupportedPlatform() bool {
	return runtime.GOOS == "linux"
}
