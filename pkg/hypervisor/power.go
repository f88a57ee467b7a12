package hypervisor

// Host power defaults.
const (
	DefaultPowerStatePath = "/sys/power/state"
	DefaultSleepState     = "mem"
)
