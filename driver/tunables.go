package driver

// Compiled-in queue defaults used when a queue count is left to "auto".
const (
	DefaultHighSpeedNicTx     = 16
	DefaultHighSpeedNicRx     = 8
	DefaultHighSpeedOffloadTx = 8
	DefaultHighSpeedOffloadRx = 2
	DefaultLowSpeedNicTx      = 4
	DefaultLowSpeedNicRx      = 2
	DefaultLowSpeedOffloadTx  = 2
	DefaultLowSpeedOffloadRx  = 1
	DefaultSubIfNicTx         = 1
	DefaultSubIfNicRx         = 1
	DefaultSubIfOffloadTx     = 1
	DefaultSubIfOffloadRx     = 1

	MinQueueSize       = 128
	DefaultRxQueueSize = 1024
)

// Auto asks the planner to pick the compiled-in default for a queue count.
const Auto = 0

// ResolveQueueCount turns a configured queue count into a concrete one. A
// positive value is used as is. Auto picks def, and a negative value -N picks
// N; both are then capped at cpus when cpus is positive.
func ResolveQueueCount(requested, cpus, def int) int {
	if requested > 0 {
		return requested
	}
	n := def
	if requested < 0 {
		n = -requested
	}
	if cpus > 0 && cpus < n {
		n = cpus
	}
	return n
}

// ValidQueueSize reports whether n descriptors is an acceptable rx queue
// size: at least MinQueueSize and a multiple of 8.
func ValidQueueSize(n int) bool {
	return n >= MinQueueSize && n%8 == 0
}
