package vdc

// allocationState is a step of the escalation used when carving descriptor sets runs a pool out of
// memory. Each out-of-pool failure moves to the next state until allocationFailed.
type allocationState int

const (
	// allocationTryExisting uses the first pool in the bucket with room, or a new one
	allocationTryExisting allocationState = iota
	// allocationTryDoubledExisting doubles the descriptor counts requested and selects again
	allocationTryDoubledExisting
	// allocationTryNewPool creates a fresh pool for the doubled request
	allocationTryNewPool
	allocationFailed
)

var allocationStateNames = map[allocationState]string{
	allocationTryExisting:        "TryExisting",
	allocationTryDoubledExisting: "TryDoubledExisting",
	allocationTryNewPool:         "TryNewPool",
	allocationFailed:             "Failed",
}

func (s allocationState) String() string {
	name, ok := allocationStateNames[s]
	if !ok {
		return "Unknown"
	}
	return name
}

func (s allocationState) next() allocationState {
	if s >= allocationFailed {
		return allocationFailed
	}
	return s + 1
}

// requestScale is how much the original request is multiplied by in this state. The doubled
// request carries over into allocationTryNewPool.
func (s allocationState) requestScale() int {
	if s == allocationTryDoubledExisting || s == allocationTryNewPool {
		return 2
	}
	return 1
}

func (s allocationState) forceNewPool() bool {
	return s == allocationTryNewPool
}
