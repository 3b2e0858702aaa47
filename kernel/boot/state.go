package boot

import (
	"github.com/lukeenterprise/ktf/kernel"
	"github.com/lukeenterprise/ktf/kernel/kfmt"
)

// State identifies a step of the bring-up sequence. States are visited
// exactly once and in declaration order.
type State uint8

// The bring-up states.
const (
	StateStarted State = iota
	StateEnvironmentParsed
	StateDiagnosticsReady
	StateAddressSpaceCommitted
	StateStackSwitched
	StateTrapsInitialized
	StateTransferred
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateEnvironmentParsed:
		return "environment parsed"
	case StateDiagnosticsReady:
		return "diagnostics ready"
	case StateAddressSpaceCommitted:
		return "address space committed"
	case StateStackSwitched:
		return "stack switched"
	case StateTrapsInitialized:
		return "traps initialized"
	case StateTransferred:
		return "transferred"
	default:
		return "unknown"
	}
}

var (
	// state is the step the sequencer has last completed.
	state State

	// transitionHookFn, when set, observes every completed transition.
	transitionHookFn func(State)

	errStateSkipped = &kernel.Error{Module: "boot", Message: "bring-up state transition out of order"}
)

// advance moves the sequencer to next, which must directly follow the
// current state. Anything else means the sequence has been corrupted and
// halts the system.
func advance(next State) bool {
	if state == StateTransferred || next != state+1 {
		panicFn(errStateSkipped)
		return false
	}

	state = next
	if options.verbose {
		kfmt.Printf("[boot] state: %s\n", next.String())
	}

	if transitionHookFn != nil {
		transitionHookFn(next)
	}

	return true
}
