package finality

// CircuitKind is the coarse position in the breaker's state machine.
type CircuitKind int

const (
	Running CircuitKind = iota
	Sync
	Halted
)

func (k CircuitKind) String() string {
	switch k {
	case Running:
		return "Running"
	case Sync:
		return "Sync"
	case Halted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// CircuitState is spec §4.8's `Running | Sync{attempt n} | Halted`. The
// attempt count only means something while Kind == Sync.
type CircuitState struct {
	Kind    CircuitKind
	Attempt int
}

func (s CircuitState) String() string {
	if s.Kind == Sync {
		return "Sync{" + itoa(s.Attempt) + "}"
	}
	return s.Kind.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CircuitInput is one of the deterministic, testable events that can
// drive the breaker: a finality failure (failure to justify within
// sync_timeout_secs, or a repeated MarkFinalized refusal from C8), a
// sync success, or an operator-issued reset.
type CircuitInput int

const (
	InputFinalityFailure CircuitInput = iota
	InputSyncSuccess
	InputOperatorReset
)

// Transition is the pure (state, input) -> state function spec §4.8
// diagrams. maxAttempts is MAX_SYNC_ATTEMPTS. Given the same sequence of
// inputs the breaker always arrives at the same state.
func Transition(state CircuitState, input CircuitInput, maxAttempts int) CircuitState {
	switch input {
	case InputOperatorReset:
		if state.Kind == Halted {
			return CircuitState{Kind: Running}
		}
		return state

	case InputSyncSuccess:
		if state.Kind == Sync {
			return CircuitState{Kind: Running}
		}
		return state

	case InputFinalityFailure:
		switch state.Kind {
		case Running:
			return CircuitState{Kind: Sync, Attempt: 1}
		case Sync:
			if state.Attempt >= maxAttempts {
				return CircuitState{Kind: Halted}
			}
			return CircuitState{Kind: Sync, Attempt: state.Attempt + 1}
		case Halted:
			// While Halted, AttestationBatch input is dropped before it
			// ever reaches Transition; a failure input reaching here
			// leaves the breaker as is.
			return state
		}
	}
	return state
}
