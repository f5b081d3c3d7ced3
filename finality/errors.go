package finality

import "errors"

// ErrCircuitHalted is returned when an AttestationBatch arrives while the
// circuit breaker is Halted; the breaker drops input by design rather
// than processing it, to block livelock.
var ErrCircuitHalted = errors.New("finality: circuit breaker halted")

// ErrUnknownEpoch is returned when a request names an epoch the gadget
// has no checkpoint for.
var ErrUnknownEpoch = errors.New("finality: unknown epoch")
