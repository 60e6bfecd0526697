package handshake

import "fmt"

// Phase is the position of one attempt in the handshake.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingCallback
	PhaseExchanging
	PhaseFetchingProfile
	PhaseComplete
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:             "idle",
	PhaseAwaitingCallback: "awaiting_callback",
	PhaseExchanging:       "exchanging",
	PhaseFetchingProfile:  "fetching_profile",
	PhaseComplete:         "complete",
	PhaseFailed:           "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

var transitions = map[Phase][]Phase{
	PhaseIdle:             {PhaseAwaitingCallback},
	PhaseAwaitingCallback: {PhaseExchanging, PhaseFailed},
	PhaseExchanging:       {PhaseFetchingProfile, PhaseFailed},
	PhaseFetchingProfile:  {PhaseComplete, PhaseFailed},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionFunc observes phase changes of an attempt.
type TransitionFunc func(attemptID string, from, to Phase)

// attempt tracks one handshake attempt. It is never shared between
// goroutines.
type attempt struct {
	id       string
	phase    Phase
	observer TransitionFunc
}

func (a *attempt) transition(to Phase) {
	if !CanTransition(a.phase, to) {
		panic(fmt.Sprintf("handshake: illegal transition %s -> %s", a.phase, to))
	}
	from := a.phase
	a.phase = to
	if a.observer != nil {
		a.observer(a.id, from, to)
	}
}
