// Package replay holds per-agent episode buffers and the bounded cross-agent
// transition store used for batched training.
package replay

// Transition is one decision step. It is immutable once stored except for its priority.
type Transition struct {
	State     []float64
	Action    int
	Reward    float64
	NextState []float64 // nil at terminal
	Terminal  bool
	Owner     string

	LogProb         float64 // log pi_shared(a|s) at selection time
	PersonalLogProb float64 // log pi_personal(a|s) at selection time
	Value           float64 // V_shared(s) at selection time
	Generation      uint64  // shared brain generation LogProb and Value were read at

	Return    float64
	Advantage float64
	Priority  float64
}

// Episode is the ordered step log of one agent since its last terminal event.
// Not safe for concurrent use; each agent loop owns its episode.
type Episode struct {
	owner string
	steps []Transition
}

func NewEpisode(owner string) *Episode { return &Episode{owner: owner} }

func (e *Episode) Owner() string { return e.owner }
func (e *Episode) Len() int      { return len(e.steps) }

func (e *Episode) Append(t Transition) {
	t.Owner = e.owner
	if t.Terminal {
		t.NextState = nil
	}
	e.steps = append(e.steps, t)
}

// Last returns the most recent step.
func (e *Episode) Last() (Transition, bool) {
	if len(e.steps) == 0 {
		return Transition{}, false
	}
	return e.steps[len(e.steps)-1], true
}

// Returns computes G_t = r_t + gamma*(1-done_t)*G_{t+1} backwards. bootstrap stands in
// for G after the last step when that step is not terminal.
func (e *Episode) Returns(gamma, bootstrap float64) []float64 {
	out := make([]float64, len(e.steps))
	next := bootstrap
	for t := len(e.steps) - 1; t >= 0; t-- {
		s := e.steps[t]
		if s.Terminal {
			next = 0
		}
		out[t] = s.Reward + gamma*next
		next = out[t]
	}
	return out
}

// Advantages computes GAE:
//
//	delta_t = r_t + gamma*V(s_{t+1})*(1-done_t) - V(s_t)
//	A_t     = delta_t + gamma*lambda*(1-done_t)*A_{t+1}
//
// bootstrap is V(s_{L+1}) for a non-terminal tail.
func (e *Episode) Advantages(gamma, lambda, bootstrap float64) []float64 {
	out := make([]float64, len(e.steps))
	nextV, nextA := bootstrap, 0.0
	for t := len(e.steps) - 1; t >= 0; t-- {
		s := e.steps[t]
		notDone := 1.0
		if s.Terminal {
			notDone = 0
		}
		delta := s.Reward + gamma*nextV*notDone - s.Value
		out[t] = delta + gamma*lambda*notDone*nextA
		nextV, nextA = s.Value, out[t]
	}
	return out
}

// Drain fills in returns and advantages, hands the steps over and clears the buffer.
func (e *Episode) Drain(gamma, lambda, bootstrap float64) []Transition {
	rets := e.Returns(gamma, bootstrap)
	advs := e.Advantages(gamma, lambda, bootstrap)
	out := e.steps
	for i := range out {
		out[i].Return = rets[i]
		out[i].Advantage = advs[i]
	}
	e.steps = nil
	return out
}

// Steps returns a copy of the buffered steps.
func (e *Episode) Steps() []Transition { return append([]Transition(nil), e.steps...) }
