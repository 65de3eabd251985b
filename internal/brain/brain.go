// Package brain is the actor-critic function approximator pair: a softmax policy
// network and a scalar value network trained with clipped PPO.
package brain

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrShapeMismatch      = errors.New("brain: shape mismatch")
	ErrNumericInstability = errors.New("brain: numeric instability")
	ErrDisposed           = errors.New("brain: disposed")
)

type Hyper struct {
	Hidden            []int   `yaml:"hidden"`
	LearningRate      float64 `yaml:"learning_rate"`
	ValueLearningRate float64 `yaml:"value_learning_rate"`
	Gamma             float64 `yaml:"gamma"`
	Lambda            float64 `yaml:"lambda"`
	ClipEpsilon       float64 `yaml:"clip_epsilon"`
	EntropyCoef       float64 `yaml:"entropy_coef"`
	ValueCoef         float64 `yaml:"value_coef"`
	MaxGradNorm       float64 `yaml:"max_grad_norm"`
}

func DefaultHyper() Hyper {
	return Hyper{
		Hidden:            []int{64, 64},
		LearningRate:      3e-4,
		ValueLearningRate: 1e-3,
		Gamma:             0.99,
		Lambda:            0.95,
		ClipEpsilon:       0.2,
		EntropyCoef:       0.01,
		ValueCoef:         0.5,
		MaxGradNorm:       0.5,
	}
}

// Brain is safe for concurrent use: inference holds the read lock and training
// the write lock, so readers never see a half-applied update.
type Brain struct {
	id     string
	input  int
	output int
	hyper  Hyper

	mu     sync.RWMutex
	policy *mlp
	value  *mlp

	gen       atomic.Uint64
	parentID  string
	parentGen uint64

	refs      atomic.Int64
	disposing atomic.Bool
	disposed  atomic.Bool
}

// Decision is the result of one action selection.
type Decision struct {
	Action     int
	LogProb    float64
	Value      float64
	Probs      []float64
	Generation uint64
}

func New(input, output int, h Hyper, rng *rand.Rand) (*Brain, error) {
	if input <= 0 || output <= 1 {
		return nil, fmt.Errorf("%w: input=%d output=%d", ErrShapeMismatch, input, output)
	}
	if rng == nil {
		return nil, errors.New("brain: nil rng")
	}
	h.Hidden = append([]int(nil), h.Hidden...)
	ps := append(append([]int{input}, h.Hidden...), output)
	vs := append(append([]int{input}, h.Hidden...), 1)
	return &Brain{
		id:     uuid.NewString(),
		input:  input,
		output: output,
		hyper:  h,
		policy: newMLP(ps, 0.01, rng),
		value:  newMLP(vs, 1, rng),
	}, nil
}

func (b *Brain) ID() string       { return b.id }
func (b *Brain) InputSize() int   { return b.input }
func (b *Brain) OutputSize() int  { return b.output }
func (b *Brain) ParentID() string { return b.parentID }

func (b *Brain) Hyper() Hyper {
	h := b.hyper
	h.Hidden = append([]int(nil), h.Hidden...)
	return h
}

// Generation counts completed training updates.
func (b *Brain) Generation() uint64 { return b.gen.Load() }

// ParentGeneration is the parent's generation at clone time.
func (b *Brain) ParentGeneration() uint64 { return b.parentGen }

// SelectAction picks an action for state. Exploratory mode samples from the
// policy; otherwise the argmax is taken, lowest index winning ties.
func (b *Brain) SelectAction(state []float64, exploratory bool, rng *rand.Rand) (Decision, error) {
	if err := b.checkState(state); err != nil {
		return Decision{}, err
	}
	release, err := b.Acquire()
	if err != nil {
		return Decision{}, err
	}
	defer release()

	b.mu.RLock()
	if b.policy == nil {
		b.mu.RUnlock()
		return Decision{}, ErrDisposed
	}
	x := mat.NewDense(1, b.input, append([]float64(nil), state...))
	probs := softmaxRows(b.policy.forward(x).out).RawRowView(0)
	v := b.value.forward(x).out.At(0, 0)
	gen := b.gen.Load()
	b.mu.RUnlock()

	for _, p := range probs {
		if !finite(p) {
			return Decision{}, fmt.Errorf("%w: policy output", ErrNumericInstability)
		}
	}
	if !finite(v) {
		return Decision{}, fmt.Errorf("%w: value output", ErrNumericInstability)
	}

	a := Argmax(probs)
	if exploratory && rng != nil {
		a = Sample(probs, rng)
	}
	return Decision{
		Action:     a,
		LogProb:    math.Log(math.Max(probs[a], probFloor)),
		Value:      v,
		Probs:      append([]float64(nil), probs...),
		Generation: gen,
	}, nil
}

// Probabilities returns the policy distribution for state.
func (b *Brain) Probabilities(state []float64) ([]float64, error) {
	d, err := b.SelectAction(state, false, nil)
	if err != nil {
		return nil, err
	}
	return d.Probs, nil
}

func (b *Brain) EvaluateState(state []float64) (float64, error) {
	if err := b.checkState(state); err != nil {
		return 0, err
	}
	release, err := b.Acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.value == nil {
		return 0, ErrDisposed
	}
	v := b.value.forward(mat.NewDense(1, b.input, append([]float64(nil), state...))).out.At(0, 0)
	if !finite(v) {
		return 0, fmt.Errorf("%w: value output", ErrNumericInstability)
	}
	return v, nil
}

// EvaluateBatch returns value estimates for many states in one pass.
func (b *Brain) EvaluateBatch(states [][]float64) ([]float64, error) {
	if len(states) == 0 {
		return nil, nil
	}
	x, err := b.stack(states)
	if err != nil {
		return nil, err
	}
	release, err := b.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.value == nil {
		return nil, ErrDisposed
	}
	out := b.value.forward(x).out
	vs := make([]float64, len(states))
	for i := range vs {
		vs[i] = out.At(i, 0)
	}
	return vs, nil
}

// LogProbs returns log pi(a_i|s_i) for a batch.
func (b *Brain) LogProbs(states [][]float64, acts []int) ([]float64, error) {
	if len(states) != len(acts) {
		return nil, fmt.Errorf("%w: %d states, %d actions", ErrShapeMismatch, len(states), len(acts))
	}
	if len(states) == 0 {
		return nil, nil
	}
	x, err := b.stack(states)
	if err != nil {
		return nil, err
	}
	release, err := b.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.policy == nil {
		return nil, ErrDisposed
	}
	probs := softmaxRows(b.policy.forward(x).out)
	out := make([]float64, len(acts))
	for i, a := range acts {
		if a < 0 || a >= b.output {
			return nil, fmt.Errorf("%w: action %d", ErrShapeMismatch, a)
		}
		out[i] = math.Log(math.Max(probs.At(i, a), probFloor))
	}
	return out, nil
}

const probFloor = 1e-12

// Argmax returns the index of the largest entry, lowest index on ties.
func Argmax(xs []float64) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

// Sample draws an index from a categorical distribution.
func Sample(probs []float64, rng *rand.Rand) int {
	var total float64
	for _, p := range probs {
		total += p
	}
	u := rng.Float64() * total
	var acc float64
	for i, p := range probs {
		acc += p
		if u < acc {
			return i
		}
	}
	return len(probs) - 1
}

func (b *Brain) checkState(state []float64) error {
	if len(state) != b.input {
		return fmt.Errorf("%w: state has %d features, want %d", ErrShapeMismatch, len(state), b.input)
	}
	for _, x := range state {
		if !finite(x) {
			return fmt.Errorf("%w: non-finite state", ErrNumericInstability)
		}
	}
	return nil
}

func (b *Brain) stack(states [][]float64) (*mat.Dense, error) {
	data := make([]float64, 0, len(states)*b.input)
	for _, s := range states {
		if err := b.checkState(s); err != nil {
			return nil, err
		}
		data = append(data, s...)
	}
	return mat.NewDense(len(states), b.input, data), nil
}

// Acquire pins the brain so Dispose defers freeing until release is called.
func (b *Brain) Acquire() (release func(), err error) {
	b.refs.Add(1)
	if b.disposing.Load() {
		b.release()
		return nil, ErrDisposed
	}
	var once sync.Once
	return func() { once.Do(b.release) }, nil
}

func (b *Brain) release() {
	if b.refs.Add(-1) == 0 && b.disposing.Load() {
		b.free()
	}
}

// Dispose is idempotent. While references are held the free is deferred to the last release.
func (b *Brain) Dispose() {
	if b.disposing.Swap(true) {
		return
	}
	if b.refs.Load() == 0 {
		b.free()
	}
}

// Disposed reports whether parameters have actually been released.
func (b *Brain) Disposed() bool { return b.disposed.Load() }

func (b *Brain) free() {
	if !b.disposed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	b.policy, b.value = nil, nil
	b.mu.Unlock()
}
