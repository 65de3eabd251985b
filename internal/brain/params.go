package brain

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// LayerParams is a dense layer in row-major in×out order.
type LayerParams struct {
	In  int
	Out int
	W   []float64
	B   []float64
}

// Params is the serializable form of a Brain. Optimizer state is not kept.
type Params struct {
	ID         string
	ParentID   string
	Input      int
	Output     int
	Hyper      Hyper
	Generation uint64
	Policy     []LayerParams
	Value      []LayerParams
}

// Clone deep-copies the parameters under the read lock and, per element with
// probability rate, adds N(0, strength) noise. The copy records the generation
// it was taken from.
func (b *Brain) Clone(rate, strength float64, rng *rand.Rand) (*Brain, error) {
	if rate > 0 && rng == nil {
		return nil, fmt.Errorf("brain: clone with mutation needs an rng")
	}
	release, err := b.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	b.mu.RLock()
	if b.policy == nil {
		b.mu.RUnlock()
		return nil, ErrDisposed
	}
	policy, value := b.policy.copy(), b.value.copy()
	gen := b.gen.Load()
	b.mu.RUnlock()

	if rate > 0 {
		mutate(policy, rate, strength, rng)
		mutate(value, rate, strength, rng)
	}
	return &Brain{
		id:        uuid.NewString(),
		input:     b.input,
		output:    b.output,
		hyper:     b.Hyper(),
		policy:    policy,
		value:     value,
		parentID:  b.id,
		parentGen: gen,
	}, nil
}

func mutate(m *mlp, rate, strength float64, rng *rand.Rand) {
	perturb := func(xs []float64) {
		for i := range xs {
			if rng.Float64() < rate {
				xs[i] += rng.NormFloat64() * strength
			}
		}
	}
	for _, l := range m.layers {
		perturb(l.w.RawMatrix().Data)
		perturb(l.b)
	}
}

// Params snapshots the parameters under the read lock.
func (b *Brain) Params() (*Params, error) {
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
	return &Params{
		ID:         b.id,
		ParentID:   b.parentID,
		Input:      b.input,
		Output:     b.output,
		Hyper:      b.Hyper(),
		Generation: b.gen.Load(),
		Policy:     layerParams(b.policy),
		Value:      layerParams(b.value),
	}, nil
}

func layerParams(m *mlp) []LayerParams {
	out := make([]LayerParams, 0, len(m.layers))
	for _, l := range m.layers {
		in, o := l.w.Dims()
		out = append(out, LayerParams{
			In:  in,
			Out: o,
			W:   append([]float64(nil), l.w.RawMatrix().Data...),
			B:   append([]float64(nil), l.b...),
		})
	}
	return out
}

// FromParams rebuilds a Brain; layer chains must connect Input to Output (or 1 for value).
func FromParams(p *Params) (*Brain, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil params", ErrShapeMismatch)
	}
	policy, err := mlpFrom(p.Policy, p.Input, p.Output)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	value, err := mlpFrom(p.Value, p.Input, 1)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	b := &Brain{
		id:       id,
		input:    p.Input,
		output:   p.Output,
		hyper:    p.Hyper,
		policy:   policy,
		value:    value,
		parentID: p.ParentID,
	}
	b.hyper.Hidden = append([]int(nil), p.Hyper.Hidden...)
	b.gen.Store(p.Generation)
	return b, nil
}

func mlpFrom(ls []LayerParams, in, out int) (*mlp, error) {
	if len(ls) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrShapeMismatch)
	}
	m := &mlp{}
	prev := in
	for i, l := range ls {
		if l.In != prev || l.In <= 0 || l.Out <= 0 || len(l.W) != l.In*l.Out || len(l.B) != l.Out {
			return nil, fmt.Errorf("%w: layer %d is %dx%d with %d weights", ErrShapeMismatch, i, l.In, l.Out, len(l.W))
		}
		for _, v := range l.W {
			if !finite(v) {
				return nil, fmt.Errorf("%w: layer %d weights", ErrNumericInstability, i)
			}
		}
		m.layers = append(m.layers, newLayer(mat.NewDense(l.In, l.Out, append([]float64(nil), l.W...)), append([]float64(nil), l.B...)))
		prev = l.Out
	}
	if prev != out {
		return nil, fmt.Errorf("%w: output %d, want %d", ErrShapeMismatch, prev, out)
	}
	return m, nil
}
