package brain

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// layer is a dense affine map; weights are in×out so a batch is X·W + b.
type layer struct {
	w *mat.Dense
	b []float64

	// Adam moments
	mw, vw *mat.Dense
	mb, vb []float64
}

func newLayer(w *mat.Dense, b []float64) *layer {
	in, out := w.Dims()
	return &layer{
		w:  w,
		b:  b,
		mw: mat.NewDense(in, out, nil),
		vw: mat.NewDense(in, out, nil),
		mb: make([]float64, out),
		vb: make([]float64, out),
	}
}

// mlp has tanh hidden layers and a linear output layer.
type mlp struct {
	layers []*layer
	step   int
}

// newMLP uses Glorot-uniform init; the output layer is shrunk by outScale.
func newMLP(sizes []int, outScale float64, rng *rand.Rand) *mlp {
	m := &mlp{}
	for i := 0; i+1 < len(sizes); i++ {
		in, out := sizes[i], sizes[i+1]
		limit := math.Sqrt(6 / float64(in+out))
		if i == len(sizes)-2 {
			limit *= outScale
		}
		data := make([]float64, in*out)
		for k := range data {
			data[k] = (rng.Float64()*2 - 1) * limit
		}
		m.layers = append(m.layers, newLayer(mat.NewDense(in, out, data), make([]float64, out)))
	}
	return m
}

// copy duplicates the parameters with fresh optimizer state.
func (m *mlp) copy() *mlp {
	c := &mlp{}
	for _, l := range m.layers {
		c.layers = append(c.layers, newLayer(mat.DenseCopyOf(l.w), append([]float64(nil), l.b...)))
	}
	return c
}

type trace struct {
	inputs []*mat.Dense // input of each layer
	out    *mat.Dense
}

func (m *mlp) forward(x *mat.Dense) trace {
	t := trace{inputs: make([]*mat.Dense, len(m.layers))}
	a := x
	last := len(m.layers) - 1
	for i, l := range m.layers {
		t.inputs[i] = a
		r, _ := a.Dims()
		_, c := l.w.Dims()
		z := mat.NewDense(r, c, nil)
		z.Mul(a, l.w)
		hidden := i < last
		b := l.b
		z.Apply(func(_, j int, v float64) float64 {
			v += b[j]
			if hidden {
				return math.Tanh(v)
			}
			return v
		}, z)
		a = z
	}
	t.out = a
	return t
}

type grads struct {
	w []*mat.Dense
	b [][]float64
}

// backward takes dL/d(output) and returns parameter gradients.
func (m *mlp) backward(t trace, dOut *mat.Dense) grads {
	n := len(m.layers)
	g := grads{w: make([]*mat.Dense, n), b: make([][]float64, n)}
	d := dOut
	for i := n - 1; i >= 0; i-- {
		l := m.layers[i]
		in := t.inputs[i]
		rows, cin := in.Dims()
		_, cout := l.w.Dims()

		gw := mat.NewDense(cin, cout, nil)
		gw.Mul(in.T(), d)
		gb := make([]float64, cout)
		for r := 0; r < rows; r++ {
			for j, v := range d.RawRowView(r) {
				gb[j] += v
			}
		}
		g.w[i], g.b[i] = gw, gb

		if i > 0 {
			prev := mat.NewDense(rows, cin, nil)
			prev.Mul(d, l.w.T())
			prev.Apply(func(r, c int, v float64) float64 {
				h := in.At(r, c)
				return v * (1 - h*h)
			}, prev)
			d = prev
		}
	}
	return g
}

func (g grads) normSq() float64 {
	var s float64
	for i := range g.w {
		for _, v := range g.w[i].RawMatrix().Data {
			s += v * v
		}
		for _, v := range g.b[i] {
			s += v * v
		}
	}
	return s
}

func (g grads) scale(f float64) {
	for i := range g.w {
		g.w[i].Scale(f, g.w[i])
		for j := range g.b[i] {
			g.b[i][j] *= f
		}
	}
}

func (g grads) finite() bool { return finite(g.normSq()) }

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

func (m *mlp) adam(g grads, lr float64) {
	m.step++
	c1 := 1 - math.Pow(adamBeta1, float64(m.step))
	c2 := 1 - math.Pow(adamBeta2, float64(m.step))
	upd := func(p, gr, mo, ve []float64) {
		for k := range p {
			mo[k] = adamBeta1*mo[k] + (1-adamBeta1)*gr[k]
			ve[k] = adamBeta2*ve[k] + (1-adamBeta2)*gr[k]*gr[k]
			p[k] -= lr * (mo[k] / c1) / (math.Sqrt(ve[k]/c2) + adamEps)
		}
	}
	for i, l := range m.layers {
		upd(l.w.RawMatrix().Data, g.w[i].RawMatrix().Data, l.mw.RawMatrix().Data, l.vw.RawMatrix().Data)
		upd(l.b, g.b[i], l.mb, l.vb)
	}
}

// clipGlobal rescales g so its global L2 norm is at most maxNorm. Returns the pre-clip norm.
func clipGlobal(gs []grads, maxNorm float64) float64 {
	var sq float64
	for _, g := range gs {
		sq += g.normSq()
	}
	norm := math.Sqrt(sq)
	if maxNorm > 0 && norm > maxNorm {
		for _, g := range gs {
			g.scale(maxNorm / norm)
		}
	}
	return norm
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func softmaxRows(logits *mat.Dense) *mat.Dense {
	r, c := logits.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := logits.RawRowView(i)
		dst := out.RawRowView(i)
		max := math.Inf(-1)
		for _, v := range row {
			if v > max {
				max = v
			}
		}
		var sum float64
		for j, v := range row {
			dst[j] = math.Exp(v - max)
			sum += dst[j]
		}
		for j := range dst {
			dst[j] /= sum
		}
	}
	return out
}
