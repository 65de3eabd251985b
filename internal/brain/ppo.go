package brain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Batch is one PPO minibatch. Weights are optional importance-sampling weights.
type Batch struct {
	States      [][]float64
	Actions     []int
	OldLogProbs []float64
	Advantages  []float64
	Returns     []float64
	Weights     []float64
}

func (b Batch) Len() int { return len(b.States) }

type TrainResult struct {
	ActorLoss    float64
	CriticLoss   float64
	Entropy      float64
	ApproxKL     float64
	ClipFraction float64
	GradNorm     float64

	Epochs        int // epochs whose update was applied
	DroppedEpochs int // epochs discarded for non-finite values
	Skipped       bool
	Generation    uint64
}

// TrainPPO runs epochs of clipped-surrogate policy updates and value regression
// on the batch. Advantages are expected to be standardized already.
// A malformed batch returns ErrShapeMismatch (or ErrNumericInstability) without
// touching parameters. An epoch producing non-finite losses or gradients is
// dropped and the remaining epochs still run.
func (b *Brain) TrainPPO(batch Batch, epochs int) (TrainResult, error) {
	if err := b.checkBatch(batch); err != nil {
		return TrainResult{Skipped: true}, err
	}
	if epochs <= 0 {
		epochs = 1
	}
	x, err := b.stack(batch.States)
	if err != nil {
		return TrainResult{Skipped: true}, err
	}
	release, err := b.Acquire()
	if err != nil {
		return TrainResult{Skipped: true}, err
	}
	defer release()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.policy == nil {
		return TrainResult{Skipped: true}, ErrDisposed
	}

	n := batch.Len()
	weights := batch.Weights
	h := b.hyper
	var res TrainResult

	for e := 0; e < epochs; e++ {
		pt := b.policy.forward(x)
		probs := softmaxRows(pt.out)
		vt := b.value.forward(x)

		rows := make([][]float64, n)
		newLogs := make([]float64, n)
		for i := range rows {
			rows[i] = probs.RawRowView(i)
			newLogs[i] = math.Log(math.Max(rows[i][batch.Actions[i]], probFloor))
		}

		var actor, entropy, kl, clipped, critic float64
		for i := 0; i < n; i++ {
			w := weight(weights, i)
			ratio := math.Exp(newLogs[i] - batch.OldLogProbs[i])
			a := batch.Advantages[i]
			cr := clamp(ratio, 1-h.ClipEpsilon, 1+h.ClipEpsilon)
			actor -= w * math.Min(ratio*a, cr*a)
			if ratio != cr {
				clipped++
			}
			entropy += entropyOf(rows[i])
			kl += batch.OldLogProbs[i] - newLogs[i]
			d := vt.out.At(i, 0) - batch.Returns[i]
			critic += w * d * d
		}
		bn := float64(n)
		actor = actor/bn - h.EntropyCoef*entropy/bn
		critic = h.ValueCoef * critic / bn

		dLogits := SurrogateGradient(rows, batch.Actions, batch.OldLogProbs, batch.Advantages, weights, h.ClipEpsilon)
		eg := EntropyGradient(rows, h.EntropyCoef)
		for i := range dLogits {
			for j := range dLogits[i] {
				dLogits[i][j] += eg[i][j]
			}
		}
		dV := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			dV.Set(i, 0, 2*h.ValueCoef*weight(weights, i)*(vt.out.At(i, 0)-batch.Returns[i])/bn)
		}

		pg := b.policy.backward(pt, denseOf(dLogits, b.output))
		vg := b.value.backward(vt, dV)
		if !finite(actor) || !finite(critic) || !pg.finite() || !vg.finite() {
			res.DroppedEpochs++
			continue
		}
		// policy and value norms are clipped independently
		res.GradNorm = clipGlobal([]grads{pg}, h.MaxGradNorm)
		clipGlobal([]grads{vg}, h.MaxGradNorm)
		b.policy.adam(pg, h.LearningRate)
		vlr := h.ValueLearningRate
		if vlr <= 0 {
			vlr = h.LearningRate
		}
		b.value.adam(vg, vlr)

		res.Epochs++
		res.ActorLoss = actor
		res.CriticLoss = critic
		res.Entropy = entropy / bn
		res.ApproxKL = kl / bn
		res.ClipFraction = clipped / bn
	}

	if res.Epochs == 0 {
		res.Skipped = true
		res.Generation = b.gen.Load()
		return res, fmt.Errorf("%w: all %d epochs dropped", ErrNumericInstability, epochs)
	}
	res.Generation = b.gen.Add(1)
	return res, nil
}

// SurrogateGradient is d(-mean(w*min(r*A, clip(r)*A)))/d(logits). Rows where the
// clipped branch is the minimum contribute nothing.
func SurrogateGradient(probs [][]float64, acts []int, oldLogProbs, adv, weights []float64, eps float64) [][]float64 {
	n := float64(len(probs))
	out := make([][]float64, len(probs))
	for i, p := range probs {
		out[i] = make([]float64, len(p))
		a := acts[i]
		ratio := math.Exp(math.Log(math.Max(p[a], probFloor)) - oldLogProbs[i])
		cr := clamp(ratio, 1-eps, 1+eps)
		A := adv[i]
		if ratio*A > cr*A {
			continue
		}
		g := weight(weights, i) * ratio * A / n
		if g == 0 {
			continue
		}
		for j := range p {
			ind := 0.0
			if j == a {
				ind = 1
			}
			out[i][j] = -g * (ind - p[j])
		}
	}
	return out
}

// EntropyGradient is d(-coef*mean(H))/d(logits).
func EntropyGradient(probs [][]float64, coef float64) [][]float64 {
	n := float64(len(probs))
	out := make([][]float64, len(probs))
	for i, p := range probs {
		out[i] = make([]float64, len(p))
		if coef == 0 {
			continue
		}
		h := entropyOf(p)
		for j, pj := range p {
			if pj <= 0 {
				continue
			}
			out[i][j] = coef * pj * (math.Log(pj) + h) / n
		}
	}
	return out
}

// StandardizeAdvantages rescales to zero mean and unit variance in place.
func StandardizeAdvantages(adv []float64) {
	if len(adv) == 0 {
		return
	}
	var mean float64
	for _, a := range adv {
		mean += a
	}
	mean /= float64(len(adv))
	var v float64
	for _, a := range adv {
		v += (a - mean) * (a - mean)
	}
	std := math.Sqrt(v/float64(len(adv)) + 1e-8)
	for i := range adv {
		adv[i] = (adv[i] - mean) / std
	}
}

func (b *Brain) checkBatch(batch Batch) error {
	n := batch.Len()
	if n == 0 || len(batch.Actions) != n || len(batch.OldLogProbs) != n ||
		len(batch.Advantages) != n || len(batch.Returns) != n {
		return fmt.Errorf("%w: states=%d actions=%d logps=%d adv=%d returns=%d", ErrShapeMismatch,
			n, len(batch.Actions), len(batch.OldLogProbs), len(batch.Advantages), len(batch.Returns))
	}
	if batch.Weights != nil && len(batch.Weights) != n {
		return fmt.Errorf("%w: weights=%d states=%d", ErrShapeMismatch, len(batch.Weights), n)
	}
	for i := 0; i < n; i++ {
		if a := batch.Actions[i]; a < 0 || a >= b.output {
			return fmt.Errorf("%w: action %d out of range", ErrShapeMismatch, a)
		}
		if !finite(batch.OldLogProbs[i]) || !finite(batch.Advantages[i]) || !finite(batch.Returns[i]) {
			return fmt.Errorf("%w: sample %d", ErrNumericInstability, i)
		}
		if batch.Weights != nil && !finite(batch.Weights[i]) {
			return fmt.Errorf("%w: weight %d", ErrNumericInstability, i)
		}
	}
	return nil
}

func denseOf(rows [][]float64, cols int) *mat.Dense {
	data := make([]float64, 0, len(rows)*cols)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data)
}

func entropyOf(p []float64) float64 {
	var h float64
	for _, x := range p {
		if x > 0 {
			h -= x * math.Log(x)
		}
	}
	return h
}

func weight(ws []float64, i int) float64 {
	if ws == nil {
		return 1
	}
	return ws[i]
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
